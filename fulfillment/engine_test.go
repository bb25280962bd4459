package fulfillment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"gamestore-svc/models"

	"go.uber.org/zap/zaptest"
)

// Fake catalog backed by a map of active games.
type fakeCatalog struct {
	games      map[int]models.Game
	salesCalls map[int]int
	salesErr   error
}

func (f *fakeCatalog) FindActiveByIDs(ctx context.Context, ids []int) ([]models.Game, error) {
	var found []models.Game
	seen := map[int]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if g, ok := f.games[id]; ok {
			found = append(found, g)
		}
	}
	return found, nil
}

func (f *fakeCatalog) IncrementSales(ctx context.Context, gameID, amount int) error {
	if f.salesErr != nil {
		return f.salesErr
	}
	if f.salesCalls == nil {
		f.salesCalls = map[int]int{}
	}
	f.salesCalls[gameID] += amount
	return nil
}

// Fake accounts with an in-memory library keyed like the real table.
type fakeAccounts struct {
	library  map[string]bool
	grantErr error
}

func libraryKey(userID, gameID int) string {
	return fmt.Sprintf("%d:%d", userID, gameID)
}

func (f *fakeAccounts) OwnedGameIDs(ctx context.Context, userID int, gameIDs []int) ([]int, error) {
	var owned []int
	for _, id := range gameIDs {
		if f.library[libraryKey(userID, id)] {
			owned = append(owned, id)
		}
	}
	return owned, nil
}

func (f *fakeAccounts) AppendLibraryEntry(ctx context.Context, userID, gameID int, purchaseDate time.Time, pricePaid float64) error {
	if f.grantErr != nil {
		return f.grantErr
	}
	if f.library == nil {
		f.library = map[string]bool{}
	}
	// Duplicate grants collapse onto the existing entry
	f.library[libraryKey(userID, gameID)] = true
	return nil
}

// Fake ledger storing orders in memory and assigning ids on insert.
type fakeLedger struct {
	orders  map[int]*models.Order
	nextID  int
	updates int
}

func (f *fakeLedger) Insert(ctx context.Context, order *models.Order) error {
	if f.orders == nil {
		f.orders = map[int]*models.Order{}
	}
	f.nextID++
	order.ID = f.nextID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	stored := *order
	f.orders[order.ID] = &stored
	return nil
}

func (f *fakeLedger) Update(ctx context.Context, order *models.Order) error {
	if _, ok := f.orders[order.ID]; !ok {
		return sql.ErrNoRows
	}
	f.updates++
	stored := *order
	f.orders[order.ID] = &stored
	return nil
}

func (f *fakeLedger) FindByID(ctx context.Context, id int) (*models.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *order
	return &copied, nil
}

// Fake processor with a scriptable outcome.
type fakeProcessor struct {
	approved  bool
	chargeErr error
	charged   float64
}

func (f *fakeProcessor) Charge(ctx context.Context, method models.PaymentMethod, amount float64) (*Transaction, error) {
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	f.charged = amount
	if !f.approved {
		return &Transaction{Approved: false, Processor: string(method)}, nil
	}
	return &Transaction{
		ID:        "txn_test",
		Processor: string(method),
		Last4:     "1234",
		CardType:  "visa",
		Approved:  true,
	}, nil
}

// Fake sink recording published event types.
type fakeSink struct {
	events []models.OrderEvent
}

func (f *fakeSink) Publish(ctx context.Context, event models.OrderEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSink) eventTypes() []string {
	var types []string
	for _, e := range f.events {
		types = append(types, e.EventType)
	}
	return types
}

func testEngine(t *testing.T, catalog *fakeCatalog, accounts *fakeAccounts, ledger *fakeLedger, processor *fakeProcessor, sink *fakeSink) *Engine {
	t.Helper()
	engine := NewEngine(catalog, accounts, ledger, processor, sink, zaptest.NewLogger(t))
	engine.taxRate = models.DefaultTaxRate
	return engine
}

func validRequest(items ...models.OrderItemRequest) models.CreateOrderRequest {
	return models.CreateOrderRequest{
		Items:         items,
		PaymentMethod: models.PaymentMethodCreditCard,
		BillingAddress: models.BillingAddress{
			FirstName: "Ada",
			LastName:  "Lovelace",
			Email:     "ada@example.com",
			Address1:  "1 Analytical Way",
			City:      "London",
			Country:   "GB",
		},
	}
}

func TestEngine_CreateOrder_Success(t *testing.T) {
	catalog := &fakeCatalog{games: map[int]models.Game{
		1: {ID: 1, Title: "Starfall", Price: 59.99, OriginalPrice: 59.99},
	}}
	accounts := &fakeAccounts{}
	ledger := &fakeLedger{}
	processor := &fakeProcessor{approved: true}
	sink := &fakeSink{}
	engine := testEngine(t, catalog, accounts, ledger, processor, sink)

	order, err := engine.CreateOrder(context.Background(), 42, validRequest(
		models.OrderItemRequest{GameID: 1, Quantity: 1},
	))
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	if order.Status != models.OrderStatusCompleted {
		t.Errorf("Expected status completed, got %s", order.Status)
	}
	if order.Subtotal != 59.99 || order.Tax != 4.80 || order.Total != 64.79 {
		t.Errorf("Unexpected totals: subtotal=%v tax=%v total=%v", order.Subtotal, order.Tax, order.Total)
	}
	if processor.charged != 64.79 {
		t.Errorf("Expected processor charged 64.79, got %v", processor.charged)
	}
	if order.PaymentDetails.TransactionID != "txn_test" {
		t.Errorf("Expected transaction id recorded, got %q", order.PaymentDetails.TransactionID)
	}
	if len(order.Items) != 1 || order.Items[0].Title != "Starfall" || order.Items[0].Price != 59.99 {
		t.Errorf("Expected snapshotted line item, got %+v", order.Items)
	}
	if !accounts.library[libraryKey(42, 1)] {
		t.Error("Expected library entry granted")
	}
	if catalog.salesCalls[1] != 1 {
		t.Errorf("Expected sales incremented by 1, got %d", catalog.salesCalls[1])
	}

	want := []string{"order_created", "order_completed"}
	got := sink.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected event %q at %d, got %q", want[i], i, got[i])
		}
	}
}

func TestEngine_CreateOrder_SnapshotSurvivesCatalogEdit(t *testing.T) {
	catalog := &fakeCatalog{games: map[int]models.Game{
		1: {ID: 1, Title: "Starfall", Price: 59.99},
	}}
	ledger := &fakeLedger{}
	engine := testEngine(t, catalog, &fakeAccounts{}, ledger, &fakeProcessor{approved: true}, &fakeSink{})

	order, err := engine.CreateOrder(context.Background(), 42, validRequest(
		models.OrderItemRequest{GameID: 1, Quantity: 1},
	))
	if err != nil {
		t.Fatalf("CreateOrder returned error: %v", err)
	}

	// A later price change must not affect the stored order
	catalog.games[1] = models.Game{ID: 1, Title: "Starfall", Price: 19.99}

	stored, err := ledger.FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if stored.Items[0].Price != 59.99 {
		t.Errorf("Expected snapshotted price 59.99, got %v", stored.Items[0].Price)
	}
	if stored.Total != 64.79 {
		t.Errorf("Expected total 64.79, got %v", stored.Total)
	}
}

func TestEngine_CreateOrder_AlreadyOwned(t *testing.T) {
	catalog := &fakeCatalog{games: map[int]models.Game{
		1: {ID: 1, Title: "Starfall", Price: 59.99},
		2: {ID: 2, Title: "Moonrise", Price: 19.99},
	}}
	accounts := &fakeAccounts{library: map[string]bool{libraryKey(42, 2): true}}
	ledger := &fakeLedger{}
	engine := testEngine(t, catalog, accounts, ledger, &fakeProcessor{approved: true}, &fakeSink{})

	_, err := engine.CreateOrder(context.Background(), 42, validRequest(
		models.OrderItemRequest{GameID: 1, Quantity: 1},
		models.OrderItemRequest{GameID: 2, Quantity: 1},
	))
	if err == nil {
		t.Fatal("Expected error for already-owned game")
	}
	if ErrKind(err) != KindAlreadyOwned {
		t.Errorf("Expected kind %s, got %s", KindAlreadyOwned, ErrKind(err))
	}

	var bizErr *Error
	if !errors.As(err, &bizErr) {
		t.Fatal("Expected *Error")
	}
	if len(bizErr.OwnedGameIDs) != 1 || bizErr.OwnedGameIDs[0] != 2 {
		t.Errorf("Expected owned game ids [2], got %v", bizErr.OwnedGameIDs)
	}
	if len(ledger.orders) != 0 {
		t.Error("Expected no order persisted")
	}
}

func TestEngine_CreateOrder_InvalidReference(t *testing.T) {
	catalog := &fakeCatalog{games: map[int]models.Game{
		1: {ID: 1, Title: "Starfall", Price: 59.99},
	}}
	engine := testEngine(t, catalog, &fakeAccounts{}, &fakeLedger{}, &fakeProcessor{approved: true}, &fakeSink{})

	_, err := engine.CreateOrder(context.Background(), 42, validRequest(
		models.OrderItemRequest{GameID: 1, Quantity: 1},
		models.OrderItemRequest{GameID: 999, Quantity: 1},
	))
	if ErrKind(err) != KindInvalidReference {
		t.Errorf("Expected kind %s, got %v", KindInvalidReference, err)
	}
}

func TestEngine_CreateOrder_DeclinedPayment(t *testing.T) {
	catalog := &fakeCatalog{games: map[int]models.Game{
		1: {ID: 1, Title: "Starfall", Price: 59.99},
	}}
	accounts := &fakeAccounts{}
	ledger := &fakeLedger{}
	sink := &fakeSink{}
	engine := testEngine(t, catalog, accounts, ledger, &fakeProcessor{approved: false}, sink)

	order, err := engine.CreateOrder(context.Background(), 42, validRequest(
		models.OrderItemRequest{GameID: 1, Quantity: 1},
	))
	if err != nil {
		t.Fatalf("Declined payment should not be an error, got: %v", err)
	}

	if order.Status != models.OrderStatusFailed {
		t.Errorf("Expected status failed, got %s", order.Status)
	}
	if order.PaymentDetails.TransactionID != "" {
		t.Error("Expected no transaction recorded for declined payment")
	}
	if accounts.library[libraryKey(42, 1)] {
		t.Error("Expected no library grant for failed order")
	}
	if catalog.salesCalls[1] != 0 {
		t.Error("Expected no sales increment for failed order")
	}

	got := sink.eventTypes()
	if len(got) != 2 || got[0] != "order_created" || got[1] != "order_failed" {
		t.Errorf("Expected [order_created order_failed], got %v", got)
	}
}

func TestEngine_CreateOrder_GrantFailureStillCompletes(t *testing.T) {
	catalog := &fakeCatalog{games: map[int]models.Game{
		1: {ID: 1, Title: "Starfall", Price: 59.99},
	}}
	accounts := &fakeAccounts{grantErr: errors.New("library unavailable")}
	ledger := &fakeLedger{}
	engine := testEngine(t, catalog, accounts, ledger, &fakeProcessor{approved: true}, &fakeSink{})

	flagged := 0
	engine.GrantFailure = func() { flagged++ }

	order, err := engine.CreateOrder(context.Background(), 42, validRequest(
		models.OrderItemRequest{GameID: 1, Quantity: 1},
	))
	if err != nil {
		t.Fatalf("Grant failure must not fail the order, got: %v", err)
	}
	if order.Status != models.OrderStatusCompleted {
		t.Errorf("Expected status completed, got %s", order.Status)
	}
	if flagged != 1 {
		t.Errorf("Expected 1 grant failure flagged, got %d", flagged)
	}
}

func TestEngine_CreateOrder_IdempotentGrant(t *testing.T) {
	accounts := &fakeAccounts{}
	if err := accounts.AppendLibraryEntry(context.Background(), 42, 1, time.Now(), 59.99); err != nil {
		t.Fatalf("First grant failed: %v", err)
	}
	if err := accounts.AppendLibraryEntry(context.Background(), 42, 1, time.Now(), 59.99); err != nil {
		t.Fatalf("Duplicate grant should be a no-op, got: %v", err)
	}
	if len(accounts.library) != 1 {
		t.Errorf("Expected exactly one library entry, got %d", len(accounts.library))
	}
}

func TestEngine_CreateOrder_Validation(t *testing.T) {
	engine := testEngine(t, &fakeCatalog{}, &fakeAccounts{}, &fakeLedger{}, &fakeProcessor{approved: true}, &fakeSink{})

	_, err := engine.CreateOrder(context.Background(), 42, models.CreateOrderRequest{
		PaymentMethod: models.PaymentMethodCreditCard,
	})
	if ErrKind(err) != KindValidation {
		t.Errorf("Expected validation error for empty cart, got %v", err)
	}

	req := validRequest(models.OrderItemRequest{GameID: 1, Quantity: 1})
	req.PaymentMethod = "cheque"
	_, err = engine.CreateOrder(context.Background(), 42, req)
	if ErrKind(err) != KindValidation {
		t.Errorf("Expected validation error for bad payment method, got %v", err)
	}
}

func TestEngine_RequestRefund_Success(t *testing.T) {
	ledger := &fakeLedger{}
	sink := &fakeSink{}
	engine := testEngine(t, &fakeCatalog{}, &fakeAccounts{}, ledger, &fakeProcessor{approved: true}, sink)

	order := &models.Order{
		OrderNumber: "STR-12345678-ABCDEF",
		UserID:      42,
		Status:      models.OrderStatusCompleted,
		Total:       64.79,
	}
	if err := ledger.Insert(context.Background(), order); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	updated, err := engine.RequestRefund(context.Background(), order.ID, 42, "changed my mind")
	if err != nil {
		t.Fatalf("RequestRefund returned error: %v", err)
	}

	if !updated.RefundRequested {
		t.Error("Expected refund_requested to be set")
	}
	if updated.RefundReason != "changed my mind" {
		t.Errorf("Expected reason recorded, got %q", updated.RefundReason)
	}
	if updated.RefundRequestedAt == nil {
		t.Error("Expected refund_requested_at stamped")
	}
	if updated.Status != models.OrderStatusCompleted {
		t.Errorf("Refund request must not change status, got %s", updated.Status)
	}
	types := sink.eventTypes()
	if len(types) != 1 || types[0] != "refund_requested" {
		t.Errorf("Expected [refund_requested], got %v", types)
	}
}

func TestEngine_RequestRefund_OutsideWindow(t *testing.T) {
	ledger := &fakeLedger{}
	engine := testEngine(t, &fakeCatalog{}, &fakeAccounts{}, ledger, &fakeProcessor{approved: true}, &fakeSink{})

	order := &models.Order{UserID: 42, Status: models.OrderStatusCompleted}
	if err := ledger.Insert(context.Background(), order); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	// Purchased 20 days ago
	stored := ledger.orders[order.ID]
	stored.CreatedAt = time.Now().Add(-20 * 24 * time.Hour)

	_, err := engine.RequestRefund(context.Background(), order.ID, 42, "too late")
	if ErrKind(err) != KindNotEligible {
		t.Errorf("Expected kind %s, got %v", KindNotEligible, err)
	}
}

func TestEngine_RequestRefund_WrongUser(t *testing.T) {
	ledger := &fakeLedger{}
	engine := testEngine(t, &fakeCatalog{}, &fakeAccounts{}, ledger, &fakeProcessor{approved: true}, &fakeSink{})

	order := &models.Order{UserID: 42, Status: models.OrderStatusCompleted}
	if err := ledger.Insert(context.Background(), order); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	_, err := engine.RequestRefund(context.Background(), order.ID, 7, "not mine")
	if ErrKind(err) != KindUnauthorized {
		t.Errorf("Expected kind %s, got %v", KindUnauthorized, err)
	}
}

func TestEngine_RequestRefund_NotFound(t *testing.T) {
	engine := testEngine(t, &fakeCatalog{}, &fakeAccounts{}, &fakeLedger{}, &fakeProcessor{approved: true}, &fakeSink{})

	_, err := engine.RequestRefund(context.Background(), 999, 42, "missing")
	if ErrKind(err) != KindNotFound {
		t.Errorf("Expected kind %s, got %v", KindNotFound, err)
	}
}

func TestEngine_RequestRefund_AlreadyRequested(t *testing.T) {
	ledger := &fakeLedger{}
	engine := testEngine(t, &fakeCatalog{}, &fakeAccounts{}, ledger, &fakeProcessor{approved: true}, &fakeSink{})

	order := &models.Order{UserID: 42, Status: models.OrderStatusCompleted}
	if err := ledger.Insert(context.Background(), order); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if _, err := engine.RequestRefund(context.Background(), order.ID, 42, "first"); err != nil {
		t.Fatalf("First request failed: %v", err)
	}
	_, err := engine.RequestRefund(context.Background(), order.ID, 42, "second")
	if ErrKind(err) != KindNotEligible {
		t.Errorf("Expected second request rejected with %s, got %v", KindNotEligible, err)
	}
}

func TestEngine_UpdateStatus_RefundStampsProcessing(t *testing.T) {
	ledger := &fakeLedger{}
	sink := &fakeSink{}
	engine := testEngine(t, &fakeCatalog{}, &fakeAccounts{}, ledger, &fakeProcessor{approved: true}, sink)

	order := &models.Order{UserID: 42, Status: models.OrderStatusCompleted, Total: 64.79}
	if err := ledger.Insert(context.Background(), order); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := engine.RequestRefund(context.Background(), order.ID, 42, "please"); err != nil {
		t.Fatalf("RequestRefund failed: %v", err)
	}

	updated, err := engine.UpdateStatus(context.Background(), order.ID, models.OrderStatusRefunded, "approved by support")
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}

	if updated.Status != models.OrderStatusRefunded {
		t.Errorf("Expected status refunded, got %s", updated.Status)
	}
	if updated.RefundProcessedAt == nil {
		t.Error("Expected refund_processed_at stamped")
	}
	if updated.RefundAmount != 64.79 {
		t.Errorf("Expected refund amount 64.79, got %v", updated.RefundAmount)
	}
	if len(updated.StatusHistory) != 1 || updated.StatusHistory[0].Status != models.OrderStatusRefunded {
		t.Errorf("Expected one history entry for refunded, got %+v", updated.StatusHistory)
	}
	if updated.StatusHistory[0].Note != "approved by support" {
		t.Errorf("Expected note recorded, got %q", updated.StatusHistory[0].Note)
	}
}

func TestEngine_UpdateStatus_RefundWithoutRequestSkipsStamps(t *testing.T) {
	ledger := &fakeLedger{}
	engine := testEngine(t, &fakeCatalog{}, &fakeAccounts{}, ledger, &fakeProcessor{approved: true}, &fakeSink{})

	order := &models.Order{UserID: 42, Status: models.OrderStatusCompleted, Total: 64.79}
	if err := ledger.Insert(context.Background(), order); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	updated, err := engine.UpdateStatus(context.Background(), order.ID, models.OrderStatusRefunded, "manual override")
	if err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	if updated.Status != models.OrderStatusRefunded {
		t.Errorf("Expected status refunded, got %s", updated.Status)
	}
	if updated.RefundProcessedAt != nil {
		t.Error("Expected no refund stamp without a prior request")
	}
	if updated.RefundAmount != 0 {
		t.Errorf("Expected no refund amount without a prior request, got %v", updated.RefundAmount)
	}
}

func TestEngine_UpdateStatus_InvalidStatus(t *testing.T) {
	engine := testEngine(t, &fakeCatalog{}, &fakeAccounts{}, &fakeLedger{}, &fakeProcessor{approved: true}, &fakeSink{})

	_, err := engine.UpdateStatus(context.Background(), 1, "shipped", "")
	if ErrKind(err) != KindValidation {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestEngine_UpdateStatus_HistoryAccumulates(t *testing.T) {
	ledger := &fakeLedger{}
	engine := testEngine(t, &fakeCatalog{}, &fakeAccounts{}, ledger, &fakeProcessor{approved: true}, &fakeSink{})

	order := &models.Order{UserID: 42, Status: models.OrderStatusPending}
	if err := ledger.Insert(context.Background(), order); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	if _, err := engine.UpdateStatus(context.Background(), order.ID, models.OrderStatusProcessing, ""); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	updated, err := engine.UpdateStatus(context.Background(), order.ID, models.OrderStatusCompleted, "")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	if len(updated.StatusHistory) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(updated.StatusHistory))
	}
	if updated.StatusHistory[0].Status != models.OrderStatusProcessing ||
		updated.StatusHistory[1].Status != models.OrderStatusCompleted {
		t.Errorf("Unexpected history order: %+v", updated.StatusHistory)
	}
}

func TestSimulatedProcessor_AlwaysApprovesByDefault(t *testing.T) {
	p := &SimulatedProcessor{}
	txn, err := p.Charge(context.Background(), models.PaymentMethodCreditCard, 10.0)
	if err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}
	if !txn.Approved {
		t.Error("Expected approval with zero decline rate")
	}
	if txn.ID == "" {
		t.Error("Expected transaction id")
	}
}

func TestSimulatedProcessor_FullDeclineRate(t *testing.T) {
	p := &SimulatedProcessor{DeclineRate: 1.0}
	txn, err := p.Charge(context.Background(), models.PaymentMethodCreditCard, 10.0)
	if err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}
	if txn.Approved {
		t.Error("Expected decline with decline rate 1.0")
	}
}
