package fulfillment

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strconv"
	"time"

	"gamestore-svc/models"

	"go.uber.org/zap"
)

// Catalog is the engine's view of the game store.
type Catalog interface {
	FindActiveByIDs(ctx context.Context, ids []int) ([]models.Game, error)
	IncrementSales(ctx context.Context, gameID, amount int) error
}

// Accounts is the engine's view of user accounts and libraries.
type Accounts interface {
	OwnedGameIDs(ctx context.Context, userID int, gameIDs []int) ([]int, error)
	AppendLibraryEntry(ctx context.Context, userID, gameID int, purchaseDate time.Time, pricePaid float64) error
}

// Ledger is the engine's view of order persistence.
type Ledger interface {
	Insert(ctx context.Context, order *models.Order) error
	Update(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id int) (*models.Order, error)
}

// EventSink receives order lifecycle events. Publishing is best-effort:
// a sink failure never fails the order operation that produced it.
type EventSink interface {
	Publish(ctx context.Context, event models.OrderEvent) error
}

// Engine converts a validated cart into a persisted, priced order,
// simulates payment, and applies the downstream entitlement grant. It
// also owns the refund request flow and administrative status updates.
type Engine struct {
	catalog   Catalog
	accounts  Accounts
	ledger    Ledger
	processor PaymentProcessor
	events    EventSink
	logger    *zap.Logger
	taxRate   float64

	// GrantFailure is invoked when an entitlement grant fails after a
	// successful charge, for operator-facing metrics.
	GrantFailure func()

	now func() time.Time
}

func NewEngine(catalog Catalog, accounts Accounts, ledger Ledger, processor PaymentProcessor, events EventSink, logger *zap.Logger) *Engine {
	return &Engine{
		catalog:   catalog,
		accounts:  accounts,
		ledger:    ledger,
		processor: processor,
		events:    events,
		logger:    logger,
		taxRate:   taxRateFromEnv(),
		now:       time.Now,
	}
}

func taxRateFromEnv() float64 {
	if v := os.Getenv("TAX_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil && rate >= 0 {
			return rate
		}
	}
	return models.DefaultTaxRate
}

// CreateOrder runs the full checkout sequence: resolve the cart against
// the catalog, reject already-owned titles, snapshot prices, compute
// totals, charge the simulated processor, persist, and grant
// entitlements for completed orders. A declined payment is persisted as
// a failed order and returned without error.
func (e *Engine) CreateOrder(ctx context.Context, buyerID int, req models.CreateOrderRequest) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, newError(KindValidation, "order must contain at least one item")
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return nil, newError(KindValidation, "quantity must be at least 1")
		}
	}
	if !req.PaymentMethod.Valid() {
		return nil, newError(KindValidation, "invalid payment method %q", req.PaymentMethod)
	}
	if req.CouponDiscount < 0 {
		return nil, newError(KindValidation, "coupon discount cannot be negative")
	}

	gameIDs := make([]int, len(req.Items))
	for i, item := range req.Items {
		gameIDs[i] = item.GameID
	}

	// One batch read; a count mismatch catches missing, inactive and
	// duplicated references alike.
	games, err := e.catalog.FindActiveByIDs(ctx, gameIDs)
	if err != nil {
		return nil, newError(KindInternal, "failed to resolve cart items")
	}
	if len(games) != len(req.Items) {
		return nil, newError(KindInvalidReference, "one or more games not found or inactive")
	}
	gamesByID := make(map[int]models.Game, len(games))
	for _, g := range games {
		gamesByID[g.ID] = g
	}

	owned, err := e.accounts.OwnedGameIDs(ctx, buyerID, gameIDs)
	if err != nil {
		return nil, newError(KindInternal, "failed to check ownership")
	}
	if len(owned) > 0 {
		return nil, &Error{
			Kind:         KindAlreadyOwned,
			Message:      "you already own some of these games",
			OwnedGameIDs: owned,
		}
	}

	// Snapshot catalog values at this instant; later catalog edits must
	// not change what this order shows.
	items := make([]models.OrderItem, len(req.Items))
	for i, item := range req.Items {
		game := gamesByID[item.GameID]
		items[i] = models.OrderItem{
			GameID:        game.ID,
			Title:         game.Title,
			Price:         game.Price,
			OriginalPrice: game.OriginalPrice,
			Discount:      game.Discount,
			Quantity:      item.Quantity,
		}
	}

	order := &models.Order{
		OrderNumber:    models.NewOrderNumber(),
		UserID:         buyerID,
		Items:          items,
		Currency:       "USD",
		PaymentMethod:  req.PaymentMethod,
		BillingAddress: req.BillingAddress,
		Status:         models.OrderStatusPending,
		CouponCode:     req.CouponCode,
		CouponDiscount: req.CouponDiscount,
	}
	order.CalculateTotals(e.taxRate)
	if order.Total < 0 {
		return nil, newError(KindValidation, "coupon discount exceeds order value")
	}

	txn, err := e.processor.Charge(ctx, req.PaymentMethod, order.Total)
	if err != nil {
		return nil, newError(KindInternal, "payment processing unavailable")
	}

	// The simulated payment resolves synchronously, so the order is
	// persisted already in its terminal state; the initial status does
	// not produce a history entry.
	if txn.Approved {
		order.Status = models.OrderStatusCompleted
		order.PaymentDetails = models.PaymentDetails{
			TransactionID:    txn.ID,
			PaymentProcessor: txn.Processor,
			Last4:            txn.Last4,
			CardType:         txn.CardType,
		}
	} else {
		order.Status = models.OrderStatusFailed
	}

	if err := e.ledger.Insert(ctx, order); err != nil {
		e.logger.Error("Failed to persist order", zap.Error(err), zap.String("order_number", order.OrderNumber))
		return nil, newError(KindInternal, "failed to create order")
	}

	e.publish(ctx, order, "order_created")

	if order.Status == models.OrderStatusFailed {
		e.publish(ctx, order, "order_failed")
		return order, nil
	}

	e.grantEntitlements(ctx, order)
	e.publish(ctx, order, "order_completed")

	return order, nil
}

// grantEntitlements appends library entries and bumps sales counters for
// a completed order. The buyer has already been charged, so a failure
// here must not roll back the order; it is logged and flagged instead.
func (e *Engine) grantEntitlements(ctx context.Context, order *models.Order) {
	for _, item := range order.Items {
		if err := e.accounts.AppendLibraryEntry(ctx, order.UserID, item.GameID, order.CreatedAt, item.Price); err != nil {
			e.flagGrantFailure(order, item.GameID, err)
			continue
		}
		if err := e.catalog.IncrementSales(ctx, item.GameID, item.Quantity); err != nil {
			e.flagGrantFailure(order, item.GameID, err)
		}
	}
}

func (e *Engine) flagGrantFailure(order *models.Order, gameID int, err error) {
	e.logger.Error("Entitlement grant failed after successful payment",
		zap.String("order_number", order.OrderNumber),
		zap.Int("user_id", order.UserID),
		zap.Int("game_id", gameID),
		zap.Error(err),
	)
	if e.GrantFailure != nil {
		e.GrantFailure()
	}
}

// RequestRefund records a user-initiated refund request. It does not
// change the order status; resolution is an administrative follow-up.
func (e *Engine) RequestRefund(ctx context.Context, orderID, requesterID int, reason string) (*models.Order, error) {
	if reason == "" {
		return nil, newError(KindValidation, "refund reason is required")
	}

	order, err := e.ledger.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError(KindNotFound, "order not found")
		}
		return nil, newError(KindInternal, "failed to load order")
	}
	if order.UserID != requesterID {
		return nil, newError(KindUnauthorized, "not authorized to request a refund on this order")
	}

	now := e.now()
	if !order.CanRefund(now) {
		return nil, newError(KindNotEligible, "this order is not eligible for refund")
	}

	order.RefundRequested = true
	order.RefundReason = reason
	order.RefundRequestedAt = &now
	order.UpdatedAt = now

	if err := e.ledger.Update(ctx, order); err != nil {
		e.logger.Error("Failed to record refund request", zap.Error(err), zap.String("order_number", order.OrderNumber))
		return nil, newError(KindInternal, "failed to record refund request")
	}

	e.publish(ctx, order, "refund_requested")

	return order, nil
}

// UpdateStatus is the administrative status transition. Every change is
// appended to the status history; moving to refunded while a refund was
// requested stamps the refund sub-record.
func (e *Engine) UpdateStatus(ctx context.Context, orderID int, status models.OrderStatus, note string) (*models.Order, error) {
	if !status.Valid() {
		return nil, newError(KindValidation, "invalid status %q", status)
	}

	order, err := e.ledger.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError(KindNotFound, "order not found")
		}
		return nil, newError(KindInternal, "failed to load order")
	}

	if !models.CanTransitionTo(order.Status, status) {
		e.logger.Warn("Administrative status override outside normal flow",
			zap.String("order_number", order.OrderNumber),
			zap.String("from", string(order.Status)),
			zap.String("to", string(status)),
		)
	}
	if status == models.OrderStatusRefunded && !order.RefundRequested {
		// Allowed, but unusual: refund without a recorded request skips
		// the refund bookkeeping, so make it loud.
		e.logger.Warn("Order refunded without a prior refund request",
			zap.String("order_number", order.OrderNumber),
		)
	}

	now := e.now()
	order.SetStatus(status, note, now)

	if status == models.OrderStatusRefunded && order.RefundRequested && order.RefundProcessedAt == nil {
		order.RefundProcessedAt = &now
		order.RefundAmount = order.Total
	}

	if err := e.ledger.Update(ctx, order); err != nil {
		e.logger.Error("Failed to update order status", zap.Error(err), zap.String("order_number", order.OrderNumber))
		return nil, newError(KindInternal, "failed to update order status")
	}

	e.publish(ctx, order, "order_status_changed")

	return order, nil
}

func (e *Engine) publish(ctx context.Context, order *models.Order, eventType string) {
	if e.events == nil {
		return
	}
	event := models.OrderEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Total:       order.Total,
		EventType:   eventType,
	}
	if err := e.events.Publish(ctx, event); err != nil {
		// Don't fail the request, but log the error
		e.logger.Error("Failed to publish order event", zap.Error(err), zap.String("event_type", eventType))
	}
}
