package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gamestore-svc/fulfillment"
	"gamestore-svc/middleware"
	"gamestore-svc/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// authAs injects an authenticated user the way AuthMiddleware would.
func authAs(userID int, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Set(middleware.ContextUserRole, role)
		c.Next()
	}
}

func setupOrderTest(t *testing.T, authed bool) (*sql.DB, sqlmock.Sqlmock, *gin.Engine) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	ledger := store.NewOrderLedger(db)
	engine := fulfillment.NewEngine(
		store.NewCatalogStore(db),
		store.NewAccountStore(db),
		ledger,
		&fulfillment.SimulatedProcessor{},
		nil,
		logger,
	)
	handler := NewOrderHandler(engine, ledger, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("/orders")
	if authed {
		group.Use(authAs(42, "user"))
	}
	group.POST("", handler.CreateOrder)
	group.GET("/:id", handler.GetOrder)
	group.POST("/:id/refund", handler.RequestRefund)

	return db, mock, router
}

var orderRowColumns = []string{
	"id", "order_number", "user_id", "items", "subtotal", "tax", "total", "currency",
	"payment_method", "payment_details", "billing_address", "status", "status_history",
	"refund_requested", "refund_reason", "refund_requested_at", "refund_processed_at", "refund_amount",
	"coupon_code", "coupon_discount", "notes", "created_at", "updated_at",
}

func orderRow(id, userID int, status string, createdAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(orderRowColumns).AddRow(
		id, "STR-12345678-ABCDEF", userID,
		[]byte(`[{"game_id":1,"title":"Starfall","price":59.99,"quantity":1}]`),
		59.99, 4.80, 64.79, "USD",
		"credit_card", []byte(`{}`), []byte(`{"first_name":"Ada","last_name":"Lovelace","email":"ada@example.com","address1":"1 Analytical Way","city":"London","country":"GB"}`),
		status, []byte(`[]`),
		false, nil, nil, nil, nil,
		nil, 0, nil, createdAt, createdAt,
	)
}

func TestOrderHandler_GetOrder_Success(t *testing.T) {
	db, mock, router := setupOrderTest(t, true)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1 AND user_id = \\$2").
		WithArgs(1, 42).
		WillReturnRows(orderRow(1, 42, "completed", time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp struct {
		Order struct {
			OrderNumber string  `json:"order_number"`
			Total       float64 `json:"total"`
		} `json:"order"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Order.OrderNumber != "STR-12345678-ABCDEF" {
		t.Errorf("Expected order number in response, got %q", resp.Order.OrderNumber)
	}
	if resp.Order.Total != 64.79 {
		t.Errorf("Expected total 64.79, got %v", resp.Order.Total)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_GetOrder_NotFound(t *testing.T) {
	db, mock, router := setupOrderTest(t, true)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1 AND user_id = \\$2").
		WithArgs(999, 42).
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/orders/999", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestOrderHandler_GetOrder_Unauthenticated(t *testing.T) {
	db, _, router := setupOrderTest(t, false)
	defer db.Close()

	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestOrderHandler_CreateOrder_Success(t *testing.T) {
	db, mock, router := setupOrderTest(t, true)
	defer db.Close()

	// Resolve cart against the catalog
	gameRows := sqlmock.NewRows([]string{"id", "title", "price", "original_price", "discount", "is_active"}).
		AddRow(1, "Starfall", 59.99, 59.99, 0.0, true)
	mock.ExpectQuery("SELECT id, title, price, original_price, discount, is_active FROM games WHERE id = ANY\\(\\$1\\) AND is_active = TRUE").
		WillReturnRows(gameRows)

	// Buyer owns none of the cart
	mock.ExpectQuery("SELECT game_id FROM library WHERE user_id = \\$1 AND game_id = ANY\\(\\$2\\)").
		WillReturnRows(sqlmock.NewRows([]string{"game_id"}))

	// Persist the completed order
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(10, time.Now(), time.Now()))

	// Entitlement grant and sales counter
	mock.ExpectExec("INSERT INTO library").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE games SET total_sales = total_sales \\+ \\$1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body, _ := json.Marshal(map[string]any{
		"items":          []map[string]any{{"game_id": 1, "quantity": 1}},
		"payment_method": "credit_card",
		"billing_address": map[string]string{
			"first_name": "Ada",
			"last_name":  "Lovelace",
			"email":      "ada@example.com",
			"address1":   "1 Analytical Way",
			"city":       "London",
			"country":    "GB",
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var resp struct {
		Order struct {
			ID       int     `json:"id"`
			Status   string  `json:"status"`
			Subtotal float64 `json:"subtotal"`
			Tax      float64 `json:"tax"`
			Total    float64 `json:"total"`
		} `json:"order"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Order.Status != "completed" {
		t.Errorf("Expected status completed, got %q", resp.Order.Status)
	}
	if resp.Order.Subtotal != 59.99 || resp.Order.Tax != 4.80 || resp.Order.Total != 64.79 {
		t.Errorf("Unexpected totals: %+v", resp.Order)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_CreateOrder_AlreadyOwned(t *testing.T) {
	db, mock, router := setupOrderTest(t, true)
	defer db.Close()

	gameRows := sqlmock.NewRows([]string{"id", "title", "price", "original_price", "discount", "is_active"}).
		AddRow(1, "Starfall", 59.99, 59.99, 0.0, true)
	mock.ExpectQuery("SELECT id, title, price, original_price, discount, is_active FROM games").
		WillReturnRows(gameRows)

	mock.ExpectQuery("SELECT game_id FROM library").
		WillReturnRows(sqlmock.NewRows([]string{"game_id"}).AddRow(1))

	body, _ := json.Marshal(map[string]any{
		"items":          []map[string]any{{"game_id": 1, "quantity": 1}},
		"payment_method": "credit_card",
		"billing_address": map[string]string{
			"first_name": "Ada",
			"last_name":  "Lovelace",
			"email":      "ada@example.com",
			"address1":   "1 Analytical Way",
			"city":       "London",
			"country":    "GB",
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusBadRequest, w.Code, w.Body.String())
	}

	var resp struct {
		Kind       string `json:"kind"`
		OwnedGames []int  `json:"owned_games"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Kind != "already_owned" {
		t.Errorf("Expected kind already_owned, got %q", resp.Kind)
	}
	if len(resp.OwnedGames) != 1 || resp.OwnedGames[0] != 1 {
		t.Errorf("Expected owned_games [1], got %v", resp.OwnedGames)
	}
}

func TestOrderHandler_CreateOrder_MissingItems(t *testing.T) {
	db, _, router := setupOrderTest(t, true)
	defer db.Close()

	body, _ := json.Marshal(map[string]any{
		"payment_method": "credit_card",
		"billing_address": map[string]string{
			"first_name": "Ada",
			"last_name":  "Lovelace",
			"email":      "ada@example.com",
			"address1":   "1 Analytical Way",
			"city":       "London",
			"country":    "GB",
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestOrderHandler_RequestRefund_Success(t *testing.T) {
	db, mock, router := setupOrderTest(t, true)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, 42, "completed", time.Now().Add(-24*time.Hour)))

	mock.ExpectExec("UPDATE orders SET status = \\$1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	body, _ := json.Marshal(map[string]string{"reason": "changed my mind"})
	req := httptest.NewRequest(http.MethodPost, "/orders/1/refund", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var resp struct {
		Order struct {
			RefundRequested bool `json:"refund_requested"`
		} `json:"order"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if !resp.Order.RefundRequested {
		t.Error("Expected refund_requested set in response")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestOrderHandler_RequestRefund_OutsideWindow(t *testing.T) {
	db, mock, router := setupOrderTest(t, true)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, 42, "completed", time.Now().Add(-20*24*time.Hour)))

	body, _ := json.Marshal(map[string]string{"reason": "too late"})
	req := httptest.NewRequest(http.MethodPost, "/orders/1/refund", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d: %s", http.StatusBadRequest, w.Code, w.Body.String())
	}
}

func TestOrderHandler_RequestRefund_NotOwner(t *testing.T) {
	db, mock, router := setupOrderTest(t, true)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(1).
		WillReturnRows(orderRow(1, 7, "completed", time.Now()))

	body, _ := json.Marshal(map[string]string{"reason": "not mine"})
	req := httptest.NewRequest(http.MethodPost, "/orders/1/refund", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, w.Code)
	}
}

func TestOrderHandler_RequestRefund_NotFound(t *testing.T) {
	db, mock, router := setupOrderTest(t, true)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(999).
		WillReturnError(sql.ErrNoRows)

	body, _ := json.Marshal(map[string]string{"reason": "missing"})
	req := httptest.NewRequest(http.MethodPost, "/orders/999/refund", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}
