package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"gamestore-svc/models"
)

// OrderLedger persists orders. Orders are append-create and then mutated
// through status/refund updates; they are never deleted.
type OrderLedger struct {
	db *sql.DB
}

func NewOrderLedger(db *sql.DB) *OrderLedger {
	return &OrderLedger{db: db}
}

const orderColumns = `id, order_number, user_id, items, subtotal, tax, total, currency,
	payment_method, payment_details, billing_address, status, status_history,
	refund_requested, refund_reason, refund_requested_at, refund_processed_at, refund_amount,
	coupon_code, coupon_discount, notes, created_at, updated_at`

// Insert persists a new order and assigns its id and timestamps. The
// order number must already be set and is never regenerated afterwards.
func (s *OrderLedger) Insert(ctx context.Context, order *models.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal items: %w", err)
	}
	history, err := json.Marshal(order.StatusHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal status history: %w", err)
	}
	payment, err := json.Marshal(order.PaymentDetails)
	if err != nil {
		return fmt.Errorf("failed to marshal payment details: %w", err)
	}
	billing, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return fmt.Errorf("failed to marshal billing address: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO orders (order_number, user_id, items, subtotal, tax, total, currency,
			payment_method, payment_details, billing_address, status, status_history,
			coupon_code, coupon_discount)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, created_at, updated_at`,
		order.OrderNumber, order.UserID, items, order.Subtotal, order.Tax, order.Total,
		order.Currency, order.PaymentMethod, payment, billing, order.Status, history,
		nullString(order.CouponCode), order.CouponDiscount,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// Update writes back the mutable fields: status, history, payment details
// and the refund sub-record. Identity, line items and totals-bearing
// columns change only through the engine, which recomputes them together.
func (s *OrderLedger) Update(ctx context.Context, order *models.Order) error {
	history, err := json.Marshal(order.StatusHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal status history: %w", err)
	}
	payment, err := json.Marshal(order.PaymentDetails)
	if err != nil {
		return fmt.Errorf("failed to marshal payment details: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, status_history = $2, payment_details = $3,
			refund_requested = $4, refund_reason = $5, refund_requested_at = $6,
			refund_processed_at = $7, refund_amount = $8, updated_at = NOW()
		 WHERE id = $9`,
		order.Status, history, payment,
		order.RefundRequested, nullString(order.RefundReason), order.RefundRequestedAt,
		order.RefundProcessedAt, nullFloat(order.RefundAmount),
		order.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", order.ID, err)
	}
	return nil
}

func (s *OrderLedger) FindByID(ctx context.Context, id int) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	return scanOrder(row)
}

// FindByIDForUser scopes the lookup to the owning account.
func (s *OrderLedger) FindByIDForUser(ctx context.Context, id, userID int) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 AND user_id = $2", id, userID)
	return scanOrder(row)
}

// ListByUser returns a page of the user's orders, newest first,
// optionally filtered by status, plus the total match count.
func (s *OrderLedger) ListByUser(ctx context.Context, userID int, status models.OrderStatus, page, limit int) ([]models.Order, int, error) {
	where := "WHERE user_id = $1"
	args := []any{userID}
	if status != "" {
		where += " AND status = $2"
		args = append(args, status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	offset := (page - 1) * limit
	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT %s FROM orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		orderColumns, where, len(args)-1, len(args))

	orders, err := s.queryOrders(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListAll is the administrative listing: any user, status filter, and a
// case-insensitive search over order number and billing name/email.
func (s *OrderLedger) ListAll(ctx context.Context, status models.OrderStatus, search string, page, limit int) ([]models.Order, int, error) {
	var conds []string
	var args []any

	if status != "" {
		args = append(args, status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if search != "" {
		args = append(args, "%"+search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			`(order_number ILIKE $%d
			 OR billing_address->>'email' ILIKE $%d
			 OR billing_address->>'first_name' ILIKE $%d
			 OR billing_address->>'last_name' ILIKE $%d)`, n, n, n, n))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	offset := (page - 1) * limit
	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT %s FROM orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		orderColumns, where, len(args)-1, len(args))

	orders, err := s.queryOrders(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// Stats aggregates the admin summary: order counts, completed revenue,
// counts by status and the most recent orders.
func (s *OrderLedger) Stats(ctx context.Context, recentLimit int) (*models.OrderStats, error) {
	stats := &models.OrderStats{CountsByStatus: make(map[models.OrderStatus]int)}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&stats.TotalOrders); err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(total), 0) FROM orders WHERE status = $1",
		models.OrderStatusCompleted,
	).Scan(&stats.TotalRevenue); err != nil {
		return nil, fmt.Errorf("failed to sum revenue: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM orders GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status models.OrderStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.CountsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.PendingOrders = stats.CountsByStatus[models.OrderStatusPending]
	stats.CompletedOrders = stats.CountsByStatus[models.OrderStatusCompleted]
	stats.RefundedOrders = stats.CountsByStatus[models.OrderStatusRefunded]

	recent, err := s.queryOrders(ctx,
		fmt.Sprintf("SELECT %s FROM orders ORDER BY created_at DESC LIMIT $1", orderColumns),
		recentLimit,
	)
	if err != nil {
		return nil, err
	}
	stats.RecentOrders = recent

	return stats, nil
}

func (s *OrderLedger) queryOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row *sql.Row) (*models.Order, error) {
	return scanOrderFrom(row)
}

func scanOrderRows(rows *sql.Rows) (*models.Order, error) {
	return scanOrderFrom(rows)
}

func scanOrderFrom(row rowScanner) (*models.Order, error) {
	var o models.Order
	var items, payment, billing, history []byte
	var refundReason, couponCode, notes sql.NullString
	var refundAmount sql.NullFloat64

	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &items, &o.Subtotal, &o.Tax, &o.Total, &o.Currency,
		&o.PaymentMethod, &payment, &billing, &o.Status, &history,
		&o.RefundRequested, &refundReason, &o.RefundRequestedAt, &o.RefundProcessedAt, &refundAmount,
		&couponCode, &o.CouponDiscount, &notes, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal items: %w", err)
	}
	if err := json.Unmarshal(payment, &o.PaymentDetails); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment details: %w", err)
	}
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal billing address: %w", err)
	}
	if err := json.Unmarshal(history, &o.StatusHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status history: %w", err)
	}

	o.RefundReason = refundReason.String
	o.CouponCode = couponCode.String
	o.Notes = notes.String
	o.RefundAmount = refundAmount.Float64

	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: f != 0}
}
