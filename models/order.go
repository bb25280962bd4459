package models

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusRefunded   OrderStatus = "refunded"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted,
		OrderStatusFailed, OrderStatusRefunded, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the normal (non-administrative) flow
// allows moving from one status to another. Administrators may override
// any transition, but every change still lands in the status history.
func CanTransitionTo(from, to OrderStatus) bool {
	allowed := map[OrderStatus][]OrderStatus{
		OrderStatusPending:   {OrderStatusProcessing, OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled},
		OrderStatusCompleted: {OrderStatusRefunded},
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCreditCard  PaymentMethod = "credit_card"
	PaymentMethodPaypal      PaymentMethod = "paypal"
	PaymentMethodStoreWallet PaymentMethod = "store_wallet"
	PaymentMethodGiftCard    PaymentMethod = "gift_card"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodPaypal, PaymentMethodStoreWallet, PaymentMethodGiftCard:
		return true
	}
	return false
}

// OrderItem is a line item with the catalog values snapshotted at order
// creation time, so historical orders keep the price actually charged.
type OrderItem struct {
	GameID        int     `json:"game_id"`
	Title         string  `json:"title"`
	Price         float64 `json:"price"`
	OriginalPrice float64 `json:"original_price,omitempty"`
	Discount      float64 `json:"discount,omitempty"`
	Quantity      int     `json:"quantity"`
}

type StatusHistoryEntry struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      string      `json:"note,omitempty"`
}

type PaymentDetails struct {
	TransactionID    string `json:"transaction_id,omitempty"`
	PaymentProcessor string `json:"payment_processor,omitempty"`
	Last4            string `json:"last4,omitempty"`
	CardType         string `json:"card_type,omitempty"`
}

type BillingAddress struct {
	FirstName  string `json:"first_name" binding:"required"`
	LastName   string `json:"last_name" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Address1   string `json:"address1" binding:"required"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country" binding:"required"`
}

type Order struct {
	ID             int                  `json:"id"`
	OrderNumber    string               `json:"order_number"`
	UserID         int                  `json:"user_id"`
	Items          []OrderItem          `json:"items"`
	Subtotal       float64              `json:"subtotal"`
	Tax            float64              `json:"tax"`
	Total          float64              `json:"total"`
	Currency       string               `json:"currency"`
	PaymentMethod  PaymentMethod        `json:"payment_method"`
	PaymentDetails PaymentDetails       `json:"payment_details"`
	BillingAddress BillingAddress       `json:"billing_address"`
	Status         OrderStatus          `json:"status"`
	StatusHistory  []StatusHistoryEntry `json:"status_history"`

	RefundRequested   bool       `json:"refund_requested"`
	RefundReason      string     `json:"refund_reason,omitempty"`
	RefundRequestedAt *time.Time `json:"refund_requested_at,omitempty"`
	RefundProcessedAt *time.Time `json:"refund_processed_at,omitempty"`
	RefundAmount      float64    `json:"refund_amount,omitempty"`

	CouponCode     string  `json:"coupon_code,omitempty"`
	CouponDiscount float64 `json:"coupon_discount,omitempty"`
	Notes          string  `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RefundWindow is how long after purchase a completed order stays
// eligible for a refund request.
const RefundWindow = 14 * 24 * time.Hour

const DefaultTaxRate = 0.08

const orderNumberCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewOrderNumber builds a human-readable order number from the current
// timestamp plus a random suffix, e.g. STR-38472915-K4QZ7A.
func NewOrderNumber() string {
	ts := fmt.Sprintf("%d", time.Now().UnixMilli())
	if len(ts) > 8 {
		ts = ts[len(ts)-8:]
	}
	var suffix strings.Builder
	for i := 0; i < 6; i++ {
		suffix.WriteByte(orderNumberCharset[rand.Intn(len(orderNumberCharset))])
	}
	return fmt.Sprintf("STR-%s-%s", ts, suffix.String())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CalculateTotals recomputes subtotal, tax and total from the line items.
// Tax and total are rounded to cents. Subtotal, tax, total and the coupon
// discount are never set independently of each other.
func (o *Order) CalculateTotals(taxRate float64) {
	subtotal := 0.0
	for _, item := range o.Items {
		subtotal += item.Price * float64(item.Quantity)
	}
	o.Subtotal = round2(subtotal)
	o.Tax = round2(o.Subtotal * taxRate)
	o.Total = round2(o.Subtotal + o.Tax - o.CouponDiscount)
}

// CanRefund reports refund-request eligibility: the order completed, the
// purchase is inside the refund window, and no request is already pending.
func (o *Order) CanRefund(now time.Time) bool {
	return o.Status == OrderStatusCompleted &&
		now.Sub(o.CreatedAt) <= RefundWindow &&
		!o.RefundRequested
}

// SetStatus changes the current status and appends the change to the
// status history. The initial status assigned at creation does not go
// through here, so the history only records subsequent transitions.
func (o *Order) SetStatus(status OrderStatus, note string, now time.Time) {
	o.Status = status
	o.StatusHistory = append(o.StatusHistory, StatusHistoryEntry{
		Status:    status,
		Timestamp: now,
		Note:      note,
	})
	o.UpdatedAt = now
}

type OrderItemRequest struct {
	GameID   int `json:"game_id" binding:"required"`
	Quantity int `json:"quantity" binding:"required,gte=1"`
}

type CreateOrderRequest struct {
	Items          []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	PaymentMethod  PaymentMethod      `json:"payment_method" binding:"required"`
	BillingAddress BillingAddress     `json:"billing_address" binding:"required"`
	CouponCode     string             `json:"coupon_code"`
	CouponDiscount float64            `json:"coupon_discount" binding:"gte=0"`
}

type RefundRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type UpdateOrderStatusRequest struct {
	Status OrderStatus `json:"status" binding:"required"`
	Note   string      `json:"note"`
}

// OrderEvent is the payload published to Kafka on order lifecycle changes.
type OrderEvent struct {
	OrderID     int         `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	UserID      int         `json:"user_id"`
	Status      OrderStatus `json:"status"`
	Total       float64     `json:"total"`
	EventType   string      `json:"event_type"` // order_created, order_completed, order_failed, refund_requested, order_status_changed
}

// OrderStats is the admin summary payload.
type OrderStats struct {
	TotalOrders     int                 `json:"total_orders"`
	TotalRevenue    float64             `json:"total_revenue"`
	CountsByStatus  map[OrderStatus]int `json:"counts_by_status"`
	PendingOrders   int                 `json:"pending_orders"`
	CompletedOrders int                 `json:"completed_orders"`
	RefundedOrders  int                 `json:"refunded_orders"`
	RecentOrders    []Order             `json:"recent_orders"`
}
