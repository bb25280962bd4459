package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"database/sql"

	"gamestore-svc/fulfillment"
	"gamestore-svc/middleware"
	"gamestore-svc/models"
	"gamestore-svc/store"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderHandler struct {
	engine *fulfillment.Engine
	ledger *store.OrderLedger
	logger *zap.Logger
}

func NewOrderHandler(engine *fulfillment.Engine, ledger *store.OrderLedger, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		engine: engine,
		ledger: ledger,
		logger: logger,
	}
}

// businessError maps engine error kinds onto HTTP responses.
func businessError(c *gin.Context, err error) {
	e, ok := err.(*fulfillment.Error)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	body := gin.H{"error": e.Message, "kind": string(e.Kind)}
	if len(e.OwnedGameIDs) > 0 {
		body["owned_games"] = e.OwnedGameIDs
	}

	switch e.Kind {
	case fulfillment.KindValidation, fulfillment.KindInvalidReference,
		fulfillment.KindAlreadyOwned, fulfillment.KindNotEligible:
		c.JSON(http.StatusBadRequest, body)
	case fulfillment.KindNotFound:
		c.JSON(http.StatusNotFound, body)
	case fulfillment.KindUnauthorized:
		c.JSON(http.StatusForbidden, body)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "CreateOrder")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int("user_id", userID),
		attribute.Int("items.count", len(req.Items)),
	)

	order, err := h.engine.CreateOrder(ctx, userID, req)
	if err != nil {
		span.RecordError(err)
		if fulfillment.ErrKind(err) == fulfillment.KindInternal {
			h.logger.Error("Failed to create order", zap.Error(err))
		}
		businessError(c, err)
		return
	}

	span.SetAttributes(
		attribute.Int("order.id", order.ID),
		attribute.String("order.status", string(order.Status)),
	)
	middleware.RecordOrderCreated(string(order.Status))

	h.logger.Info("Order created",
		zap.Int("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("status", string(order.Status)),
	)
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "ListOrders")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	page, limit, ok := pageParams(c, 10, 50)
	if !ok {
		return
	}

	status := models.OrderStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}

	orders, totalCount, err := h.ledger.ListByUser(ctx, userID, status, page, limit)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders":     orders,
		"pagination": models.NewPagination(page, limit, totalCount),
	})
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "GetOrder")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	order, err := h.ledger.FindByIDForUser(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		span.RecordError(err)
		h.logger.Error("Failed to get order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *OrderHandler) RequestRefund(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "RequestRefund")
	defer span.End()

	userID, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.engine.RequestRefund(ctx, orderID, userID, req.Reason)
	if err != nil {
		span.RecordError(err)
		businessError(c, err)
		return
	}

	middleware.RecordRefundRequested()
	h.logger.Info("Refund requested",
		zap.String("order_number", order.OrderNumber),
		zap.String("reason", req.Reason),
	)
	c.JSON(http.StatusOK, gin.H{
		"message": "Refund request submitted successfully",
		"order":   order,
	})
}

func (h *OrderHandler) AdminListOrders(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "AdminListOrders")
	defer span.End()

	page, limit, ok := pageParams(c, 20, 100)
	if !ok {
		return
	}

	status := models.OrderStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}

	orders, totalCount, err := h.ledger.ListAll(ctx, status, c.Query("search"), page, limit)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list all orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders":     orders,
		"pagination": models.NewPagination(page, limit, totalCount),
	})
}

func (h *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "UpdateOrderStatus")
	defer span.End()

	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}
	span.SetAttributes(attribute.Int("order.id", orderID))

	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.engine.UpdateStatus(ctx, orderID, req.Status, req.Note)
	if err != nil {
		span.RecordError(err)
		businessError(c, err)
		return
	}

	h.logger.Info("Order status updated",
		zap.String("order_number", order.OrderNumber),
		zap.String("status", string(order.Status)),
	)
	c.JSON(http.StatusOK, gin.H{
		"message": "Order status updated successfully",
		"order":   order,
	})
}

func (h *OrderHandler) OrderStats(c *gin.Context) {
	ctx, span := otel.Tracer("gamestore-service").Start(c.Request.Context(), "OrderStats")
	defer span.End()

	stats, err := h.ledger.Stats(ctx, 5)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to compute order stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// pageParams parses page/limit query values with bounds, writing the
// error response itself on bad input.
func pageParams(c *gin.Context, defaultLimit, maxLimit int) (page, limit int, ok bool) {
	page = 1
	limit = defaultLimit

	if v := c.Query("page"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Page must be a positive integer"})
			return 0, 0, false
		}
		page = parsed
	}
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > maxLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Limit out of range"})
			return 0, 0, false
		}
		limit = parsed
	}
	return page, limit, true
}
