package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"ecodeli-payment-svc/middleware"
	"ecodeli-payment-svc/models"
	"ecodeli-payment-svc/pricing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOrderHandler(db *sql.DB, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{db: db, logger: logger}
}

// CreateOrder prices the order up front and persists the quoted amounts.
// The payment intent later charges exactly what was quoted here.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !req.Type.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown order type"})
		return
	}
	if req.Type == models.OrderTypeStorageRental && req.StorageBoxID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storage_box_id is required for storage rentals"})
		return
	}
	if req.Type != models.OrderTypeSubscription && req.PayeeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payee_id is required"})
		return
	}

	urgency, err := pricing.ParseUrgency(req.Urgency)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tier, err := pricing.ParseTier(c.GetString(middleware.ContextTier))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input := pricing.Input{
		OrderType:   req.Type,
		ServiceKind: pricing.ServiceKind(req.ServiceKind),
		Urgency:     urgency,
		Tier:        tier,
	}
	if req.BaseAmount != "" {
		input.BaseAmount, err = decimal.NewFromString(req.BaseAmount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid base_amount"})
			return
		}
	}
	if req.DurationHours != "" {
		input.DurationHours, err = decimal.NewFromString(req.DurationHours)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid duration_hours"})
			return
		}
	}

	quote, err := pricing.ComputeQuote(input)
	if err != nil {
		var verr *pricing.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to price order"})
		return
	}

	order := models.Order{
		ID:           uuid.NewString(),
		Type:         req.Type,
		PayerID:      c.GetString(middleware.ContextUserID),
		PayeeID:      req.PayeeID,
		Title:        req.Title,
		Amount:       quote.TotalAmount,
		BaseAmount:   quote.BaseAmount,
		Fee:          quote.Fee,
		Status:       models.OrderStatusPending,
		StorageBoxID: req.StorageBoxID,
		CreatedAt:    time.Now(),
	}

	_, err = h.db.ExecContext(c.Request.Context(),
		`INSERT INTO orders (id, type, payer_id, payee_id, title, amount, base_amount, fee, status, storage_box_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		order.ID, order.Type, order.PayerID, nullable(order.PayeeID), order.Title,
		order.Amount, order.BaseAmount, order.Fee, order.Status, nullable(order.StorageBoxID),
	)
	if err != nil {
		h.logger.Error("Failed to insert order",
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create order"})
		return
	}

	h.logger.Info("Order created",
		zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
		zap.String("order_id", order.ID),
		zap.String("type", string(order.Type)),
		zap.String("total", order.Amount.StringFixed(2)),
	)
	c.JSON(http.StatusCreated, order)
}

// GetOrder returns an order to its payer or payee only.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID := c.Param("id")
	userID := c.GetString(middleware.ContextUserID)

	var order models.Order
	var payeeID, storageBoxID sql.NullString
	var periodStart, periodEnd, completedAt sql.NullTime
	err := h.db.QueryRowContext(c.Request.Context(),
		`SELECT id, type, payer_id, payee_id, title, amount, base_amount, fee, status,
		        storage_box_id, period_start, period_end, completed_at, created_at, updated_at
		 FROM orders WHERE id = $1`,
		orderID,
	).Scan(&order.ID, &order.Type, &order.PayerID, &payeeID, &order.Title,
		&order.Amount, &order.BaseAmount, &order.Fee, &order.Status,
		&storageBoxID, &periodStart, &periodEnd, &completedAt, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to load order", zap.String("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}

	order.PayeeID = payeeID.String
	order.StorageBoxID = storageBoxID.String
	if periodStart.Valid {
		order.PeriodStart = &periodStart.Time
	}
	if periodEnd.Valid {
		order.PeriodEnd = &periodEnd.Time
	}
	if completedAt.Valid {
		order.CompletedAt = &completedAt.Time
	}

	if order.PayerID != userID && order.PayeeID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not your order"})
		return
	}
	c.JSON(http.StatusOK, order)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
