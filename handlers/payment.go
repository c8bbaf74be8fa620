package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"ecodeli-payment-svc/middleware"
	"ecodeli-payment-svc/models"
	"ecodeli-payment-svc/provider"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	db       *sql.DB
	provider provider.Client
	logger   *zap.Logger
}

func NewPaymentHandler(db *sql.DB, providerClient provider.Client, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{db: db, provider: providerClient, logger: logger}
}

// CreateIntent opens (or re-opens) the payment for an order. Retrying the
// call while a payment is still PENDING returns the existing provider intent
// instead of creating a second one, so an order never carries more than one
// live payment.
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	ctx, span := otel.Tracer("ecodeli-payment-svc").Start(c.Request.Context(), "CreatePaymentIntent")
	defer span.End()

	orderID := c.Param("id")
	userID := c.GetString(middleware.ContextUserID)
	span.SetAttributes(attribute.String("order.id", orderID))

	var order models.Order
	err := h.db.QueryRowContext(ctx,
		`SELECT id, type, payer_id, title, amount, base_amount, fee, status FROM orders WHERE id = $1`,
		orderID,
	).Scan(&order.ID, &order.Type, &order.PayerID, &order.Title,
		&order.Amount, &order.BaseAmount, &order.Fee, &order.Status)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to load order", zap.String("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load order"})
		return
	}
	if order.PayerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not your order"})
		return
	}

	// One payment per order: a PENDING payment is resumed, a COMPLETED or
	// REFUNDED one blocks a second charge. FAILED/CANCELLED payments are
	// spent and a fresh intent is allowed.
	var existing models.Payment
	var providerRef sql.NullString
	err = h.db.QueryRowContext(ctx,
		`SELECT id, status, provider_ref, amount, base_amount, fee, currency
		 FROM payments WHERE order_id = $1 AND status IN ($2, $3, $4)
		 ORDER BY created_at DESC LIMIT 1`,
		orderID, models.PaymentStatusPending, models.PaymentStatusCompleted, models.PaymentStatusRefunded,
	).Scan(&existing.ID, &existing.Status, &providerRef,
		&existing.Amount, &existing.BaseAmount, &existing.Fee, &existing.Currency)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		h.logger.Error("Failed to check existing payments", zap.String("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check existing payments"})
		return
	}
	if err == nil {
		existing.ProviderRef = providerRef.String
		if existing.Status != models.PaymentStatusPending {
			c.JSON(http.StatusConflict, gin.H{"error": "Order already paid"})
			return
		}
		intent, err := h.provider.RetrieveIntent(ctx, existing.ProviderRef)
		if err != nil {
			h.logger.Error("Failed to retrieve existing intent",
				zap.String("trace_id", middleware.GetTraceID(ctx)),
				zap.String("provider_ref", existing.ProviderRef),
				zap.Error(err),
			)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Payment provider unavailable"})
			return
		}
		c.JSON(http.StatusOK, models.CreateIntentResponse{
			PaymentID:    existing.ID,
			ProviderRef:  intent.ID,
			ClientSecret: intent.ClientSecret,
			Amount:       existing.Amount,
			BaseAmount:   existing.BaseAmount,
			Fee:          existing.Fee,
			Currency:     existing.Currency,
		})
		return
	}

	amountMinor := order.Amount.Mul(decimal.NewFromInt(100)).IntPart()
	intent, err := h.provider.CreateIntent(ctx, amountMinor, "eur", map[string]string{
		"order_id": order.ID,
		"payer_id": order.PayerID,
	})
	if err != nil {
		h.logger.Error("Provider intent creation failed",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment provider unavailable"})
		return
	}

	paymentID := uuid.NewString()
	_, err = h.db.ExecContext(ctx,
		`INSERT INTO payments (id, order_id, payer_id, amount, base_amount, fee, currency, status, provider_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		paymentID, order.ID, order.PayerID, order.Amount, order.BaseAmount, order.Fee,
		"EUR", models.PaymentStatusPending, intent.ID,
	)
	if err != nil {
		// The partial unique index on live payments catches the race where
		// two concurrent calls both pass the SELECT above. The loser's
		// retry lands on the resume path and gets the winner's intent.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			h.logger.Warn("Concurrent intent creation lost the race",
				zap.String("order_id", order.ID),
				zap.String("provider_ref", intent.ID),
			)
			c.JSON(http.StatusConflict, gin.H{"error": "Payment already in progress for this order"})
			return
		}
		h.logger.Error("Failed to insert payment",
			zap.String("order_id", order.ID),
			zap.String("provider_ref", intent.ID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record payment"})
		return
	}

	h.logger.Info("Payment intent created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("payment_id", paymentID),
		zap.String("order_id", order.ID),
		zap.String("provider_ref", intent.ID),
		zap.String("amount", order.Amount.StringFixed(2)),
	)
	c.JSON(http.StatusCreated, models.CreateIntentResponse{
		PaymentID:    paymentID,
		ProviderRef:  intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       order.Amount,
		BaseAmount:   order.BaseAmount,
		Fee:          order.Fee,
		Currency:     "EUR",
	})
}
