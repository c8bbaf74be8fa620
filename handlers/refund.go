package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"ecodeli-payment-svc/middleware"
	"ecodeli-payment-svc/models"
	"ecodeli-payment-svc/provider"
	"ecodeli-payment-svc/settlement"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RefundHandler struct {
	db         *sql.DB
	provider   provider.Client
	settlement *settlement.Processor
	logger     *zap.Logger
}

func NewRefundHandler(db *sql.DB, providerClient provider.Client, proc *settlement.Processor, logger *zap.Logger) *RefundHandler {
	return &RefundHandler{db: db, provider: providerClient, settlement: proc, logger: logger}
}

// RefundPayment refunds a COMPLETED payment in full. Admin only. The
// provider is called first; only a confirmed provider refund flips the local
// status, so a failed provider call leaves the payment COMPLETED and
// retryable.
func (h *RefundHandler) RefundPayment(c *gin.Context) {
	paymentID := c.Param("id")
	adminID := c.GetString(middleware.ContextUserID)

	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}

	ctx := c.Request.Context()

	var status models.PaymentStatus
	var providerRef sql.NullString
	err := h.db.QueryRowContext(ctx,
		`SELECT status, provider_ref FROM payments WHERE id = $1`,
		paymentID,
	).Scan(&status, &providerRef)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to load payment", zap.String("payment_id", paymentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payment"})
		return
	}
	if status != models.PaymentStatusCompleted {
		middleware.RecordRefund("rejected")
		c.JSON(http.StatusConflict, gin.H{"error": "Only completed payments can be refunded"})
		return
	}

	refund, err := h.provider.RefundIntent(ctx, providerRef.String, req.Reason)
	if err != nil {
		middleware.RecordRefund("provider_error")
		h.logger.Error("Provider refund failed",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment provider unavailable"})
		return
	}

	payment, err := h.settlement.MarkRefunded(ctx, paymentID, req.Reason, adminID)
	if err != nil {
		if errors.Is(err, settlement.ErrNotRefundable) {
			// Lost the race with another admin; the provider refund went
			// through on their request too, so answer 409.
			middleware.RecordRefund("rejected")
			c.JSON(http.StatusConflict, gin.H{"error": "Payment is no longer refundable"})
			return
		}
		h.logger.Error("Failed to record refund",
			zap.String("payment_id", paymentID),
			zap.String("refund_id", refund.ID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record refund"})
		return
	}

	credited, err := h.settlement.PayeeCredit(ctx, paymentID)
	if err != nil {
		h.logger.Warn("Failed to compute payee exposure", zap.String("payment_id", paymentID), zap.Error(err))
	}

	middleware.RecordRefund("refunded")
	h.logger.Info("Payment refunded",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("payment_id", paymentID),
		zap.String("refund_id", refund.ID),
		zap.String("admin_id", adminID),
		zap.String("amount", payment.Amount.StringFixed(2)),
	)
	c.JSON(http.StatusOK, models.RefundResponse{
		Success:        true,
		RefundID:       refund.ID,
		PaymentID:      paymentID,
		RefundedAmount: payment.Amount,
		PayeeCredited:  credited,
	})
}
