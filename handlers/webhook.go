package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"ecodeli-payment-svc/middleware"
	"ecodeli-payment-svc/provider"
	"ecodeli-payment-svc/settlement"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxWebhookBody = 1 << 20
	eventDedupTTL  = 24 * time.Hour
)

// EventDeduper is the webhook dedup fast path, satisfied by cache.Deduper.
type EventDeduper interface {
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	ClearEvent(ctx context.Context, eventID string) error
}

type WebhookHandler struct {
	settlement *settlement.Processor
	dedup      EventDeduper
	logger     *zap.Logger
	secret     string
	now        func() time.Time
}

func NewWebhookHandler(proc *settlement.Processor, dedup EventDeduper, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		settlement: proc,
		dedup:      dedup,
		logger:     logger,
		secret:     os.Getenv("WEBHOOK_SECRET"),
		now:        time.Now,
	}
}

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// HandleWebhook ingests provider event deliveries. The signature is checked
// against the raw body before any parsing; an unverified request changes
// nothing and gets a 401. Replays are acked with 200 so the provider stops
// redelivering.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	header := c.GetHeader(provider.SignatureHeader)
	if err := provider.VerifySignature(h.secret, header, body, h.now(), provider.DefaultTolerance); err != nil {
		middleware.RecordWebhookEvent("unknown", "rejected")
		h.logger.Warn("Webhook signature rejected",
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed event payload"})
		return
	}

	ctx := c.Request.Context()

	// Redis fast path only. A miss or an error falls through to the
	// settlement CAS, which is the authoritative replay guard. The mark is
	// released again if processing fails, so the provider's redelivery is
	// not mistaken for a duplicate of a settlement that never happened.
	marked := false
	if h.dedup != nil && event.ID != "" {
		first, err := h.dedup.MarkEventSeen(ctx, event.ID, eventDedupTTL)
		if err != nil {
			h.logger.Warn("Event dedup check failed, continuing", zap.Error(err))
		} else if !first {
			middleware.RecordWebhookEvent(event.Type, "duplicate")
			h.logger.Info("Duplicate webhook event acked",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type),
			)
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		} else {
			marked = true
		}
	}

	providerRef := event.Data.Object.ID
	switch event.Type {
	case "payment_intent.succeeded":
		err = h.settlement.HandleSuccess(ctx, providerRef)
	case "payment_intent.payment_failed":
		err = h.settlement.HandleFailure(ctx, providerRef)
	case "payment_intent.canceled":
		err = h.settlement.HandleCancellation(ctx, providerRef)
	default:
		middleware.RecordWebhookEvent(event.Type, "ignored")
		h.logger.Info("Ignoring unhandled webhook event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
		)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if errors.Is(err, settlement.ErrPaymentNotFound) {
		// Dangling ref; ack so the provider stops retrying, keep a trace.
		middleware.RecordWebhookEvent(event.Type, "unmatched")
		h.logger.Error("Webhook references unknown payment",
			zap.String("event_id", event.ID),
			zap.String("provider_ref", providerRef),
		)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if err != nil {
		if marked {
			if clearErr := h.dedup.ClearEvent(ctx, event.ID); clearErr != nil {
				h.logger.Warn("Failed to release event dedup mark",
					zap.String("event_id", event.ID),
					zap.Error(clearErr),
				)
			}
		}
		middleware.RecordWebhookEvent(event.Type, "error")
		h.logger.Error("Webhook processing failed",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		// Non-2xx makes the provider redeliver; safe because processing
		// is replay-safe.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Processing failed"})
		return
	}

	middleware.RecordWebhookEvent(event.Type, "processed")
	c.JSON(http.StatusOK, gin.H{"received": true})
}
