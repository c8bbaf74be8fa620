// Package reconciler sweeps payments stuck in PENDING. Webhook delivery is
// at-least-once but not guaranteed in order or at all; when a delivery is
// lost, the payment would hang forever. The reconciler polls the provider
// for the intent's real status and feeds terminal outcomes through the same
// settlement processor the webhook path uses, so both paths share one
// replay guard.
package reconciler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ecodeli-payment-svc/models"
	"ecodeli-payment-svc/provider"
	"ecodeli-payment-svc/settlement"

	"go.uber.org/zap"
)

// Backoff controls per-payment provider polling. Delay grows exponentially
// from BaseDelay; after MaxAttempts the payment is left for the next sweep.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns the wait before the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	return b.BaseDelay << uint(attempt)
}

type Reconciler struct {
	db         *sql.DB
	provider   provider.Client
	settlement *settlement.Processor
	logger     *zap.Logger

	interval   time.Duration
	staleAfter time.Duration
	backoff    Backoff
}

func New(db *sql.DB, providerClient provider.Client, proc *settlement.Processor, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		db:         db,
		provider:   providerClient,
		settlement: proc,
		logger:     logger,
		interval:   time.Minute,
		staleAfter: 15 * time.Minute,
		backoff:    Backoff{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond},
	}
}

// Run sweeps until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Reconciler started",
		zap.Duration("interval", r.interval),
		zap.Duration("stale_after", r.staleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("Reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep reconciles every payment that has sat PENDING past the staleness
// threshold. Errors on individual payments are logged and skipped so one
// bad payment cannot starve the rest.
func (r *Reconciler) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.staleAfter)
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, provider_ref FROM payments
		 WHERE status = $1 AND provider_ref IS NOT NULL AND created_at < $2
		 ORDER BY created_at`,
		models.PaymentStatusPending, cutoff,
	)
	if err != nil {
		return fmt.Errorf("list stale pending payments: %w", err)
	}
	defer rows.Close()

	type stale struct{ id, providerRef string }
	var pending []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.id, &s.providerRef); err != nil {
			return fmt.Errorf("scan stale payment: %w", err)
		}
		pending = append(pending, s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate stale payments: %w", err)
	}

	for _, s := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.reconcile(ctx, s.id, s.providerRef); err != nil {
			r.logger.Warn("Failed to reconcile payment",
				zap.String("payment_id", s.id),
				zap.String("provider_ref", s.providerRef),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (r *Reconciler) reconcile(ctx context.Context, paymentID, providerRef string) error {
	intent, err := r.retrieveWithBackoff(ctx, providerRef)
	if err != nil {
		return err
	}

	switch intent.Status {
	case provider.IntentStatusSucceeded:
		r.logger.Info("Recovering settlement missed by webhook",
			zap.String("payment_id", paymentID),
			zap.String("provider_ref", providerRef),
		)
		return r.settlement.HandleSuccess(ctx, providerRef)
	case provider.IntentStatusFailed:
		return r.settlement.HandleFailure(ctx, providerRef)
	case provider.IntentStatusCanceled:
		return r.settlement.HandleCancellation(ctx, providerRef)
	case provider.IntentStatusPending:
		// Genuinely still open at the provider; nothing to do.
		return nil
	default:
		return fmt.Errorf("provider reported unknown intent status %q", intent.Status)
	}
}

func (r *Reconciler) retrieveWithBackoff(ctx context.Context, providerRef string) (*provider.Intent, error) {
	var lastErr error
	for attempt := 0; attempt < r.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.backoff.Delay(attempt - 1)):
			}
		}
		intent, err := r.provider.RetrieveIntent(ctx, providerRef)
		if err == nil {
			return intent, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("retrieve intent after %d attempts: %w", r.backoff.MaxAttempts, lastErr)
}
