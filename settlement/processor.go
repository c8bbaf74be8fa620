// Package settlement applies the financial effects of payment outcomes.
// It is the only code allowed to move a payment out of PENDING and the only
// code allowed to touch wallet balances. Every mutation happens inside a
// single database transaction; the status update is a compare-and-swap so a
// replayed provider event finds zero rows and becomes a no-op.
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ecodeli-payment-svc/kafka"
	"ecodeli-payment-svc/middleware"
	"ecodeli-payment-svc/models"
	"ecodeli-payment-svc/pricing"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrNotRefundable is returned when a refund targets a payment that is
	// not COMPLETED.
	ErrNotRefundable = errors.New("only completed payments can be refunded")
)

type Processor struct {
	db       *sql.DB
	producer sarama.SyncProducer
	logger   *zap.Logger
	topic    string
}

func NewProcessor(db *sql.DB, producer sarama.SyncProducer, logger *zap.Logger, topic string) *Processor {
	return &Processor{
		db:       db,
		producer: producer,
		logger:   logger,
		topic:    topic,
	}
}

// HandleSuccess settles a payment reported successful by the provider.
// Replays return nil without touching anything: the PENDING->COMPLETED
// compare-and-swap matches zero rows on a second delivery.
func (p *Processor) HandleSuccess(ctx context.Context, providerRef string) error {
	ctx, span := otel.Tracer("ecodeli-payment-svc").Start(ctx, "SettlePayment")
	defer span.End()
	span.SetAttributes(attribute.String("provider_ref", providerRef))

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin settlement transaction: %w", err)
	}
	defer tx.Rollback()

	var payment models.Payment
	err = tx.QueryRowContext(ctx,
		`UPDATE payments SET status = $2, captured_at = NOW(), updated_at = NOW()
		 WHERE provider_ref = $1 AND status = $3
		 RETURNING id, order_id, payer_id, amount`,
		providerRef, models.PaymentStatusCompleted, models.PaymentStatusPending,
	).Scan(&payment.ID, &payment.OrderID, &payment.PayerID, &payment.Amount)
	if errors.Is(err, sql.ErrNoRows) {
		return p.explainNoSwap(ctx, tx, providerRef)
	}
	if err != nil {
		return fmt.Errorf("complete payment: %w", err)
	}

	span.SetAttributes(attribute.String("payment.id", payment.ID))

	var order models.Order
	var payeeID, storageBoxID sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT id, type, payer_id, payee_id, title, storage_box_id FROM orders WHERE id = $1`,
		payment.OrderID,
	).Scan(&order.ID, &order.Type, &order.PayerID, &payeeID, &order.Title, &storageBoxID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", payment.OrderID, err)
	}
	order.PayeeID = payeeID.String
	order.StorageBoxID = storageBoxID.String

	payeeShare := decimal.Zero
	if order.PayeeID != "" {
		payeeShare = pricing.PayeeShare(order.Type, payment.Amount)
		if err := p.creditWallet(ctx, tx, order, payment, payeeShare); err != nil {
			return err
		}
	}

	if err := p.applyOrderEffects(ctx, tx, order); err != nil {
		return err
	}

	if err := p.insertSettlementNotifications(ctx, tx, order, payment, payeeShare); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settlement: %w", err)
	}

	middleware.RecordSettlement("completed")
	p.logger.Info("Payment settled",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("payment_id", payment.ID),
		zap.String("order_id", order.ID),
		zap.String("order_type", string(order.Type)),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("payee_share", payeeShare.StringFixed(2)),
	)

	p.publish(ctx, models.PaymentEvent{
		EventType:   "payment_settled",
		PaymentID:   payment.ID,
		OrderID:     order.ID,
		OrderType:   string(order.Type),
		PayerID:     payment.PayerID,
		PayeeID:     order.PayeeID,
		Amount:      payment.Amount.StringFixed(2),
		PayeeShare:  payeeShare.StringFixed(2),
		ProviderRef: providerRef,
	})
	return nil
}

// explainNoSwap distinguishes a replay (fine, ack) from a dangling provider
// ref (logged, still acked so the provider stops retrying).
func (p *Processor) explainNoSwap(ctx context.Context, tx *sql.Tx, providerRef string) error {
	var status models.PaymentStatus
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM payments WHERE provider_ref = $1`, providerRef,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPaymentNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect payment %s: %w", providerRef, err)
	}
	middleware.RecordSettlement("replay")
	p.logger.Info("Settlement event replayed, no-op",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("provider_ref", providerRef),
		zap.String("status", string(status)),
	)
	return nil
}

func (p *Processor) creditWallet(ctx context.Context, tx *sql.Tx, order models.Order, payment models.Payment, share decimal.Decimal) error {
	var walletID string
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`SELECT id, balance FROM wallets WHERE user_id = $1 FOR UPDATE`,
		order.PayeeID,
	).Scan(&walletID, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		walletID = uuid.NewString()
		balance = decimal.Zero
		_, err = tx.ExecContext(ctx,
			`INSERT INTO wallets (id, user_id, balance) VALUES ($1, $2, 0)`,
			walletID, order.PayeeID,
		)
	}
	if err != nil {
		return fmt.Errorf("load wallet for user %s: %w", order.PayeeID, err)
	}

	newBalance := balance.Add(share)
	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance = $2, updated_at = NOW() WHERE id = $1`,
		walletID, newBalance,
	); err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}

	// The ledger row and the balance write share the transaction; the
	// balance is never touched without its matching ledger entry.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_transactions (id, wallet_id, type, amount, description, reference_id, balance_before, balance_after)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.NewString(), walletID, models.TransactionTypeCredit, share,
		fmt.Sprintf("Earnings - %s", order.Title), payment.ID, balance, newBalance,
	); err != nil {
		return fmt.Errorf("insert wallet transaction: %w", err)
	}

	middleware.RecordWalletCredit()
	return nil
}

func (p *Processor) applyOrderEffects(ctx context.Context, tx *sql.Tx, order models.Order) error {
	settled := order.Type.SettledStatus()
	switch order.Type {
	case models.OrderTypeDelivery:
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $2, completed_at = NOW(), updated_at = NOW() WHERE id = $1`,
			order.ID, settled,
		); err != nil {
			return fmt.Errorf("complete delivery order: %w", err)
		}
	case models.OrderTypeService:
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`,
			order.ID, settled,
		); err != nil {
			return fmt.Errorf("confirm service booking: %w", err)
		}
	case models.OrderTypeSubscription:
		// Monthly billing cycle
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $2, period_start = NOW(), period_end = NOW() + INTERVAL '1 month', updated_at = NOW() WHERE id = $1`,
			order.ID, settled,
		); err != nil {
			return fmt.Errorf("activate subscription: %w", err)
		}
	case models.OrderTypeStorageRental:
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`,
			order.ID, settled,
		); err != nil {
			return fmt.Errorf("activate storage rental: %w", err)
		}
		if order.StorageBoxID != "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE storage_boxes SET status = 'OCCUPIED', updated_at = NOW() WHERE id = $1`,
				order.StorageBoxID,
			); err != nil {
				return fmt.Errorf("occupy storage box: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown order type %q", order.Type)
	}
	return nil
}

func (p *Processor) insertSettlementNotifications(ctx context.Context, tx *sql.Tx, order models.Order, payment models.Payment, share decimal.Decimal) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), payment.PayerID, models.NotificationPaymentConfirmed,
		"Payment confirmed",
		fmt.Sprintf("Your payment of %s EUR for %q has been confirmed.", payment.Amount.StringFixed(2), order.Title),
	); err != nil {
		return fmt.Errorf("insert payer notification: %w", err)
	}

	if order.PayeeID != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO notifications (id, user_id, type, title, message) VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), order.PayeeID, models.NotificationPaymentReceived,
			"Payment received",
			fmt.Sprintf("You earned %s EUR for %q.", share.StringFixed(2), order.Title),
		); err != nil {
			return fmt.Errorf("insert payee notification: %w", err)
		}
	}
	return nil
}

// HandleFailure flips a PENDING payment to FAILED. Replay-safe through the
// same compare-and-swap as the success path.
func (p *Processor) HandleFailure(ctx context.Context, providerRef string) error {
	return p.terminate(ctx, providerRef, models.PaymentStatusFailed,
		models.NotificationPaymentFailed, "Payment failed",
		"Your payment could not be processed. No amount was charged.", "payment_failed")
}

// HandleCancellation flips a PENDING payment to CANCELLED.
func (p *Processor) HandleCancellation(ctx context.Context, providerRef string) error {
	return p.terminate(ctx, providerRef, models.PaymentStatusCancelled,
		models.NotificationPaymentCancelled, "Payment cancelled",
		"Your payment was cancelled before completion.", "payment_cancelled")
}

func (p *Processor) terminate(ctx context.Context, providerRef string, target models.PaymentStatus, notifType models.NotificationType, title, message, eventType string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var payment models.Payment
	err = tx.QueryRowContext(ctx,
		`UPDATE payments SET status = $2, updated_at = NOW()
		 WHERE provider_ref = $1 AND status = $3
		 RETURNING id, order_id, payer_id, amount`,
		providerRef, target, models.PaymentStatusPending,
	).Scan(&payment.ID, &payment.OrderID, &payment.PayerID, &payment.Amount)
	if errors.Is(err, sql.ErrNoRows) {
		return p.explainNoSwap(ctx, tx, providerRef)
	}
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), payment.PayerID, notifType, title, message,
	); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	middleware.RecordSettlement(string(target))
	p.logger.Info("Payment terminated",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("payment_id", payment.ID),
		zap.String("status", string(target)),
	)

	p.publish(ctx, models.PaymentEvent{
		EventType:   eventType,
		PaymentID:   payment.ID,
		OrderID:     payment.OrderID,
		PayerID:     payment.PayerID,
		Amount:      payment.Amount.StringFixed(2),
		ProviderRef: providerRef,
	})
	return nil
}

// MarkRefunded records a provider-confirmed refund. Precondition: the
// payment is COMPLETED. The payee's wallet credit is deliberately not
// reversed here; the refund row keeps reason and acting admin so back-office
// can reconcile the exposure.
func (p *Processor) MarkRefunded(ctx context.Context, paymentID, reason, adminID string) (*models.Payment, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var payment models.Payment
	err = tx.QueryRowContext(ctx,
		`UPDATE payments SET status = $2, refunded_at = NOW(), refund_reason = $3, refunded_by = $4, updated_at = NOW()
		 WHERE id = $1 AND status = $5
		 RETURNING id, order_id, payer_id, amount, provider_ref`,
		paymentID, models.PaymentStatusRefunded, reason, adminID, models.PaymentStatusCompleted,
	).Scan(&payment.ID, &payment.OrderID, &payment.PayerID, &payment.Amount, &payment.ProviderRef)
	if errors.Is(err, sql.ErrNoRows) {
		var status models.PaymentStatus
		inspectErr := tx.QueryRowContext(ctx,
			`SELECT status FROM payments WHERE id = $1`, paymentID,
		).Scan(&status)
		if errors.Is(inspectErr, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		if inspectErr != nil {
			return nil, fmt.Errorf("inspect payment %s: %w", paymentID, inspectErr)
		}
		return nil, fmt.Errorf("%w (status is %s)", ErrNotRefundable, status)
	}
	if err != nil {
		return nil, fmt.Errorf("mark payment refunded: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), payment.PayerID, models.NotificationPaymentRefunded,
		"Payment refunded",
		fmt.Sprintf("Your payment of %s EUR has been refunded.", payment.Amount.StringFixed(2)),
	); err != nil {
		return nil, fmt.Errorf("insert refund notification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	middleware.RecordSettlement("refunded")
	p.publish(ctx, models.PaymentEvent{
		EventType:   "payment_refunded",
		PaymentID:   payment.ID,
		OrderID:     payment.OrderID,
		PayerID:     payment.PayerID,
		Amount:      payment.Amount.StringFixed(2),
		ProviderRef: payment.ProviderRef,
	})
	return &payment, nil
}

// PayeeCredit reports what was credited to the payee for a payment, used by
// the refund endpoint to surface the unreversed exposure.
func (p *Processor) PayeeCredit(ctx context.Context, paymentID string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE reference_id = $1 AND type = $2`,
		paymentID, models.TransactionTypeCredit,
	).Scan(&amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum payee credit: %w", err)
	}
	return amount, nil
}

func (p *Processor) publish(ctx context.Context, event models.PaymentEvent) {
	if p.producer == nil {
		return
	}
	if err := kafka.PublishPaymentEvent(ctx, p.producer, p.topic, event, p.logger); err != nil {
		// Notification delivery is fire-and-forget; settlement already
		// committed.
		p.logger.Error("Failed to publish payment event",
			zap.String("payment_id", event.PaymentID),
			zap.Error(err),
		)
	}
}
