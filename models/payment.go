package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// IsTerminal reports whether no further transition is possible.
// REFUNDED, FAILED and CANCELLED are dead ends; COMPLETED can still move to REFUNDED.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusCancelled || s == PaymentStatusRefunded
}

// CanTransitionTo enforces the payment state machine:
// PENDING -> COMPLETED | FAILED | CANCELLED, COMPLETED -> REFUNDED.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	switch s {
	case PaymentStatusPending:
		return target == PaymentStatusCompleted || target == PaymentStatusFailed || target == PaymentStatusCancelled
	case PaymentStatusCompleted:
		return target == PaymentStatusRefunded
	default:
		return false
	}
}

type Payment struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	PayerID      string          `json:"payer_id"`
	Amount       decimal.Decimal `json:"amount"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	Fee          decimal.Decimal `json:"fee"`
	Currency     string          `json:"currency"`
	Status       PaymentStatus   `json:"status"`
	ProviderRef  string          `json:"provider_ref"`
	RefundReason string          `json:"refund_reason,omitempty"`
	RefundedBy   string          `json:"refunded_by,omitempty"`
	CapturedAt   *time.Time      `json:"captured_at,omitempty"`
	RefundedAt   *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type CreateIntentResponse struct {
	PaymentID    string          `json:"payment_id"`
	ProviderRef  string          `json:"provider_ref"`
	ClientSecret string          `json:"client_secret"`
	Amount       decimal.Decimal `json:"amount"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	Fee          decimal.Decimal `json:"fee"`
	Currency     string          `json:"currency"`
}

type RefundRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type RefundResponse struct {
	Success        bool            `json:"success"`
	RefundID       string          `json:"refund_id"`
	PaymentID      string          `json:"payment_id"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	// The payee's wallet credit is not clawed back automatically; the
	// amount already paid out is reported so back-office can reconcile.
	PayeeCredited decimal.Decimal `json:"payee_credited"`
}
