package models

import "time"

type NotificationType string

const (
	NotificationPaymentConfirmed NotificationType = "PAYMENT_CONFIRMED"
	NotificationPaymentReceived  NotificationType = "PAYMENT_RECEIVED"
	NotificationPaymentFailed    NotificationType = "PAYMENT_FAILED"
	NotificationPaymentCancelled NotificationType = "PAYMENT_CANCELLED"
	NotificationPaymentRefunded  NotificationType = "PAYMENT_REFUNDED"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}

// PaymentEvent is published to Kafka after a settlement transaction commits.
// Delivery is fire-and-forget; it never participates in financial invariants.
type PaymentEvent struct {
	EventType   string `json:"event_type"` // payment_settled, payment_failed, payment_cancelled, payment_refunded
	PaymentID   string `json:"payment_id"`
	OrderID     string `json:"order_id"`
	OrderType   string `json:"order_type"`
	PayerID     string `json:"payer_id"`
	PayeeID     string `json:"payee_id,omitempty"`
	Amount      string `json:"amount"`
	PayeeShare  string `json:"payee_share,omitempty"`
	ProviderRef string `json:"provider_ref"`
}
