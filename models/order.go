package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeDelivery      OrderType = "DELIVERY"
	OrderTypeService       OrderType = "SERVICE"
	OrderTypeSubscription  OrderType = "SUBSCRIPTION"
	OrderTypeStorageRental OrderType = "STORAGE_RENTAL"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeDelivery, OrderTypeService, OrderTypeSubscription, OrderTypeStorageRental:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusActive    OrderStatus = "ACTIVE"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// SettledStatus is the terminal status an order reaches when its payment
// settles. Deliveries complete, bookings are confirmed, subscriptions and
// storage rentals become active.
func (t OrderType) SettledStatus() OrderStatus {
	switch t {
	case OrderTypeDelivery:
		return OrderStatusCompleted
	case OrderTypeService:
		return OrderStatusConfirmed
	default:
		return OrderStatusActive
	}
}

type Order struct {
	ID           string          `json:"id"`
	Type         OrderType       `json:"type"`
	PayerID      string          `json:"payer_id"`
	PayeeID      string          `json:"payee_id,omitempty"`
	Title        string          `json:"title"`
	Amount       decimal.Decimal `json:"amount"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	Fee          decimal.Decimal `json:"fee"`
	Status       OrderStatus     `json:"status"`
	StorageBoxID string          `json:"storage_box_id,omitempty"`
	PeriodStart  *time.Time      `json:"period_start,omitempty"`
	PeriodEnd    *time.Time      `json:"period_end,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type CreateOrderRequest struct {
	Type          OrderType `json:"type" binding:"required"`
	PayeeID       string    `json:"payee_id"`
	Title         string    `json:"title" binding:"required"`
	BaseAmount    string    `json:"base_amount"`
	ServiceKind   string    `json:"service_kind"`
	DurationHours string    `json:"duration_hours"`
	Urgency       string    `json:"urgency"`
	StorageBoxID  string    `json:"storage_box_id"`
}
