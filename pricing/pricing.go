// Package pricing computes order amounts and the platform commission split.
// It is pure: no database, no clock, no provider. All rates live here so
// there is a single source of truth for money math.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ecodeli-payment-svc/models"
)

type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
	UrgencyUrgent Urgency = "URGENT"
)

type Tier string

const (
	TierFree    Tier = "FREE"
	TierStarter Tier = "STARTER"
	TierPremium Tier = "PREMIUM"
)

type ServiceKind string

const (
	ServiceCleaning     ServiceKind = "CLEANING"
	ServiceGardening    ServiceKind = "GARDENING"
	ServiceSmallRepairs ServiceKind = "SMALL_REPAIRS"
	ServicePainting     ServiceKind = "PAINTING"
	ServicePlumbing     ServiceKind = "PLUMBING"
	ServiceElectrical   ServiceKind = "ELECTRICAL"
	ServiceAssembly     ServiceKind = "ASSEMBLY"
	ServiceOther        ServiceKind = "OTHER"
)

// Hourly rates in EUR for home services.
var hourlyRates = map[ServiceKind]decimal.Decimal{
	ServiceCleaning:     decimal.NewFromInt(20),
	ServiceGardening:    decimal.NewFromInt(25),
	ServiceSmallRepairs: decimal.NewFromInt(35),
	ServicePainting:     decimal.NewFromInt(30),
	ServicePlumbing:     decimal.NewFromInt(45),
	ServiceElectrical:   decimal.NewFromInt(50),
	ServiceAssembly:     decimal.NewFromInt(25),
	ServiceOther:        decimal.NewFromInt(30),
}

var urgencyMultipliers = map[Urgency]decimal.Decimal{
	UrgencyLow:    decimal.NewFromFloat(1.0),
	UrgencyMedium: decimal.NewFromFloat(1.1),
	UrgencyHigh:   decimal.NewFromFloat(1.3),
	UrgencyUrgent: decimal.NewFromFloat(1.5),
}

// Subscription tier discount applied to the computed total.
var tierDiscounts = map[Tier]decimal.Decimal{
	TierFree:    decimal.Zero,
	TierStarter: decimal.NewFromFloat(0.05),
	TierPremium: decimal.NewFromFloat(0.09),
}

// Platform commission by order type. Subscriptions are platform revenue and
// have no payee, hence no commission split.
var commissionRates = map[models.OrderType]decimal.Decimal{
	models.OrderTypeDelivery:      decimal.NewFromFloat(0.15),
	models.OrderTypeService:       decimal.NewFromFloat(0.15),
	models.OrderTypeStorageRental: decimal.NewFromFloat(0.05),
	models.OrderTypeSubscription:  decimal.Zero,
}

var (
	// Fixed travel charge added to every hourly home service.
	travelCharge = decimal.NewFromInt(15)
	// Service fee is 5% of the base, floored at 1 EUR.
	serviceFeeRate = decimal.NewFromFloat(0.05)
	minServiceFee  = decimal.NewFromInt(1)
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type Input struct {
	OrderType models.OrderType
	// BaseAmount is the flat price for DELIVERY, SUBSCRIPTION and
	// STORAGE_RENTAL orders. Ignored for SERVICE.
	BaseAmount decimal.Decimal
	// ServiceKind and DurationHours drive SERVICE pricing. Ignored otherwise.
	ServiceKind   ServiceKind
	DurationHours decimal.Decimal
	Urgency       Urgency
	Tier          Tier
}

type Quote struct {
	BaseAmount  decimal.Decimal `json:"base_amount"`
	Fee         decimal.Decimal `json:"fee"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// ComputeQuote prices an order. All outputs are non-negative and rounded to
// cents. Rejects out-of-range inputs instead of defaulting.
func ComputeQuote(in Input) (Quote, error) {
	if !in.OrderType.Valid() {
		return Quote{}, &ValidationError{Field: "order_type", Reason: fmt.Sprintf("unknown type %q", in.OrderType)}
	}
	mult, ok := urgencyMultipliers[in.Urgency]
	if !ok {
		return Quote{}, &ValidationError{Field: "urgency", Reason: fmt.Sprintf("unknown level %q", in.Urgency)}
	}
	discount, ok := tierDiscounts[in.Tier]
	if !ok {
		return Quote{}, &ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", in.Tier)}
	}

	var base decimal.Decimal
	if in.OrderType == models.OrderTypeService {
		rate, ok := hourlyRates[in.ServiceKind]
		if !ok {
			return Quote{}, &ValidationError{Field: "service_kind", Reason: fmt.Sprintf("unknown kind %q", in.ServiceKind)}
		}
		if in.DurationHours.LessThanOrEqual(decimal.Zero) {
			return Quote{}, &ValidationError{Field: "duration_hours", Reason: "must be positive"}
		}
		base = rate.Mul(in.DurationHours).Mul(mult).Add(travelCharge)
	} else {
		if in.BaseAmount.LessThanOrEqual(decimal.Zero) {
			return Quote{}, &ValidationError{Field: "base_amount", Reason: "must be positive"}
		}
		base = in.BaseAmount.Mul(mult)
	}
	base = base.Round(2)

	fee := base.Mul(serviceFeeRate).Round(2)
	if fee.LessThan(minServiceFee) {
		fee = minServiceFee
	}

	total := base.Add(fee)
	if discount.IsPositive() {
		total = total.Mul(decimal.NewFromInt(1).Sub(discount))
	}
	total = total.Round(2)

	return Quote{BaseAmount: base, Fee: fee, TotalAmount: total}, nil
}

// CommissionRate returns the platform's cut for an order type.
func CommissionRate(t models.OrderType) decimal.Decimal {
	rate, ok := commissionRates[t]
	if !ok {
		return decimal.NewFromFloat(0.15)
	}
	return rate
}

// PayeeShare is what the counterparty earns from a settled payment:
// total minus the platform commission, rounded to cents.
func PayeeShare(t models.OrderType, total decimal.Decimal) decimal.Decimal {
	rate := CommissionRate(t)
	return total.Mul(decimal.NewFromInt(1).Sub(rate)).Round(2)
}

// ParseUrgency validates a wire value, defaulting empty to LOW.
func ParseUrgency(s string) (Urgency, error) {
	if s == "" {
		return UrgencyLow, nil
	}
	u := Urgency(s)
	if _, ok := urgencyMultipliers[u]; !ok {
		return "", &ValidationError{Field: "urgency", Reason: fmt.Sprintf("unknown level %q", s)}
	}
	return u, nil
}

// ParseTier validates a wire value, defaulting empty to FREE.
func ParseTier(s string) (Tier, error) {
	if s == "" {
		return TierFree, nil
	}
	t := Tier(s)
	if _, ok := tierDiscounts[t]; !ok {
		return "", &ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", s)}
	}
	return t, nil
}
