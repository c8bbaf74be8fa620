package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"ecodeli-payment-svc/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeQuote_FlatOrders(t *testing.T) {
	tests := []struct {
		name      string
		orderType models.OrderType
		base      string
		urgency   Urgency
		tier      Tier
		wantBase  string
		wantFee   string
		wantTotal string
	}{
		{
			name:      "delivery medium urgency free tier",
			orderType: models.OrderTypeDelivery,
			base:      "40.00",
			urgency:   UrgencyMedium,
			tier:      TierFree,
			wantBase:  "44.00",
			wantFee:   "2.20",
			wantTotal: "46.20",
		},
		{
			name:      "delivery low urgency no multiplier",
			orderType: models.OrderTypeDelivery,
			base:      "100.00",
			urgency:   UrgencyLow,
			tier:      TierFree,
			wantBase:  "100.00",
			wantFee:   "5.00",
			wantTotal: "105.00",
		},
		{
			name:      "small amount hits minimum fee",
			orderType: models.OrderTypeDelivery,
			base:      "10.00",
			urgency:   UrgencyLow,
			tier:      TierFree,
			wantBase:  "10.00",
			wantFee:   "1.00",
			wantTotal: "11.00",
		},
		{
			name:      "starter tier gets 5 percent off",
			orderType: models.OrderTypeDelivery,
			base:      "100.00",
			urgency:   UrgencyLow,
			tier:      TierStarter,
			wantBase:  "100.00",
			wantFee:   "5.00",
			wantTotal: "99.75",
		},
		{
			name:      "premium tier gets 9 percent off",
			orderType: models.OrderTypeDelivery,
			base:      "100.00",
			urgency:   UrgencyLow,
			tier:      TierPremium,
			wantBase:  "100.00",
			wantFee:   "5.00",
			wantTotal: "95.55",
		},
		{
			name:      "urgent storage rental",
			orderType: models.OrderTypeStorageRental,
			base:      "60.00",
			urgency:   UrgencyUrgent,
			tier:      TierFree,
			wantBase:  "90.00",
			wantFee:   "4.50",
			wantTotal: "94.50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ComputeQuote(Input{
				OrderType:  tt.orderType,
				BaseAmount: dec(tt.base),
				Urgency:    tt.urgency,
				Tier:       tt.tier,
			})
			if err != nil {
				t.Fatalf("ComputeQuote returned error: %v", err)
			}
			if !q.BaseAmount.Equal(dec(tt.wantBase)) {
				t.Errorf("BaseAmount = %s, want %s", q.BaseAmount, tt.wantBase)
			}
			if !q.Fee.Equal(dec(tt.wantFee)) {
				t.Errorf("Fee = %s, want %s", q.Fee, tt.wantFee)
			}
			if !q.TotalAmount.Equal(dec(tt.wantTotal)) {
				t.Errorf("TotalAmount = %s, want %s", q.TotalAmount, tt.wantTotal)
			}
		})
	}
}

func TestComputeQuote_HourlyService(t *testing.T) {
	// 2h plumbing at 45/h, high urgency: 2*45*1.3 + 15 travel = 132.00
	q, err := ComputeQuote(Input{
		OrderType:     models.OrderTypeService,
		ServiceKind:   ServicePlumbing,
		DurationHours: dec("2"),
		Urgency:       UrgencyHigh,
		Tier:          TierFree,
	})
	if err != nil {
		t.Fatalf("ComputeQuote returned error: %v", err)
	}
	if !q.BaseAmount.Equal(dec("132.00")) {
		t.Errorf("BaseAmount = %s, want 132.00", q.BaseAmount)
	}
	if !q.Fee.Equal(dec("6.60")) {
		t.Errorf("Fee = %s, want 6.60", q.Fee)
	}
	if !q.TotalAmount.Equal(dec("138.60")) {
		t.Errorf("TotalAmount = %s, want 138.60", q.TotalAmount)
	}
}

func TestComputeQuote_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		input Input
		field string
	}{
		{
			name:  "unknown order type",
			input: Input{OrderType: "PARCEL", BaseAmount: dec("10"), Urgency: UrgencyLow, Tier: TierFree},
			field: "order_type",
		},
		{
			name:  "unknown urgency",
			input: Input{OrderType: models.OrderTypeDelivery, BaseAmount: dec("10"), Urgency: "EXTREME", Tier: TierFree},
			field: "urgency",
		},
		{
			name:  "unknown tier",
			input: Input{OrderType: models.OrderTypeDelivery, BaseAmount: dec("10"), Urgency: UrgencyLow, Tier: "GOLD"},
			field: "tier",
		},
		{
			name:  "zero base amount",
			input: Input{OrderType: models.OrderTypeDelivery, BaseAmount: decimal.Zero, Urgency: UrgencyLow, Tier: TierFree},
			field: "base_amount",
		},
		{
			name:  "negative base amount",
			input: Input{OrderType: models.OrderTypeDelivery, BaseAmount: dec("-5"), Urgency: UrgencyLow, Tier: TierFree},
			field: "base_amount",
		},
		{
			name: "zero duration",
			input: Input{
				OrderType: models.OrderTypeService, ServiceKind: ServiceCleaning,
				DurationHours: decimal.Zero, Urgency: UrgencyLow, Tier: TierFree,
			},
			field: "duration_hours",
		},
		{
			name: "unknown service kind",
			input: Input{
				OrderType: models.OrderTypeService, ServiceKind: "EXORCISM",
				DurationHours: dec("1"), Urgency: UrgencyLow, Tier: TierFree,
			},
			field: "service_kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeQuote(tt.input)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Field != tt.field {
				t.Errorf("error field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestPayeeShare(t *testing.T) {
	tests := []struct {
		name      string
		orderType models.OrderType
		total     string
		want      string
	}{
		{"delivery 15 percent commission", models.OrderTypeDelivery, "50.00", "42.50"},
		{"service 15 percent commission", models.OrderTypeService, "100.00", "85.00"},
		{"storage 5 percent commission", models.OrderTypeStorageRental, "80.00", "76.00"},
		{"subscription keeps full amount", models.OrderTypeSubscription, "19.99", "19.99"},
		{"rounds to cents", models.OrderTypeDelivery, "33.33", "28.33"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PayeeShare(tt.orderType, dec(tt.total))
			if !got.Equal(dec(tt.want)) {
				t.Errorf("PayeeShare(%s, %s) = %s, want %s", tt.orderType, tt.total, got, tt.want)
			}
		})
	}
}

func TestParseUrgency(t *testing.T) {
	if u, err := ParseUrgency(""); err != nil || u != UrgencyLow {
		t.Errorf("empty urgency = (%v, %v), want (LOW, nil)", u, err)
	}
	if _, err := ParseUrgency("WHENEVER"); err == nil {
		t.Error("expected error for unknown urgency")
	}
	if u, err := ParseUrgency("URGENT"); err != nil || u != UrgencyUrgent {
		t.Errorf("URGENT = (%v, %v), want (URGENT, nil)", u, err)
	}
}

func TestParseTier(t *testing.T) {
	if tr, err := ParseTier(""); err != nil || tr != TierFree {
		t.Errorf("empty tier = (%v, %v), want (FREE, nil)", tr, err)
	}
	if _, err := ParseTier("PLATINUM"); err == nil {
		t.Error("expected error for unknown tier")
	}
}
