package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func ptr[T any](v T) *T { return &v }

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func baseCoupon(code string) *Coupon {
	return &Coupon{
		Code:      code,
		Type:      DiscountPercentage,
		Value:     d("10"),
		IsActive:  true,
		Category:  CategoryPromo,
		Stackable: true,
		CreatedAt: testNow.Add(-24 * time.Hour),
	}
}

func TestEvaluate(t *testing.T) {
	yesterday := testNow.Add(-24 * time.Hour)
	tomorrow := testNow.Add(24 * time.Hour)

	tests := []struct {
		name       string
		coupon     *Coupon
		order      OrderContext
		wantReason Reason
	}{
		{
			name:   "all checks pass",
			coupon: baseCoupon("OK10"),
			order:  OrderContext{SubtotalMinor: 10000},
		},
		{
			name: "kill switched coupon is inactive",
			coupon: func() *Coupon {
				c := baseCoupon("DEAD")
				c.IsActive = false
				return c
			}(),
			order:      OrderContext{SubtotalMinor: 10000},
			wantReason: ReasonInactive,
		},
		{
			name: "window not yet open",
			coupon: func() *Coupon {
				c := baseCoupon("SOON")
				c.StartsAt = &tomorrow
				return c
			}(),
			order:      OrderContext{SubtotalMinor: 10000},
			wantReason: ReasonNotYetStarted,
		},
		{
			name: "expired yesterday regardless of other fields",
			coupon: func() *Coupon {
				c := baseCoupon("GONE")
				c.ExpiresAt = &yesterday
				return c
			}(),
			order:      OrderContext{SubtotalMinor: 10000},
			wantReason: ReasonExpired,
		},
		{
			name: "usage cap reached",
			coupon: func() *Coupon {
				c := baseCoupon("CAPPED")
				c.MaxUses = ptr(5)
				c.CurrentUses = 5
				return c
			}(),
			order:      OrderContext{SubtotalMinor: 10000},
			wantReason: ReasonUsesExhausted,
		},
		{
			name: "one use left still eligible",
			coupon: func() *Coupon {
				c := baseCoupon("LAST")
				c.MaxUses = ptr(5)
				c.CurrentUses = 4
				return c
			}(),
			order: OrderContext{SubtotalMinor: 10000},
		},
		{
			name: "minimum purchase not met",
			coupon: func() *Coupon {
				c := baseCoupon("MIN50")
				c.MinPurchase = ptr(int64(5000))
				return c
			}(),
			order:      OrderContext{SubtotalMinor: 4999},
			wantReason: ReasonMinPurchaseNotMet,
		},
		{
			name: "minimum purchase met exactly",
			coupon: func() *Coupon {
				c := baseCoupon("MIN50")
				c.MinPurchase = ptr(int64(5000))
				return c
			}(),
			order: OrderContext{SubtotalMinor: 5000},
		},
		{
			name: "first time only rejects returning customer",
			coupon: func() *Coupon {
				c := baseCoupon("WELCOME")
				c.FirstTimeOnly = true
				return c
			}(),
			order:      OrderContext{SubtotalMinor: 100, CustomerHasPriorOrders: true},
			wantReason: ReasonNotFirstTime,
		},
		{
			name: "first time only accepts new customer",
			coupon: func() *Coupon {
				c := baseCoupon("WELCOME")
				c.FirstTimeOnly = true
				return c
			}(),
			order: OrderContext{SubtotalMinor: 100},
		},
		{
			name: "targeting mismatch",
			coupon: func() *Coupon {
				c := baseCoupon("PRODX")
				c.Targeting = Targeting{Kind: TargetProductIn, IDs: []string{"p1"}}
				return c
			}(),
			order:      OrderContext{SubtotalMinor: 10000, ProductID: "p2"},
			wantReason: ReasonNotApplicable,
		},
		{
			name: "targeting match",
			coupon: func() *Coupon {
				c := baseCoupon("PRODX")
				c.Targeting = Targeting{Kind: TargetProductIn, IDs: []string{"p1", "p2"}}
				return c
			}(),
			order: OrderContext{SubtotalMinor: 10000, ProductID: "p2"},
		},
		{
			name: "inactive wins over expired when both fail",
			coupon: func() *Coupon {
				c := baseCoupon("BOTH")
				c.IsActive = false
				c.ExpiresAt = &yesterday
				return c
			}(),
			order:      OrderContext{SubtotalMinor: 10000},
			wantReason: ReasonInactive,
		},
		{
			name: "expired wins over exhausted uses",
			coupon: func() *Coupon {
				c := baseCoupon("ORDER")
				c.ExpiresAt = &yesterday
				c.MaxUses = ptr(1)
				c.CurrentUses = 1
				return c
			}(),
			order:      OrderContext{SubtotalMinor: 10000},
			wantReason: ReasonExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rej := Evaluate(tt.coupon, tt.order, testNow, DefaultMatcher())

			if tt.wantReason == "" {
				assert.Nil(t, rej)
				return
			}
			require.NotNil(t, rej)
			assert.Equal(t, tt.wantReason, rej.Reason)
			assert.Equal(t, tt.coupon.Code, rej.Code)
		})
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	c := baseCoupon("SAME")
	c.MinPurchase = ptr(int64(500))
	order := OrderContext{SubtotalMinor: 499}

	first := Evaluate(c, order, testNow, nil)
	second := Evaluate(c, order, testNow, nil)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
}

func TestEvaluate_BoundaryInstants(t *testing.T) {
	c := baseCoupon("EDGE")
	c.StartsAt = ptr(testNow)
	c.ExpiresAt = ptr(testNow)

	// The window is inclusive at both ends.
	assert.Nil(t, Evaluate(c, OrderContext{SubtotalMinor: 100}, testNow, nil))
}
