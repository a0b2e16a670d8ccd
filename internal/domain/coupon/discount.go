package coupon

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Application records the discount a single coupon produced.
type Application struct {
	Code        string
	AmountMinor int64
}

// Result is the outcome of applying an ordered coupon list to a subtotal.
type Result struct {
	PerCoupon          []Application
	TotalDiscountMinor int64
	FinalAmountMinor   int64
}

// Apply computes the discount for an already-resolved, ordered coupon list
// against a subtotal in minor units.
//
// Coupons apply sequentially against the shrinking remaining total
// (percent-of-remaining semantics), so stacked percentage coupons never
// over-discount. Each coupon's amount is capped by its MaxDiscount and by
// the remaining total, which makes the final amount non-negative by
// construction.
//
// Percentages round half-to-even on the minor unit; the rounding direction
// feeds total-savings accounting and must stay consistent.
//
// A negative subtotal is a caller contract violation and returns
// ErrNegativeSubtotal; Apply itself never produces a business rejection.
func Apply(ordered []*Coupon, subtotalMinor int64) (Result, error) {
	if subtotalMinor < 0 {
		return Result{}, ErrNegativeSubtotal
	}

	running := subtotalMinor
	per := make([]Application, 0, len(ordered))

	for _, c := range ordered {
		amount := discountAmount(c, running)
		per = append(per, Application{Code: c.Code, AmountMinor: amount})
		running -= amount
	}

	return Result{
		PerCoupon:          per,
		TotalDiscountMinor: subtotalMinor - running,
		FinalAmountMinor:   running,
	}, nil
}

// discountAmount computes one coupon's capped discount against the remaining
// total.
func discountAmount(c *Coupon, remainingMinor int64) int64 {
	var raw int64
	switch c.Type {
	case DiscountPercentage:
		raw = decimal.NewFromInt(remainingMinor).
			Mul(c.Value).
			Div(hundred).
			RoundBank(0).
			IntPart()
	case DiscountFixed:
		raw = c.Value.RoundBank(0).IntPart()
	default:
		raw = 0
	}

	if raw < 0 {
		raw = 0
	}
	if c.MaxDiscount != nil && raw > *c.MaxDiscount {
		raw = *c.MaxDiscount
	}
	if raw > remainingMinor {
		raw = remainingMinor
	}
	return raw
}
