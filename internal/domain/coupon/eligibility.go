package coupon

import "time"

// Evaluate decides whether a single coupon can be applied to the given order
// at the given instant. It returns nil when the coupon is eligible, or a
// Rejection carrying the first failing check's reason.
//
// The check order is fixed and user-facing: INACTIVE, NOT_YET_STARTED /
// EXPIRED, USES_EXHAUSTED, MIN_PURCHASE_NOT_MET, NOT_FIRST_TIME,
// NOT_APPLICABLE_TO_ORDER. Reordering the checks changes which reason a
// multiply-ineligible coupon reports.
//
// Evaluate is pure: it performs no I/O and reads no clocks. The same inputs
// always produce the same result.
func Evaluate(c *Coupon, order OrderContext, now time.Time, match Matcher) *Rejection {
	if !c.IsActive {
		return Reject(c.Code, ReasonInactive)
	}

	// Unset bounds are open: no StartsAt means active immediately, no
	// ExpiresAt means active forever.
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return Reject(c.Code, ReasonNotYetStarted)
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return Reject(c.Code, ReasonExpired)
	}

	if c.MaxUses != nil && c.CurrentUses >= *c.MaxUses {
		return Reject(c.Code, ReasonUsesExhausted)
	}

	if c.MinPurchase != nil && order.SubtotalMinor < *c.MinPurchase {
		return Reject(c.Code, ReasonMinPurchaseNotMet)
	}

	if c.FirstTimeOnly && order.CustomerHasPriorOrders {
		return Reject(c.Code, ReasonNotFirstTime)
	}

	if match == nil {
		match = DefaultMatcher()
	}
	if !match.Matches(c.Targeting, order) {
		return Reject(c.Code, ReasonNotApplicable)
	}

	return nil
}
