package coupon

import "sort"

// Resolve decides which of the eligible coupons may be combined in a single
// application and in what order they apply.
//
// Rules:
//   - A single coupon always stands on its own, stackable or not.
//   - With two or more coupons, any non-stackable member rejects the whole
//     combination (NON_STACKABLE_CONFLICT). This is a hard error: the caller
//     explicitly combined codes that refuse combination.
//   - Within each non-nil stack group, only the best-priority coupon
//     survives; the rest are silently dropped. Two codes from the same
//     promotional family is an expected customer scenario, not an error.
//   - Survivors are ordered by ascending priority (lower applies first,
//     against the larger remaining base), with code as the deterministic
//     tiebreak.
//
// An empty input yields an empty, non-error result: "no coupon" is a valid
// outcome.
func Resolve(eligible []*Coupon) ([]*Coupon, *Rejection) {
	if len(eligible) == 0 {
		return nil, nil
	}

	if len(eligible) > 1 {
		for _, c := range eligible {
			if !c.Stackable {
				return nil, Reject(c.Code, ReasonNonStackableConflict)
			}
		}
	}

	selected := selectPerGroup(eligible)

	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Priority != selected[j].Priority {
			return selected[i].Priority < selected[j].Priority
		}
		return selected[i].Code < selected[j].Code
	})

	return selected, nil
}

// selectPerGroup keeps at most one coupon per non-nil stack group. Coupons
// without a group are never mutually exclusive with each other.
func selectPerGroup(coupons []*Coupon) []*Coupon {
	best := make(map[string]*Coupon)
	out := make([]*Coupon, 0, len(coupons))

	for _, c := range coupons {
		if c.StackGroup == nil {
			out = append(out, c)
			continue
		}
		g := *c.StackGroup
		cur, ok := best[g]
		if !ok || betterInGroup(c, cur) {
			best[g] = c
		}
	}

	for _, c := range coupons {
		if c.StackGroup != nil && best[*c.StackGroup] == c {
			out = append(out, c)
		}
	}
	return out
}

// betterInGroup ranks two coupons sharing a stack group: lower priority wins,
// then the larger discount value, then the earlier creation time.
func betterInGroup(a, b *Coupon) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.Value.Equal(b.Value) {
		return a.Value.GreaterThan(b.Value)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
