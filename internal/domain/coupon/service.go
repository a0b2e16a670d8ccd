package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Quote is the engine's answer for a set of candidate codes: which coupons
// apply, what each one discounts, and the final payable amount.
type Quote struct {
	Coupons []*Coupon
	Result  Result
}

// Service ties the eligibility evaluator, stacking resolver, and discount
// calculator to their collaborators. The engine itself stays pure; the
// service owns the I/O boundary (repository lookups, history reads, and
// redemption recording).
type Service struct {
	repo    Repository
	rec     Recorder
	history HistoryReader
	match   Matcher
	now     func() time.Time
}

// NewService constructs a Service. history may be nil when callers always
// supply CustomerHasPriorOrders themselves; match defaults to the id-set
// matcher.
func NewService(repo Repository, rec Recorder, history HistoryReader) *Service {
	return &Service{
		repo:    repo,
		rec:     rec,
		history: history,
		match:   DefaultMatcher(),
		now:     time.Now,
	}
}

// WithMatcher replaces the targeting matcher.
func (s *Service) WithMatcher(m Matcher) *Service {
	s.match = m
	return s
}

// WithNow replaces the clock. Tests inject a fixed instant.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Validate resolves candidate codes into a Quote without consuming any uses.
//
// Each code is looked up (case-insensitively) and evaluated for eligibility;
// the first ineligible code rejects the whole request with its precise
// reason rather than being silently dropped. The surviving set then goes
// through stacking resolution and discount calculation. Business refusals
// come back as *Rejection errors; anything else is an infrastructure
// failure.
func (s *Service) Validate(ctx context.Context, codes []string, order OrderContext) (*Quote, error) {
	if order.SubtotalMinor < 0 {
		return nil, ErrNegativeSubtotal
	}

	order, err := s.fillHistory(ctx, order)
	if err != nil {
		return nil, err
	}

	now := s.now()
	eligible := make([]*Coupon, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))

	for _, raw := range codes {
		code := NormalizeCode(raw)
		if code == "" {
			continue
		}
		// Supplying the same code twice is not a second application.
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		c, err := s.repo.FindByCode(ctx, code)
		if err != nil {
			if rej, ok := AsRejection(err); ok {
				return nil, rej
			}
			return nil, errors.Wrapf(err, "lookup coupon %s", code)
		}

		if rej := Evaluate(c, order, now, s.match); rej != nil {
			return nil, rej
		}
		eligible = append(eligible, c)
	}

	ordered, rej := Resolve(eligible)
	if rej != nil {
		return nil, rej
	}

	res, err := Apply(ordered, order.SubtotalMinor)
	if err != nil {
		return nil, err
	}

	return &Quote{Coupons: ordered, Result: res}, nil
}

// Redeem validates the codes and then consumes one use of each applied
// coupon, attributing the computed per-coupon amounts. checkoutID keys
// idempotency: replaying the same checkout does not double-spend uses.
//
// Validation here is optimistic. The recorder enforces the usage ceiling
// atomically at commit time, so a concurrent checkout can still lose the
// race and surface a late USES_EXHAUSTED rejection; callers should treat it
// as retryable with fresh codes. The checkout's redemptions commit as one
// unit, so a late loss on any coupon leaves no uses consumed.
func (s *Service) Redeem(ctx context.Context, checkoutID string, codes []string, order OrderContext) (*Quote, error) {
	q, err := s.Validate(ctx, codes, order)
	if err != nil {
		return nil, err
	}

	reds := make([]Redemption, 0, len(q.Result.PerCoupon))
	for _, app := range q.Result.PerCoupon {
		reds = append(reds, Redemption{
			Code:        app.Code,
			CheckoutID:  checkoutID,
			AmountMinor: app.AmountMinor,
		})
	}

	if err := s.rec.RecordRedemptions(ctx, reds); err != nil {
		if rej, ok := AsRejection(err); ok {
			return nil, rej
		}
		return nil, errors.Wrapf(err, "record redemptions for checkout %s", checkoutID)
	}

	return q, nil
}

func (s *Service) fillHistory(ctx context.Context, order OrderContext) (OrderContext, error) {
	if s.history == nil || order.CustomerID == "" || order.CustomerHasPriorOrders {
		return order, nil
	}
	prior, err := s.history.HasPriorOrders(ctx, order.CustomerID)
	if err != nil {
		return order, errors.Wrap(err, "customer history")
	}
	order.CustomerHasPriorOrders = prior
	return order, nil
}
