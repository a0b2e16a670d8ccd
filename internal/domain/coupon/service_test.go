package coupon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo keeps coupons in memory keyed by canonical code.
type fakeRepo struct {
	mu       sync.Mutex
	coupons  map[string]*Coupon
	redeemed map[string]int64 // code+"/"+checkoutID -> amount
	findErr  error
	loseRace string // code that always loses the cap race at record time
}

func newFakeRepo(coupons ...*Coupon) *fakeRepo {
	m := make(map[string]*Coupon, len(coupons))
	for _, c := range coupons {
		m[c.Code] = c
	}
	return &fakeRepo{coupons: m, redeemed: make(map[string]int64)}
}

func (f *fakeRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[NormalizeCode(code)]
	if !ok {
		return nil, Reject(NormalizeCode(code), ReasonCodeNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeRepo) Create(_ context.Context, c *Coupon) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.coupons[c.Code]; ok {
		return ErrCodeExists
	}
	f.coupons[c.Code] = c
	return nil
}

func (f *fakeRepo) Update(_ context.Context, code string, ch Changeset) (*Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[NormalizeCode(code)]
	if !ok {
		return nil, Reject(NormalizeCode(code), ReasonCodeNotFound)
	}
	merged := ch.ApplyTo(*c)
	f.coupons[c.Code] = &merged
	return &merged, nil
}

func (f *fakeRepo) Delete(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.coupons, NormalizeCode(code))
	return nil
}

func (f *fakeRepo) List(_ context.Context, _ ListFilter) ([]*Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Coupon, 0, len(f.coupons))
	for _, c := range f.coupons {
		out = append(out, c)
	}
	return out, nil
}

// RecordRedemptions mirrors the storage contract: all of a checkout's
// redemptions commit together, the cap check is a conditional increment,
// and a replayed (code, checkout) pair consumes nothing. Changes are staged
// on copies so a late cap loss leaves no partial state, like a rolled-back
// transaction.
func (f *fakeRepo) RecordRedemptions(_ context.Context, reds []Redemption) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	staged := make(map[string]*Coupon)
	consumed := make(map[string]int64)

	for _, r := range reds {
		key := r.Code + "/" + r.CheckoutID
		if _, done := f.redeemed[key]; done {
			continue
		}

		c, ok := f.coupons[r.Code]
		if !ok {
			return Reject(r.Code, ReasonCodeNotFound)
		}
		s, ok := staged[r.Code]
		if !ok {
			cp := *c
			s = &cp
			staged[r.Code] = s
		}

		if r.Code == f.loseRace {
			return Reject(r.Code, ReasonUsesExhausted)
		}
		if s.MaxUses != nil && s.CurrentUses >= *s.MaxUses {
			return Reject(r.Code, ReasonUsesExhausted)
		}
		s.CurrentUses++
		s.TotalSavings += r.AmountMinor
		consumed[key] = r.AmountMinor
	}

	for code, s := range staged {
		f.coupons[code] = s
	}
	for key, amount := range consumed {
		f.redeemed[key] = amount
	}
	return nil
}

type fakeHistory struct {
	prior map[string]bool
}

func (f *fakeHistory) HasPriorOrders(_ context.Context, customerID string) (bool, error) {
	return f.prior[customerID], nil
}

func newTestService(repo *fakeRepo) *Service {
	return NewService(repo, repo, nil).WithNow(func() time.Time { return testNow })
}

func TestServiceValidate_SingleCoupon(t *testing.T) {
	c := pct("SAVE10", "10")
	c.MaxDiscount = ptr(int64(500))
	svc := newTestService(newFakeRepo(c))

	q, err := svc.Validate(context.Background(), []string{"save10"}, OrderContext{SubtotalMinor: 10000})
	require.NoError(t, err)

	require.Len(t, q.Result.PerCoupon, 1)
	assert.Equal(t, int64(500), q.Result.TotalDiscountMinor)
	assert.Equal(t, int64(9500), q.Result.FinalAmountMinor)
}

func TestServiceValidate_UnknownCode(t *testing.T) {
	svc := newTestService(newFakeRepo())

	_, err := svc.Validate(context.Background(), []string{"NOPE"}, OrderContext{SubtotalMinor: 100})
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonCodeNotFound, rej.Reason)
	assert.Equal(t, "NOPE", rej.Code)
}

func TestServiceValidate_CaseInsensitiveAndDeduplicated(t *testing.T) {
	svc := newTestService(newFakeRepo(fixed("FLAT5", "500")))

	q, err := svc.Validate(context.Background(),
		[]string{" flat5 ", "FLAT5", "Flat5"},
		OrderContext{SubtotalMinor: 2000},
	)
	require.NoError(t, err)
	require.Len(t, q.Result.PerCoupon, 1)
	assert.Equal(t, int64(500), q.Result.TotalDiscountMinor)
}

func TestServiceValidate_EmptyCodes(t *testing.T) {
	svc := newTestService(newFakeRepo())

	q, err := svc.Validate(context.Background(), nil, OrderContext{SubtotalMinor: 1234})
	require.NoError(t, err)
	assert.Empty(t, q.Result.PerCoupon)
	assert.Equal(t, int64(1234), q.Result.FinalAmountMinor)
}

func TestServiceValidate_NegativeSubtotal(t *testing.T) {
	svc := newTestService(newFakeRepo())

	_, err := svc.Validate(context.Background(), nil, OrderContext{SubtotalMinor: -1})
	require.ErrorIs(t, err, ErrNegativeSubtotal)
}

func TestServiceValidate_HistoryLookup(t *testing.T) {
	c := pct("WELCOME", "20")
	c.FirstTimeOnly = true
	repo := newFakeRepo(c)
	history := &fakeHistory{prior: map[string]bool{"returning": true}}
	svc := NewService(repo, repo, history).WithNow(func() time.Time { return testNow })

	_, err := svc.Validate(context.Background(), []string{"WELCOME"},
		OrderContext{SubtotalMinor: 100, CustomerID: "returning"})
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonNotFirstTime, rej.Reason)

	q, err := svc.Validate(context.Background(), []string{"WELCOME"},
		OrderContext{SubtotalMinor: 100, CustomerID: "fresh"})
	require.NoError(t, err)
	assert.Equal(t, int64(20), q.Result.TotalDiscountMinor)
}

func TestServiceValidate_StackedQuote(t *testing.T) {
	a := pct("HALF", "50")
	a.Priority = 1
	b := fixed("FLAT10", "1000")
	b.Priority = 2
	svc := newTestService(newFakeRepo(a, b))

	q, err := svc.Validate(context.Background(), []string{"HALF", "FLAT10"},
		OrderContext{SubtotalMinor: 10000})
	require.NoError(t, err)

	require.Len(t, q.Result.PerCoupon, 2)
	assert.Equal(t, "HALF", q.Result.PerCoupon[0].Code)
	assert.Equal(t, int64(5000), q.Result.PerCoupon[0].AmountMinor)
	assert.Equal(t, "FLAT10", q.Result.PerCoupon[1].Code)
	assert.Equal(t, int64(1000), q.Result.PerCoupon[1].AmountMinor)
	assert.Equal(t, int64(4000), q.Result.FinalAmountMinor)
}

func TestServiceValidate_RepoFailure(t *testing.T) {
	repo := newFakeRepo(pct("X", "10"))
	repo.findErr = errors.New("connection reset")
	svc := newTestService(repo)

	_, err := svc.Validate(context.Background(), []string{"X"}, OrderContext{SubtotalMinor: 100})
	require.Error(t, err)
	_, ok := AsRejection(err)
	assert.False(t, ok)
}

func TestServiceRedeem_RecordsUsageAndSavings(t *testing.T) {
	c := pct("SAVE10", "10")
	repo := newFakeRepo(c)
	svc := newTestService(repo)

	q, err := svc.Redeem(context.Background(), "chk-1", []string{"SAVE10"},
		OrderContext{SubtotalMinor: 10000})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), q.Result.TotalDiscountMinor)

	stored := repo.coupons["SAVE10"]
	assert.Equal(t, 1, stored.CurrentUses)
	assert.Equal(t, int64(1000), stored.TotalSavings)
}

func TestServiceRedeem_IdempotentPerCheckout(t *testing.T) {
	repo := newFakeRepo(pct("SAVE10", "10"))
	svc := newTestService(repo)

	_, err := svc.Redeem(context.Background(), "chk-1", []string{"SAVE10"}, OrderContext{SubtotalMinor: 10000})
	require.NoError(t, err)
	_, err = svc.Redeem(context.Background(), "chk-1", []string{"SAVE10"}, OrderContext{SubtotalMinor: 10000})
	require.NoError(t, err)

	assert.Equal(t, 1, repo.coupons["SAVE10"].CurrentUses)
}

func TestServiceRedeem_LateCapLossLeavesNoPartialState(t *testing.T) {
	// Two stacked coupons where the second loses the usage-cap race at
	// record time: the checkout fails as a whole, so the first coupon's use
	// and savings must not stay committed.
	a := pct("TENOFF", "10")
	a.Priority = 1
	b := fixed("FLAT1", "100")
	b.Priority = 2
	repo := newFakeRepo(a, b)
	repo.loseRace = "FLAT1"
	svc := newTestService(repo)

	_, err := svc.Redeem(context.Background(), "chk-1", []string{"TENOFF", "FLAT1"},
		OrderContext{SubtotalMinor: 10000})
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonUsesExhausted, rej.Reason)
	assert.Equal(t, "FLAT1", rej.Code)

	assert.Equal(t, 0, repo.coupons["TENOFF"].CurrentUses)
	assert.Equal(t, int64(0), repo.coupons["TENOFF"].TotalSavings)
	assert.Empty(t, repo.redeemed)
}

func TestServiceRedeem_ConcurrentCapEnforcement(t *testing.T) {
	// maxUses = 1 with N concurrent checkouts: exactly one wins, the rest
	// get late USES_EXHAUSTED from the recorder.
	c := pct("ONCE", "10")
	c.MaxUses = ptr(1)
	repo := newFakeRepo(c)
	svc := newTestService(repo)

	const n = 16
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		wins, lates int
	)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Redeem(context.Background(),
				"chk-"+string(rune('a'+i)), []string{"ONCE"},
				OrderContext{SubtotalMinor: 1000})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			if rej, ok := AsRejection(err); ok && rej.Reason == ReasonUsesExhausted {
				lates++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, lates)
	assert.Equal(t, 1, repo.coupons["ONCE"].CurrentUses)
}
