// Package bloomcache wraps a coupon repository with a bloom-filter prefilter
// so that lookups of codes that definitely do not exist never reach the
// database. False positives fall through to the real lookup; false negatives
// cannot happen for codes present at the last warm-up, and codes created
// through this process are added to the filter on the write path. Codes
// written by other processes (the bulk importer) become visible on the next
// re-warm, so serving deployments run KeepWarm alongside the server.
package bloomcache

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/promoforge/coupon-engine/internal/domain/coupon"
)

var _ coupon.Repository = (*Repository)(nil)

// Repository decorates a coupon.Repository with a negative-lookup prefilter.
type Repository struct {
	inner         coupon.Repository
	expectedCodes uint
	fpRate        float64

	mu     sync.RWMutex
	filter *bloom.BloomFilter
	warmed bool
}

// New creates an unwarmed Repository sized for the expected number of codes.
// Until Warm succeeds, every lookup passes through to the inner repository.
func New(inner coupon.Repository, expectedCodes uint, fpRate float64) *Repository {
	return &Repository{
		inner:         inner,
		expectedCodes: expectedCodes,
		fpRate:        fpRate,
		filter:        bloom.NewWithEstimates(expectedCodes, fpRate),
	}
}

// Warm rebuilds the filter from every known coupon code and swaps it in.
// Rebuilding from scratch rather than adding to the old filter keeps the
// false-positive rate from creeping up across re-warms.
func (r *Repository) Warm(ctx context.Context) error {
	all, err := r.inner.List(ctx, coupon.ListFilter{})
	if err != nil {
		return errors.Wrap(err, "warm bloom filter")
	}

	fresh := bloom.NewWithEstimates(r.expectedCodes, r.fpRate)
	for _, c := range all {
		fresh.AddString(c.Code)
	}

	r.mu.Lock()
	r.filter = fresh
	r.warmed = true
	r.mu.Unlock()
	return nil
}

// KeepWarm re-runs Warm on the given interval until ctx is cancelled,
// picking up codes written by other processes such as the bulk importer.
// A failed re-warm is logged and retried on the next tick; the previous
// filter keeps serving in the meantime.
func (r *Repository) KeepWarm(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Warm(ctx); err != nil && ctx.Err() == nil {
					zctx.From(ctx).Warn("bloom re-warm failed", zap.Error(err))
				}
			}
		}
	}()
}

// FindByCode short-circuits to CODE_NOT_FOUND when the filter rules the code
// out, otherwise defers to the inner repository.
func (r *Repository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)

	r.mu.RLock()
	warmed, miss := r.warmed, !r.filter.TestString(code)
	r.mu.RUnlock()

	if warmed && miss {
		return nil, coupon.Reject(code, coupon.ReasonCodeNotFound)
	}
	return r.inner.FindByCode(ctx, code)
}

// Create adds the code to the filter once the inner write succeeds.
func (r *Repository) Create(ctx context.Context, c *coupon.Coupon) error {
	if err := r.inner.Create(ctx, c); err != nil {
		return err
	}
	r.mu.Lock()
	r.filter.AddString(c.Code)
	r.mu.Unlock()
	return nil
}

// Update passes through; updates never change a coupon's code.
func (r *Repository) Update(ctx context.Context, code string, ch coupon.Changeset) (*coupon.Coupon, error) {
	return r.inner.Update(ctx, code, ch)
}

// Delete passes through. Deletes are soft, and bloom filters cannot remove
// members anyway; a deactivated code falls through to the inner lookup and
// reports INACTIVE.
func (r *Repository) Delete(ctx context.Context, code string) error {
	return r.inner.Delete(ctx, code)
}

// List passes through.
func (r *Repository) List(ctx context.Context, f coupon.ListFilter) ([]*coupon.Coupon, error) {
	return r.inner.List(ctx, f)
}
