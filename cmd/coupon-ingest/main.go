// Binary coupon-ingest bulk-imports coupon codes from gzip-compressed code
// dumps. A code is accepted only when it appears in at least two of the
// partner feeds, which filters out the noise each feed carries.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/promoforge/coupon-engine/internal/domain/coupon"
	"github.com/promoforge/coupon-engine/internal/storage/postgres"
)

const (
	bloomCapacity = 120_000_000
	bloomFPR      = 0.001
	numFeeds      = 3
	progressEvery = 10_000_000
	minCodeLen    = 8
	maxCodeLen    = 10
)

// importRule is the discount attached to an imported code. Codes without a
// dedicated rule get the default 10% promo.
type importRule struct {
	discountType coupon.DiscountType
	value        string
	category     coupon.Category
}

var importRules = map[string]importRule{
	"FIFTYOFF": {discountType: coupon.DiscountPercentage, value: "50", category: coupon.CategoryPromo},
	"SIXTYOFF": {discountType: coupon.DiscountPercentage, value: "60", category: coupon.CategoryPromo},
	"GNULINUX": {discountType: coupon.DiscountPercentage, value: "15", category: coupon.CategoryPartner},
	"OVER9000": {discountType: coupon.DiscountFixed, value: "900", category: coupon.CategoryPromo},
	"HAPPYHRS": {discountType: coupon.DiscountPercentage, value: "18", category: coupon.CategorySeasonal},
}

var defaultRule = importRule{
	discountType: coupon.DiscountPercentage,
	value:        "10",
	category:     coupon.CategoryPromo,
}

// feedResult holds candidate codes found in a single feed during pass 2.
type feedResult struct {
	candidates map[string]uint
}

func main() {
	var (
		dataDir     string
		databaseURL string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing couponbaseN.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string) error {
	feeds := make([]string, numFeeds)
	for i := range numFeeds {
		feeds[i] = filepath.Join(dataDir, fmt.Sprintf("couponbase%d.gz", i+1))
	}
	for _, f := range feeds {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check feed %s", f)
		}
	}

	// Pass 1: one bloom filter per feed, built concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("feeds", numFeeds))

	filters, err := buildBloomFilters(ctx, feeds)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: codes appearing in 2+ feeds.
	slog.Info("pass 2: finding candidate codes")

	validCodes, err := findValidCodes(ctx, feeds, filters)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}

	slog.Info("valid codes found", slog.Int("count", len(validCodes)))

	if len(validCodes) == 0 {
		slog.Info("no valid codes to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeCoupons(ctx, postgres.NewCouponRepository(pool), validCodes); err != nil {
		return errors.Wrap(err, "write coupons to database")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per feed, concurrently.
func buildBloomFilters(ctx context.Context, feeds []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range feeds {
		g.Go(buildFilterForFeed(ctx, i, f, filters))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return filters, nil
}

func buildFilterForFeed(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if len(code) >= minCodeLen && len(code) <= maxCodeLen {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress",
						slog.Int("feed", idx+1),
						slog.Uint64("codes", count),
					)
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "build filter for feed %d", idx+1)
		}

		slog.Info("pass 1 complete",
			slog.Int("feed", idx+1),
			slog.Uint64("total_codes", count),
		)

		filters[idx] = filter
		return nil
	}
}

// findValidCodes re-streams each feed and checks codes against the OTHER
// feeds' bloom filters. A code is valid when it appears in 2 or more feeds.
func findValidCodes(ctx context.Context, feeds []string, filters []*bloom.BloomFilter) ([]string, error) {
	results := make([]feedResult, len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range feeds {
		g.Go(findCandidatesInFeed(ctx, i, f, filters, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge per-feed bitmasks.
	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			valid = append(valid, code)
		}
	}

	return valid, nil
}

func findCandidatesInFeed(
	ctx context.Context,
	idx int,
	path string,
	filters []*bloom.BloomFilter,
	results []feedResult,
) func() error {
	return func() error {
		candidates := make(map[string]uint)
		feedBit := uint(1) << uint(idx)
		var count uint64

		if err := streamGzFile(ctx, path, func(code string) {
			if len(code) < minCodeLen || len(code) > maxCodeLen {
				return
			}

			count++
			if count%progressEvery == 0 {
				slog.Info("pass 2 progress",
					slog.Int("feed", idx+1),
					slog.Uint64("codes", count),
				)
			}

			// A hit in any other feed's filter makes this code a candidate.
			for j, f := range filters {
				if j == idx {
					continue
				}
				if f.TestString(code) {
					candidates[code] |= feedBit
					break
				}
			}
		}); err != nil {
			return errors.Wrapf(err, "scan feed %d for candidates", idx+1)
		}

		slog.Info("pass 2 complete",
			slog.Int("feed", idx+1),
			slog.Uint64("total_codes", count),
			slog.Int("candidates", len(candidates)),
		)

		results[idx] = feedResult{candidates: candidates}
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// writeCoupons inserts all valid codes. Re-running the import skips codes
// that already exist instead of resetting their usage counters.
func writeCoupons(ctx context.Context, repo *postgres.CouponRepository, codes []string) error {
	slog.Info("writing coupons to database", slog.Int("count", len(codes)))

	var inserted, skipped int
	for i, code := range codes {
		rule, ok := importRules[code]
		if !ok {
			rule = defaultRule
		}

		value, err := decimal.NewFromString(rule.value)
		if err != nil {
			return errors.Wrapf(err, "parse value for code %s", code)
		}

		c := &coupon.Coupon{
			Code:      coupon.NormalizeCode(code),
			Type:      rule.discountType,
			Value:     value,
			IsActive:  true,
			Category:  rule.category,
			Targeting: coupon.Targeting{Kind: coupon.TargetAny},
			Stackable: false,
		}
		if err := coupon.ValidateRecord(c); err != nil {
			slog.Warn("skipping invalid code", slog.String("code", code), slog.String("error", err.Error()))
			skipped++
			continue
		}

		switch err := repo.Create(ctx, c); {
		case err == nil:
			inserted++
		case errors.Is(err, coupon.ErrCodeExists):
			skipped++
		default:
			return errors.Wrapf(err, "insert coupon %s", code)
		}

		if (i+1)%100 == 0 || i+1 == len(codes) {
			slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(codes)))
		}
	}

	slog.Info("write complete", slog.Int("inserted", inserted), slog.Int("skipped", skipped))
	return nil
}
