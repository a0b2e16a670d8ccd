// Binary seed-db provisions a development database: migrations, a set of
// sample coupons covering every rule type, and an admin API key.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/promoforge/coupon-engine/internal/domain/coupon"
	"github.com/promoforge/coupon-engine/internal/handler"
	"github.com/promoforge/coupon-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or COUPON_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or COUPON_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("COUPON_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or COUPON_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("COUPON_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository) error {
	slog.Info("seeding sample coupons")

	intp := func(v int) *int { return &v }
	int64p := func(v int64) *int64 { return &v }
	strp := func(v string) *string { return &v }
	timep := func(v time.Time) *time.Time { return &v }

	now := time.Now().UTC()
	samples := []*coupon.Coupon{
		{
			Code:          "WELCOME10",
			Type:          coupon.DiscountPercentage,
			Value:         decimal.NewFromInt(10),
			IsActive:      true,
			IsPublic:      true,
			Category:      coupon.CategoryPromo,
			Targeting:     coupon.Targeting{Kind: coupon.TargetAny},
			FirstTimeOnly: true,
		},
		{
			Code:        "SUMMER25",
			Type:        coupon.DiscountPercentage,
			Value:       decimal.NewFromInt(25),
			MaxDiscount: int64p(2000),
			StartsAt:    timep(now),
			ExpiresAt:   timep(now.AddDate(0, 3, 0)),
			IsActive:    true,
			IsPublic:    true,
			Category:    coupon.CategorySeasonal,
			Targeting:   coupon.Targeting{Kind: coupon.TargetAny},
			Stackable:   true,
			StackGroup:  strp("seasonal"),
			Priority:    1,
		},
		{
			Code:        "FIVEOFF",
			Type:        coupon.DiscountFixed,
			Value:       decimal.NewFromInt(500),
			MinPurchase: int64p(2500),
			IsActive:    true,
			Category:    coupon.CategoryPromo,
			Targeting:   coupon.Targeting{Kind: coupon.TargetAny},
			Stackable:   true,
			Priority:    2,
		},
		{
			Code:      "VIPONLY",
			Type:      coupon.DiscountPercentage,
			Value:     decimal.NewFromInt(30),
			MaxUses:   intp(100),
			IsActive:  true,
			Category:  coupon.CategoryLoyalty,
			Targeting: coupon.Targeting{Kind: coupon.TargetCustomerIn, IDs: []string{"cust-vip-1", "cust-vip-2"}},
		},
	}

	for _, c := range samples {
		switch err := repo.Create(ctx, c); {
		case err == nil:
			slog.Info("created coupon", slog.String("code", c.Code))
		case errors.Is(err, coupon.ErrCodeExists):
			slog.Info("coupon already exists", slog.String("code", c.Code))
		default:
			return errors.Wrapf(err, "create coupon %s", c.Code)
		}
	}

	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	const upsertKeySQL = `
		INSERT INTO api_keys (id, key_hash, name, scopes, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (key_hash) DO UPDATE SET is_active = TRUE`

	keyHash := handler.HashKey([]byte(pepper), apiKey)
	_, err := pool.Exec(ctx, upsertKeySQL,
		uuid.New(), keyHash, "Default admin key", []string{"admin"},
	)
	if err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("name", "Default admin key"))
	return nil
}
