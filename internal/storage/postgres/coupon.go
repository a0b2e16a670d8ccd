package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/promoforge/coupon-engine/internal/domain/coupon"
)

var (
	_ coupon.Repository = (*CouponRepository)(nil)
	_ coupon.Recorder   = (*CouponRepository)(nil)
)

const couponColumns = `code, discount_type, value, max_uses, current_uses,
	min_purchase, max_discount, starts_at, expires_at, is_active, is_public,
	category, targeting, first_time_only, stackable, stack_group, priority,
	total_savings, created_at`

const (
	findCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = $1`

	createCouponSQL = `INSERT INTO coupons (code, discount_type, value, max_uses,
		min_purchase, max_discount, starts_at, expires_at, is_active, is_public,
		category, targeting, first_time_only, stackable, stack_group, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	// Soft delete: redemption history stays auditable, and a deactivated code
	// reports INACTIVE rather than CODE_NOT_FOUND.
	deleteCouponSQL = `UPDATE coupons SET is_active = FALSE, updated_at = NOW()
		WHERE UPPER(code) = $1`

	insertRedemptionSQL = `INSERT INTO redemptions (id, code, checkout_id, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code, checkout_id) DO NOTHING`

	// Conditional increment: the WHERE clause is the usage-cap enforcement.
	// Concurrent redeemers race on this single statement, never on a
	// read-then-write in application code.
	consumeUseSQL = `UPDATE coupons
		SET current_uses = current_uses + 1,
		    total_savings = total_savings + $2,
		    updated_at = NOW()
		WHERE UPPER(code) = $1
		  AND (max_uses IS NULL OR current_uses < max_uses)`
)

// CouponRepository implements coupon.Repository and coupon.Recorder backed
// by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code, case-insensitively. A missing
// code comes back as a CODE_NOT_FOUND rejection.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)

	rows, err := r.pool.Query(ctx, findCouponSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.Reject(code, coupon.ReasonCodeNotFound)
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return c, nil
}

// Create inserts a new coupon record. The record must already be validated
// and carry a canonical code. A case-insensitive collision returns
// coupon.ErrCodeExists.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, createCouponSQL,
		c.Code, string(c.Type), c.Value, c.MaxUses,
		c.MinPurchase, c.MaxDiscount, c.StartsAt, c.ExpiresAt,
		c.IsActive, c.IsPublic, string(c.Category),
		coupon.EncodeTargeting(c.Targeting),
		c.FirstTimeOnly, c.Stackable, c.StackGroup, c.Priority,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return coupon.ErrCodeExists
		}
		return errors.Wrapf(err, "create coupon %q", c.Code)
	}
	return nil
}

// Update applies a field changeset to the stored record and returns the
// merged result. Only fields present in the changeset are written.
//
// The current row is locked and the merged record re-validated inside the
// transaction, so an invalid merge (percentage over 100, inverted window)
// never reaches the table regardless of what the caller checked beforehand.
func (r *CouponRepository) Update(ctx context.Context, code string, ch coupon.Changeset) (*coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)
	if ch.IsEmpty() {
		return r.FindByCode(ctx, code)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "begin update tx for %q", code)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, findCouponSQL+" FOR UPDATE", code)
	if err != nil {
		return nil, errors.Wrapf(err, "lock coupon %q", code)
	}
	current, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.Reject(code, coupon.ReasonCodeNotFound)
		}
		return nil, errors.Wrapf(err, "lock coupon %q", code)
	}

	merged := ch.ApplyTo(*current)
	if err := coupon.ValidateRecord(&merged); err != nil {
		return nil, err
	}

	set, args := buildUpdate(ch)
	args = append(args, code)

	sql := fmt.Sprintf(
		"UPDATE coupons SET %s, updated_at = NOW() WHERE UPPER(code) = $%d RETURNING %s",
		strings.Join(set, ", "), len(args), couponColumns,
	)

	rows, err = tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "update coupon %q", code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		return nil, errors.Wrapf(err, "update coupon %q", code)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrapf(err, "commit update of %q", code)
	}
	return c, nil
}

// Delete deactivates a coupon. See deleteCouponSQL for why this is a soft
// delete.
func (r *CouponRepository) Delete(ctx context.Context, code string) error {
	code = coupon.NormalizeCode(code)

	tag, err := r.pool.Exec(ctx, deleteCouponSQL, code)
	if err != nil {
		return errors.Wrapf(err, "delete coupon %q", code)
	}
	if tag.RowsAffected() == 0 {
		return coupon.Reject(code, coupon.ReasonCodeNotFound)
	}
	return nil
}

// List returns coupons matching the filter, newest first.
func (r *CouponRepository) List(ctx context.Context, f coupon.ListFilter) ([]*coupon.Coupon, error) {
	sql := `SELECT ` + couponColumns + ` FROM coupons`
	var (
		where []string
		args  []any
	)
	if f.OnlyPublic {
		where = append(where, "is_public")
	}
	if f.Category != "" {
		args = append(args, string(f.Category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}

	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return coupons, nil
}

// RecordRedemptions consumes one use per redemption inside a single
// transaction: for each coupon, an idempotent redemption insert followed by
// the conditional usage increment. When any coupon's cap was already reached
// at commit time, the whole transaction rolls back and a USES_EXHAUSTED
// rejection surfaces, leaving no partial uses behind for a checkout that
// failed. Redemptions this checkout already holds are skipped, so a replay
// is a no-op.
func (r *CouponRepository) RecordRedemptions(ctx context.Context, reds []coupon.Redemption) error {
	if len(reds) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin redemption tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, red := range reds {
		code := coupon.NormalizeCode(red.Code)

		tag, err := tx.Exec(ctx, insertRedemptionSQL,
			uuid.New(), code, red.CheckoutID, red.AmountMinor)
		if err != nil {
			return errors.Wrapf(err, "insert redemption %q", code)
		}
		if tag.RowsAffected() == 0 {
			// This checkout already consumed its use of this coupon.
			continue
		}

		tag, err = tx.Exec(ctx, consumeUseSQL, code, red.AmountMinor)
		if err != nil {
			return errors.Wrapf(err, "consume use of coupon %q", code)
		}
		if tag.RowsAffected() == 0 {
			return coupon.Reject(code, coupon.ReasonUsesExhausted)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit redemptions")
	}
	return nil
}

func buildUpdate(ch coupon.Changeset) (set []string, args []any) {
	add := func(column string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if ch.Type != nil {
		add("discount_type", string(*ch.Type))
	}
	if ch.Value != nil {
		add("value", *ch.Value)
	}
	if ch.MaxUses != nil {
		add("max_uses", *ch.MaxUses)
	}
	if ch.MinPurchase != nil {
		add("min_purchase", *ch.MinPurchase)
	}
	if ch.MaxDiscount != nil {
		add("max_discount", *ch.MaxDiscount)
	}
	if ch.StartsAt != nil {
		add("starts_at", *ch.StartsAt)
	}
	if ch.ExpiresAt != nil {
		add("expires_at", *ch.ExpiresAt)
	}
	if ch.IsActive != nil {
		add("is_active", *ch.IsActive)
	}
	if ch.IsPublic != nil {
		add("is_public", *ch.IsPublic)
	}
	if ch.Category != nil {
		add("category", string(*ch.Category))
	}
	if ch.Targeting != nil {
		add("targeting", coupon.EncodeTargeting(*ch.Targeting))
	}
	if ch.FirstTimeOnly != nil {
		add("first_time_only", *ch.FirstTimeOnly)
	}
	if ch.Stackable != nil {
		add("stackable", *ch.Stackable)
	}
	if ch.StackGroup != nil {
		add("stack_group", *ch.StackGroup)
	}
	if ch.Priority != nil {
		add("priority", *ch.Priority)
	}
	return set, args
}

func scanCoupon(row pgx.CollectableRow) (*coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		category     string
		value        decimal.Decimal
		maxUses      *int32
		currentUses  int32
		targeting    []byte
		priority     int32
		createdAt    time.Time
	)
	err := row.Scan(
		&c.Code, &discountType, &value, &maxUses, &currentUses,
		&c.MinPurchase, &c.MaxDiscount, &c.StartsAt, &c.ExpiresAt,
		&c.IsActive, &c.IsPublic, &category, &targeting,
		&c.FirstTimeOnly, &c.Stackable, &c.StackGroup, &priority,
		&c.TotalSavings, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	c.Type = coupon.DiscountType(discountType)
	c.Category = coupon.Category(category)
	c.Value = value
	c.CurrentUses = int(currentUses)
	c.Priority = int(priority)
	c.CreatedAt = createdAt
	if maxUses != nil {
		v := int(*maxUses)
		c.MaxUses = &v
	}

	t, err := coupon.ParseTargeting(targeting)
	if err != nil {
		return nil, errors.Wrapf(err, "coupon %q targeting", c.Code)
	}
	c.Targeting = t

	return &c, nil
}
