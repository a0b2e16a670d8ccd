package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Changeset is an explicit field-level change for PATCH-style admin updates.
// Only non-nil fields are written; everything else keeps its stored value.
// Double pointers distinguish "clear this optional field" (*p == nil) from
// "leave it alone" (p == nil).
type Changeset struct {
	Type          *DiscountType
	Value         *decimal.Decimal
	MaxUses       **int
	MinPurchase   **int64
	MaxDiscount   **int64
	StartsAt      **time.Time
	ExpiresAt     **time.Time
	IsActive      *bool
	IsPublic      *bool
	Category      *Category
	Targeting     *Targeting
	FirstTimeOnly *bool
	Stackable     *bool
	StackGroup    **string
	Priority      *int
}

// IsEmpty reports whether the changeset modifies nothing.
func (ch Changeset) IsEmpty() bool {
	return ch.Type == nil && ch.Value == nil && ch.MaxUses == nil &&
		ch.MinPurchase == nil && ch.MaxDiscount == nil &&
		ch.StartsAt == nil && ch.ExpiresAt == nil &&
		ch.IsActive == nil && ch.IsPublic == nil && ch.Category == nil &&
		ch.Targeting == nil && ch.FirstTimeOnly == nil &&
		ch.Stackable == nil && ch.StackGroup == nil && ch.Priority == nil
}

// ApplyTo merges the changeset into a copy of c and returns it. Repositories
// use it to produce the post-update record; the invariant checks in
// ValidateRecord run against the merged result.
func (ch Changeset) ApplyTo(c Coupon) Coupon {
	if ch.Type != nil {
		c.Type = *ch.Type
	}
	if ch.Value != nil {
		c.Value = *ch.Value
	}
	if ch.MaxUses != nil {
		c.MaxUses = *ch.MaxUses
	}
	if ch.MinPurchase != nil {
		c.MinPurchase = *ch.MinPurchase
	}
	if ch.MaxDiscount != nil {
		c.MaxDiscount = *ch.MaxDiscount
	}
	if ch.StartsAt != nil {
		c.StartsAt = *ch.StartsAt
	}
	if ch.ExpiresAt != nil {
		c.ExpiresAt = *ch.ExpiresAt
	}
	if ch.IsActive != nil {
		c.IsActive = *ch.IsActive
	}
	if ch.IsPublic != nil {
		c.IsPublic = *ch.IsPublic
	}
	if ch.Category != nil {
		c.Category = *ch.Category
	}
	if ch.Targeting != nil {
		c.Targeting = *ch.Targeting
	}
	if ch.FirstTimeOnly != nil {
		c.FirstTimeOnly = *ch.FirstTimeOnly
	}
	if ch.Stackable != nil {
		c.Stackable = *ch.Stackable
	}
	if ch.StackGroup != nil {
		c.StackGroup = *ch.StackGroup
	}
	if ch.Priority != nil {
		c.Priority = *ch.Priority
	}
	return c
}

// Validation errors for admin-supplied records.
var (
	ErrEmptyCode      = errors.New("coupon code required")
	ErrBadCode        = errors.New("coupon code must be alphanumeric")
	ErrNegativeValue  = errors.New("discount value must not be negative")
	ErrPercentOver100 = errors.New("percentage value must not exceed 100")
	ErrBadType        = errors.New("unknown discount type")
	ErrBadCategory    = errors.New("unknown coupon category")
	ErrWindowInverted = errors.New("startsAt must not be after expiresAt")
	ErrNegativeLimit  = errors.New("limits must not be negative")
)

// ValidateRecord checks the admin-facing invariants of a coupon record:
// normalized non-empty code, value bounds (percentage capped at 100), a
// coherent time window, and non-negative limits. The record's Code must
// already be in canonical form.
func ValidateRecord(c *Coupon) error {
	if c.Code == "" {
		return ErrEmptyCode
	}
	for i := range len(c.Code) {
		b := c.Code[i]
		ok := b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '-' || b == '_'
		if !ok {
			return ErrBadCode
		}
	}

	switch c.Type {
	case DiscountPercentage:
		if c.Value.IsNegative() {
			return ErrNegativeValue
		}
		if c.Value.GreaterThan(hundred) {
			return ErrPercentOver100
		}
	case DiscountFixed:
		if c.Value.IsNegative() {
			return ErrNegativeValue
		}
	default:
		return ErrBadType
	}

	switch c.Category {
	case CategoryPromo, CategoryPartner, CategoryLoyalty,
		CategorySeasonal, CategoryReferral, CategoryOther:
	default:
		return ErrBadCategory
	}

	if c.StartsAt != nil && c.ExpiresAt != nil && c.StartsAt.After(*c.ExpiresAt) {
		return ErrWindowInverted
	}

	if c.MaxUses != nil && *c.MaxUses < 0 {
		return ErrNegativeLimit
	}
	if c.MinPurchase != nil && *c.MinPurchase < 0 {
		return ErrNegativeLimit
	}
	if c.MaxDiscount != nil && *c.MaxDiscount < 0 {
		return ErrNegativeLimit
	}

	return nil
}
