// Package coupon implements the coupon eligibility, stacking, and discount
// engine. All monetary amounts are integer minor units (cents); percentage
// values use decimal arithmetic with banker's rounding so that stacked
// discounts reconcile to the cent.
package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage (0..100) of the remaining total.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed subtracts a fixed amount, capped at the remaining total.
	DiscountFixed DiscountType = "fixed"
)

// Category classifies a coupon for listing and reporting. It carries no
// stacking semantics.
type Category string

const (
	CategoryPromo    Category = "PROMO"
	CategoryPartner  Category = "PARTNER"
	CategoryLoyalty  Category = "LOYALTY"
	CategorySeasonal Category = "SEASONAL"
	CategoryReferral Category = "REFERRAL"
	CategoryOther    Category = "OTHER"
)

// Reason identifies why a coupon (or a combination of coupons) was rejected.
// The values are stable and safe to serialize.
type Reason string

const (
	ReasonInactive             Reason = "INACTIVE"
	ReasonNotYetStarted        Reason = "NOT_YET_STARTED"
	ReasonExpired              Reason = "EXPIRED"
	ReasonUsesExhausted        Reason = "USES_EXHAUSTED"
	ReasonMinPurchaseNotMet    Reason = "MIN_PURCHASE_NOT_MET"
	ReasonNotFirstTime         Reason = "NOT_FIRST_TIME"
	ReasonNotApplicable        Reason = "NOT_APPLICABLE_TO_ORDER"
	ReasonNonStackableConflict Reason = "NON_STACKABLE_CONFLICT"
	ReasonCodeNotFound         Reason = "CODE_NOT_FOUND"
)

// Rejection is a business-level refusal to apply a coupon. It is returned as
// an error value so callers can branch on the reason with errors.As, but it
// is an expected outcome rather than a failure.
type Rejection struct {
	// Code is the coupon code the rejection refers to. Empty for combination
	// rejections that involve more than one coupon.
	Code   string
	Reason Reason
}

func (r *Rejection) Error() string {
	if r.Code == "" {
		return "coupon rejected: " + string(r.Reason)
	}
	return "coupon " + r.Code + " rejected: " + string(r.Reason)
}

// Reject builds a Rejection for the given coupon code.
func Reject(code string, reason Reason) *Rejection {
	return &Rejection{Code: code, Reason: reason}
}

// AsRejection unwraps err into a *Rejection, if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Storage-level sentinel errors.
var (
	// ErrCodeExists is returned when creating a coupon whose code is already
	// taken under case-insensitive comparison.
	ErrCodeExists = errors.New("coupon code already exists")
	// ErrNegativeSubtotal indicates a caller contract violation: the engine
	// never accepts a negative subtotal.
	ErrNegativeSubtotal = errors.New("subtotal must not be negative")
)

// Coupon is a named discount rule with eligibility constraints.
//
// MinPurchase, MaxDiscount, and fixed-amount Value are minor units. Value for
// percentage coupons is a percent in [0, 100]; admin validation closes the
// unbounded-percentage gap of earlier schema versions.
type Coupon struct {
	Code          string
	Type          DiscountType
	Value         decimal.Decimal
	MaxUses       *int
	CurrentUses   int
	MinPurchase   *int64
	MaxDiscount   *int64
	StartsAt      *time.Time
	ExpiresAt     *time.Time
	IsActive      bool
	IsPublic      bool
	Category      Category
	Targeting     Targeting
	FirstTimeOnly bool
	Stackable     bool
	StackGroup    *string
	Priority      int
	TotalSavings  int64
	CreatedAt     time.Time
}

// OrderContext carries everything the engine needs to know about the order a
// coupon is being applied to. SubtotalMinor is the pre-discount subtotal in
// minor units.
type OrderContext struct {
	SubtotalMinor          int64
	ProductID              string
	CustomerID             string
	CustomerHasPriorOrders bool
}

// NormalizeCode returns the canonical (upper-cased, trimmed) form of a
// coupon code. All lookups and writes go through it.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository provides read/write access to coupon records. Lookups are
// case-insensitive; implementations compare against the canonical form.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, code string, ch Changeset) (*Coupon, error)
	Delete(ctx context.Context, code string) error
	List(ctx context.Context, f ListFilter) ([]*Coupon, error)
}

// ListFilter narrows Repository.List results.
type ListFilter struct {
	// OnlyPublic restricts the listing to discoverable coupons.
	OnlyPublic bool
	// Category filters by coupon category when non-empty.
	Category Category
}

// Redemption is the record of one coupon use against a completed checkout.
// CheckoutID makes recording idempotent when a checkout is replayed.
type Redemption struct {
	Code        string
	CheckoutID  string
	AmountMinor int64
}

// Recorder atomically consumes the uses of a checkout's coupons, all or
// nothing: if any coupon lost the usage-cap race, none of the checkout's
// redemptions persist. Implementations must enforce the ceiling at commit
// time with a conditional increment (increment-if-below-cap), never a
// read-then-write: eligibility as computed by the engine is a pre-check,
// not a reservation. A late loss of the race surfaces as a Rejection with
// ReasonUsesExhausted.
type Recorder interface {
	RecordRedemptions(ctx context.Context, reds []Redemption) error
}

// HistoryReader reports whether a customer has any prior completed orders,
// feeding the first-time-only check.
type HistoryReader interface {
	HasPriorOrders(ctx context.Context, customerID string) (bool, error)
}
