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
	// DiscountPercentage takes a percentage of the subtotal, optionally capped by MaxDiscount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, never more than the subtotal.
	DiscountFixed DiscountType = "fixed"
)

// Audience restricts which kind of order a coupon applies to.
type Audience string

const (
	AudienceAll       Audience = "all"
	AudienceCustomer  Audience = "customer"
	AudienceWholesale Audience = "wholesale"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is unknown or inactive.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrMinPurchaseNotMet is returned when the subtotal is below the coupon minimum.
	ErrMinPurchaseNotMet = errors.New("order total below coupon minimum purchase")
	// ErrNotApplicable is returned when the coupon targets a different audience.
	ErrNotApplicable = errors.New("coupon not applicable to this order")
	// ErrDuplicateCode is returned when creating a coupon whose code exists.
	ErrDuplicateCode = errors.New("coupon code already exists")
)

// Rejected reports whether err means the coupon does not apply, as opposed
// to a failure looking it up.
func Rejected(err error) bool {
	return errors.Is(err, ErrInvalidCoupon) ||
		errors.Is(err, ErrCouponExpired) ||
		errors.Is(err, ErrCouponUsageLimitReached) ||
		errors.Is(err, ErrMinPurchaseNotMet) ||
		errors.Is(err, ErrNotApplicable)
}

// NormalizeCode returns the canonical stored form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Rule defines a coupon's discount behaviour and eligibility constraints.
type Rule struct {
	Code         string
	Description  string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinPurchase  decimal.Decimal
	// MaxDiscount caps percentage discounts. Zero means uncapped.
	MaxDiscount decimal.Decimal
	ValidFrom   time.Time
	ValidUntil  time.Time
	// UsageLimit is the number of orders the coupon may be applied to. Zero means unlimited.
	UsageLimit   int
	UsedCount    int
	ApplicableTo Audience
	Active       bool
	CreatedAt    time.Time
}

// Exhausted reports whether the usage limit has been reached.
func (r *Rule) Exhausted() bool {
	return r.UsageLimit > 0 && r.UsedCount >= r.UsageLimit
}

// ValidAt reports whether t falls inside the validity window, bounds included.
func (r *Rule) ValidAt(t time.Time) bool {
	return !t.Before(r.ValidFrom) && !t.After(r.ValidUntil)
}

// AppliesTo reports whether the coupon can be used for orders of audience a.
func (r *Rule) AppliesTo(a Audience) bool {
	return r.ApplicableTo == "" || r.ApplicableTo == AudienceAll || r.ApplicableTo == a
}

// Normalize canonicalises the code and fills defaults for a new rule.
func (r *Rule) Normalize() {
	r.Code = NormalizeCode(r.Code)
	if r.ApplicableTo == "" {
		r.ApplicableTo = AudienceAll
	}
}

// Validate checks that a rule is well formed before it is stored.
func (r *Rule) Validate() error {
	switch {
	case r.Code == "":
		return errors.New("code is required")
	case r.DiscountType != DiscountPercentage && r.DiscountType != DiscountFixed:
		return errors.Errorf("unsupported discount type: %q", r.DiscountType)
	case !r.Value.IsPositive():
		return errors.New("discount value must be positive")
	case r.DiscountType == DiscountPercentage && r.Value.GreaterThan(hundred):
		return errors.New("percentage discount cannot exceed 100")
	case r.MinPurchase.IsNegative() || r.MaxDiscount.IsNegative():
		return errors.New("minimum purchase and maximum discount cannot be negative")
	case r.UsageLimit < 0:
		return errors.New("usage limit cannot be negative")
	case r.ValidFrom.IsZero() || r.ValidUntil.IsZero():
		return errors.New("validity window is required")
	case r.ValidUntil.Before(r.ValidFrom):
		return errors.New("validity window ends before it starts")
	}
	switch r.ApplicableTo {
	case AudienceAll, AudienceCustomer, AudienceWholesale:
	default:
		return errors.Errorf("unsupported audience: %q", r.ApplicableTo)
	}
	return nil
}

// Discount holds the computed discount amount and a human-readable description.
type Discount struct {
	Code        string
	Amount      decimal.Decimal
	Description string
}

// Repository provides lookup and creation of coupon rules. FindByCode
// returns ErrInvalidCoupon when the code is unknown.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	ListActive(ctx context.Context, now time.Time) ([]Rule, error)
	Create(ctx context.Context, r *Rule) error
}
