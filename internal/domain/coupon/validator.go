package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Request describes the order a coupon is being evaluated for.
type Request struct {
	Code     string
	Audience Audience
	Subtotal decimal.Decimal
}

// Validator evaluates a coupon code for an order and returns the discount.
// It has no side effects: usage is recorded when the order is stored.
type Validator interface {
	Validate(ctx context.Context, req Request) (*Discount, error)
}

// RepoValidator implements Validator by looking up coupon rules from a
// Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{
		repo: repo,
		now:  time.Now,
	}
}

// Validate looks up the coupon and checks, in order, that it is active,
// targets the request audience, is inside its validity window, has uses
// left and that the subtotal meets its minimum.
func (v *RepoValidator) Validate(ctx context.Context, req Request) (*Discount, error) {
	code := NormalizeCode(req.Code)
	if code == "" {
		return nil, ErrInvalidCoupon
	}

	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, err
		}
		return nil, errors.Wrap(err, "find coupon")
	}

	if !rule.Active {
		return nil, ErrInvalidCoupon
	}
	if !rule.AppliesTo(req.Audience) {
		return nil, ErrNotApplicable
	}
	if !rule.ValidAt(v.now()) {
		return nil, ErrCouponExpired
	}
	if rule.Exhausted() {
		return nil, ErrCouponUsageLimitReached
	}

	discount, err := Apply(rule, req.Subtotal)
	if err != nil {
		return nil, err
	}
	return &discount, nil
}
