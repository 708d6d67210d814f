package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Apply calculates the discount rule grants on subtotal. The result is
// never negative and never exceeds the subtotal.
func Apply(rule *Rule, subtotal decimal.Decimal) (Discount, error) {
	if subtotal.LessThan(rule.MinPurchase) {
		return Discount{}, ErrMinPurchaseNotMet
	}

	var amount decimal.Decimal
	switch rule.DiscountType {
	case DiscountPercentage:
		amount = subtotal.Mul(rule.Value).Div(hundred)
		if rule.MaxDiscount.IsPositive() {
			amount = decimal.Min(amount, rule.MaxDiscount)
		}
	case DiscountFixed:
		amount = rule.Value
	default:
		return Discount{}, errors.Errorf("unsupported discount type: %q", rule.DiscountType)
	}

	amount = clamp(amount, subtotal).Round(2)

	return Discount{
		Code:        rule.Code,
		Amount:      amount,
		Description: rule.Description,
	}, nil
}

// clamp bounds d to [0, upper].
func clamp(d, upper decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(d, upper)
}
