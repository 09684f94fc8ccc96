package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Discount computes the monetary effect of a coupon on a subtotal. The
// result is rounded to 2 decimals and never exceeds the subtotal.
func Discount(kind Kind, value, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if err := checkValue(kind, value); err != nil {
		return decimal.Zero, err
	}
	if !subtotal.IsPositive() {
		return decimal.Zero, nil
	}

	var amount decimal.Decimal
	switch kind {
	case KindPercentage:
		amount = subtotal.Mul(value).Div(hundred)
	case KindFixed:
		amount = decimal.Min(value, subtotal)
	}
	return decimal.Min(amount.Round(2), subtotal), nil
}

func checkValue(kind Kind, value decimal.Decimal) error {
	switch kind {
	case KindPercentage:
		if !value.IsPositive() || value.GreaterThan(hundred) {
			return errors.Errorf("percentage %s out of range (0, 100]", value)
		}
	case KindFixed:
		if !value.IsPositive() {
			return errors.Errorf("fixed amount %s must be positive", value)
		}
	default:
		return errors.Errorf("unsupported discount kind: %q", kind)
	}
	return nil
}
