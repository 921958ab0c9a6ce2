package benefit

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported discount formulas.
type Type string

const (
	// TypePercentage discounts a percentage of the price.
	TypePercentage Type = "percentage"
	// TypeFixed discounts a fixed amount, capped at the price.
	TypeFixed Type = "fixed"
)

var hundred = decimal.NewFromInt(100)

// Benefit is the discount formula attached to an offer. It is pure and
// stateless: given a price it deterministically yields a discount.
type Benefit struct {
	Type  Type
	Value decimal.Decimal
}

// Validate checks the benefit definition. Percentage values must lie in
// [0, 100]; fixed values must be non-negative.
func (b Benefit) Validate() error {
	if b.Value.IsNegative() {
		return errors.Errorf("benefit value must be non-negative, got %s", b.Value)
	}
	switch b.Type {
	case TypePercentage:
		if b.Value.GreaterThan(hundred) {
			return errors.Errorf("percentage benefit must be at most 100, got %s", b.Value)
		}
	case TypeFixed:
	default:
		return errors.Errorf("unsupported benefit type: %q", b.Type)
	}
	return nil
}

// Compute returns the discount amount for the given price, rounded to two
// decimal places (half-up). The result is always in [0, price]; a zero or
// negative price yields a zero discount.
func Compute(b Benefit, price decimal.Decimal) decimal.Decimal {
	if price.Sign() <= 0 {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch b.Type {
	case TypePercentage:
		amount = price.Mul(b.Value).Div(hundred).Round(2)
	case TypeFixed:
		amount = decimal.Min(b.Value, price).Round(2)
	default:
		return decimal.Zero
	}

	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(price) {
		return price
	}
	return amount
}

// Percentage reports the effective discount percentage for the given price,
// derived from the same amount Compute produces so that a displayed
// percentage can never drift from the applied discount.
func Percentage(b Benefit, price decimal.Decimal) decimal.Decimal {
	if price.Sign() <= 0 {
		return decimal.Zero
	}
	return Compute(b, price).Div(price).Mul(hundred).Round(2)
}
