// Package money holds the fixed-point helpers used for every monetary
// field. Amounts are shopspring decimals carried at two decimal places.
package money

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/picklepot-store/internal/apperr"
)

// Places is the number of fractional digits every stored amount carries.
const Places = 2

var hundred = decimal.NewFromInt(100)

// Round rounds d half away from zero to two decimal places. For the
// non-negative amounts the engine deals with this is half-up rounding.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Percent returns pct percent of base, rounded.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return Round(base.Mul(pct).Div(hundred))
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// NonNegative clamps d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Sum adds all amounts without intermediate rounding.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Parse reads a decimal string and validates it as an amount.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrap(apperr.Validationf("invalid amount %q", s), "parse")
	}
	if err := Validate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Validate reports whether d is a usable amount: not negative and without
// fractional cents.
func Validate(d decimal.Decimal) error {
	if d.IsNegative() {
		return apperr.Validationf("amount %s is negative", d)
	}
	if !d.Equal(Round(d)) {
		return apperr.Validationf("amount %s has more than %d decimal places", d, Places)
	}
	return nil
}

// ValidatePositive is like Validate but also rejects zero.
func ValidatePositive(d decimal.Decimal) error {
	if err := Validate(d); err != nil {
		return err
	}
	if d.IsZero() {
		return apperr.Validation("amount must be greater than zero")
	}
	return nil
}
