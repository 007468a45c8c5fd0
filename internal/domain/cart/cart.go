// Package cart aggregates cart lines into monetary totals and manages the
// lifecycle of stored carts.
package cart

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/picklepot-store/internal/apperr"
	"github.com/xenking/picklepot-store/internal/domain/money"
)

// Quantity bounds for a single cart line.
const (
	MinQuantity = 1
	MaxQuantity = 99
)

// InvalidQuantityError indicates a line quantity outside [MinQuantity, MaxQuantity].
type InvalidQuantityError struct {
	VariantID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity %d for variant %s must be between %d and %d",
		e.Quantity, e.VariantID, MinQuantity, MaxQuantity)
}

func (e *InvalidQuantityError) Unwrap() error { return apperr.ErrValidation }

// ValidateQuantity checks a single line quantity.
func ValidateQuantity(variantID string, qty int) error {
	if qty < MinQuantity || qty > MaxQuantity {
		return &InvalidQuantityError{VariantID: variantID, Quantity: qty}
	}
	return nil
}

// Line is a priced cart line.
type Line struct {
	VariantID string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Total returns unitPrice × quantity without rounding.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Pricing holds the store-wide rates applied to every cart. It is read from
// persisted store settings, never from process configuration.
type Pricing struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingRate      decimal.Decimal
	Currency              string
}

// Totals is the monetary summary of a cart.
type Totals struct {
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Shipping  decimal.Decimal
	Total     decimal.Decimal
	ItemCount int
}

// ComputeTotals sums lines into subtotal, tax, shipping and total.
//
// Each derived field is rounded exactly once, after the exact subtotal is
// known. An empty cart has nothing to ship and totals to zero.
func ComputeTotals(lines []Line, p Pricing) (Totals, error) {
	subtotal := decimal.Zero
	count := 0
	for _, l := range lines {
		if err := ValidateQuantity(l.VariantID, l.Quantity); err != nil {
			return Totals{}, err
		}
		if l.UnitPrice.IsNegative() {
			return Totals{}, apperr.Validationf("unit price for variant %s is negative", l.VariantID)
		}
		subtotal = subtotal.Add(l.Total())
		count += l.Quantity
	}
	subtotal = money.Round(subtotal)

	if len(lines) == 0 {
		return Totals{Subtotal: subtotal, Tax: decimal.Zero, Shipping: decimal.Zero, Total: subtotal}, nil
	}

	tax := money.Round(subtotal.Mul(p.TaxRate))
	shipping := money.Round(p.FlatShippingRate)
	if subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	return Totals{
		Subtotal:  subtotal,
		Tax:       tax,
		Shipping:  shipping,
		Total:     subtotal.Add(tax).Add(shipping),
		ItemCount: count,
	}, nil
}
