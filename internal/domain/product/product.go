package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/picklepot-store/internal/apperr"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.Wrap(apperr.ErrNotFound, "product")

// VariantNotFoundError indicates a requested variant does not exist or is
// no longer sold.
type VariantNotFoundError struct {
	VariantID string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("variant %s not found", e.VariantID)
}

func (e *VariantNotFoundError) Unwrap() error { return apperr.ErrNotFound }

// Product represents a catalog item with its sellable variants.
type Product struct {
	ID          string
	Name        string
	Slug        string
	Description string
	Category    string
	SKU         string
	Status      string
	Variants    []Variant
}

// Variant is a sellable size of a product (e.g. the 8oz jar) and carries
// the price charged at checkout.
type Variant struct {
	ID          string
	ProductID   string
	ProductName string
	SKU         string
	Name        string
	Price       decimal.Decimal
	Weight      decimal.NullDecimal
	ImageURL    string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetVariants(ctx context.Context, ids []string) ([]Variant, error)
}

// IndexVariants resolves every id in ids against the fetched variants and
// fails with VariantNotFoundError on the first missing one.
func IndexVariants(ids []string, fetched []Variant) (map[string]Variant, error) {
	byID := make(map[string]Variant, len(fetched))
	for _, v := range fetched {
		byID[v.ID] = v
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, &VariantNotFoundError{VariantID: id}
		}
	}
	return byID, nil
}
