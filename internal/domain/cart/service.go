package cart

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/picklepot-store/internal/apperr"
	"github.com/xenking/picklepot-store/internal/domain/product"
)

// Item is an unpriced cart entry as stored or submitted by a client.
type Item struct {
	VariantID string
	Quantity  int
}

// Store persists cart items. Prices are never stored; they are resolved from
// the catalog each time a cart is read.
type Store interface {
	Items(ctx context.Context, cartID string) ([]Item, error)
	SetQuantity(ctx context.Context, cartID, variantID string, qty int) error
	Remove(ctx context.Context, cartID, variantID string) error
	Clear(ctx context.Context, cartID string) error
}

// Catalog resolves variants for pricing.
type Catalog interface {
	GetVariants(ctx context.Context, ids []string) ([]product.Variant, error)
}

// PricingSource returns the current store-wide pricing.
type PricingSource interface {
	Pricing(ctx context.Context) (Pricing, error)
}

// PricedItem is a cart entry resolved against the catalog.
type PricedItem struct {
	Variant   product.Variant
	Quantity  int
	LineTotal decimal.Decimal
}

// View is a cart resolved against the catalog with computed totals.
type View struct {
	CartID   string
	Items    []PricedItem
	Totals   Totals
	Currency string
}

// Service manages stored carts.
type Service struct {
	store   Store
	catalog Catalog
	pricing PricingSource
}

// NewService creates a cart Service.
func NewService(store Store, catalog Catalog, pricing PricingSource) *Service {
	return &Service{store: store, catalog: catalog, pricing: pricing}
}

// Get returns the cart with current prices and totals. Items whose variant
// has left the catalog are dropped from the cart.
func (s *Service) Get(ctx context.Context, cartID string) (*View, error) {
	if cartID == "" {
		return nil, apperr.Validation("cart id is required")
	}
	items, err := s.store.Items(ctx, cartID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}

	view, missing, err := s.price(ctx, items)
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		zctx.From(ctx).Info("Dropping unavailable variant from cart",
			zap.String("cart_id", cartID),
			zap.String("variant_id", id),
		)
		if err := s.store.Remove(ctx, cartID, id); err != nil {
			return nil, errors.Wrap(err, "remove unavailable item")
		}
	}
	view.CartID = cartID
	return view, nil
}

// SetItem sets the quantity of a variant in the cart.
func (s *Service) SetItem(ctx context.Context, cartID, variantID string, qty int) (*View, error) {
	if cartID == "" {
		return nil, apperr.Validation("cart id is required")
	}
	if err := ValidateQuantity(variantID, qty); err != nil {
		return nil, err
	}
	fetched, err := s.catalog.GetVariants(ctx, []string{variantID})
	if err != nil {
		return nil, errors.Wrap(err, "get variant")
	}
	if _, err := product.IndexVariants([]string{variantID}, fetched); err != nil {
		return nil, err
	}
	if err := s.store.SetQuantity(ctx, cartID, variantID, qty); err != nil {
		return nil, errors.Wrap(err, "set quantity")
	}
	return s.Get(ctx, cartID)
}

// RemoveItem removes a variant from the cart.
func (s *Service) RemoveItem(ctx context.Context, cartID, variantID string) (*View, error) {
	if err := s.store.Remove(ctx, cartID, variantID); err != nil {
		return nil, errors.Wrap(err, "remove item")
	}
	return s.Get(ctx, cartID)
}

// Clear empties the cart.
func (s *Service) Clear(ctx context.Context, cartID string) error {
	if err := s.store.Clear(ctx, cartID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

// Estimate prices an ad-hoc list of items without touching any stored cart.
// Unlike Get, unknown variants are an error.
func (s *Service) Estimate(ctx context.Context, items []Item) (*View, error) {
	for _, it := range items {
		if err := ValidateQuantity(it.VariantID, it.Quantity); err != nil {
			return nil, err
		}
	}
	view, missing, err := s.price(ctx, items)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, &product.VariantNotFoundError{VariantID: missing[0]}
	}
	return view, nil
}

func (s *Service) price(ctx context.Context, items []Item) (*View, []string, error) {
	pricing, err := s.pricing.Pricing(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load pricing")
	}

	items = append([]Item(nil), items...)
	sort.Slice(items, func(i, j int) bool { return items[i].VariantID < items[j].VariantID })

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.VariantID
	}
	fetched, err := s.catalog.GetVariants(ctx, ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get variants")
	}
	byID := make(map[string]product.Variant, len(fetched))
	for _, v := range fetched {
		byID[v.ID] = v
	}

	var (
		missing []string
		lines   = make([]Line, 0, len(items))
		priced  = make([]PricedItem, 0, len(items))
	)
	for _, it := range items {
		v, ok := byID[it.VariantID]
		if !ok {
			missing = append(missing, it.VariantID)
			continue
		}
		l := Line{VariantID: v.ID, UnitPrice: v.Price, Quantity: it.Quantity}
		lines = append(lines, l)
		priced = append(priced, PricedItem{Variant: v, Quantity: it.Quantity, LineTotal: l.Total()})
	}

	totals, err := ComputeTotals(lines, pricing)
	if err != nil {
		return nil, nil, err
	}
	return &View{Items: priced, Totals: totals, Currency: pricing.Currency}, missing, nil
}
