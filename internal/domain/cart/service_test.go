package cart

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/picklepot-store/internal/apperr"
	"github.com/xenking/picklepot-store/internal/domain/product"
)

type memoryStore struct {
	carts map[string]map[string]int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{carts: make(map[string]map[string]int)}
}

func (m *memoryStore) Items(_ context.Context, cartID string) ([]Item, error) {
	var items []Item
	for id, qty := range m.carts[cartID] {
		items = append(items, Item{VariantID: id, Quantity: qty})
	}
	return items, nil
}

func (m *memoryStore) SetQuantity(_ context.Context, cartID, variantID string, qty int) error {
	if m.carts[cartID] == nil {
		m.carts[cartID] = make(map[string]int)
	}
	m.carts[cartID][variantID] = qty
	return nil
}

func (m *memoryStore) Remove(_ context.Context, cartID, variantID string) error {
	delete(m.carts[cartID], variantID)
	return nil
}

func (m *memoryStore) Clear(_ context.Context, cartID string) error {
	delete(m.carts, cartID)
	return nil
}

type mockCatalog struct {
	variants map[string]product.Variant
	err      error
}

func (m *mockCatalog) GetVariants(_ context.Context, ids []string) ([]product.Variant, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Variant
	for _, id := range ids {
		if v, ok := m.variants[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

type staticPricing struct{ p Pricing }

func (s staticPricing) Pricing(context.Context) (Pricing, error) { return s.p, nil }

func newTestService(store Store) *Service {
	catalog := &mockCatalog{variants: map[string]product.Variant{
		"mango-8oz": {ID: "mango-8oz", ProductName: "Mango Pickle", Name: "8oz", Price: d("12.99")},
		"chili-6oz": {ID: "chili-6oz", ProductName: "Chili Powder", Name: "6oz", Price: d("8.50")},
	}}
	return NewService(store, catalog, staticPricing{p: storePricing()})
}

func TestService_SetItemAndGet(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemoryStore())

	view, err := svc.SetItem(ctx, "c1", "mango-8oz", 2)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "c1", view.CartID)
	assert.Equal(t, "34.05", view.Totals.Total.StringFixed(2))
	assert.Equal(t, "25.98", view.Items[0].LineTotal.StringFixed(2))

	view, err = svc.SetItem(ctx, "c1", "chili-6oz", 1)
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "chili-6oz", view.Items[0].Variant.ID, "items are ordered by variant")
}

func TestService_SetItemRejectsBadQuantity(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)

	_, err := svc.SetItem(context.Background(), "c1", "mango-8oz", 100)

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Empty(t, store.carts["c1"])
}

func TestService_SetItemUnknownVariant(t *testing.T) {
	svc := newTestService(newMemoryStore())

	_, err := svc.SetItem(context.Background(), "c1", "missing", 1)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_GetDropsVanishedVariants(t *testing.T) {
	store := newMemoryStore()
	require.NoError(t, store.SetQuantity(context.Background(), "c1", "discontinued", 3))
	require.NoError(t, store.SetQuantity(context.Background(), "c1", "mango-8oz", 1))
	svc := newTestService(store)

	view, err := svc.Get(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.NotContains(t, store.carts["c1"], "discontinued")
}

func TestService_Estimate(t *testing.T) {
	svc := newTestService(newMemoryStore())

	view, err := svc.Estimate(context.Background(), []Item{{VariantID: "mango-8oz", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, "2.08", view.Totals.Tax.StringFixed(2))

	_, err = svc.Estimate(context.Background(), []Item{{VariantID: "nope", Quantity: 1}})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_CatalogError(t *testing.T) {
	svc := NewService(newMemoryStore(), &mockCatalog{err: errors.New("db down")}, staticPricing{p: storePricing()})

	_, err := svc.Estimate(context.Background(), []Item{{VariantID: "mango-8oz", Quantity: 1}})
	require.Error(t, err)
	assert.Nil(t, apperr.Kind(err))
}
