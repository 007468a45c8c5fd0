package repository

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/picklepot-store/internal/domain/cart"
)

const (
	getPricingSQL = `SELECT tax_rate, free_shipping_threshold, flat_shipping_rate, currency
		FROM store_settings WHERE id = 1`

	updatePricingSQL = `UPDATE store_settings SET tax_rate = $1, free_shipping_threshold = $2,
		flat_shipping_rate = $3, currency = $4, updated_at = now() WHERE id = 1`
)

var _ cart.PricingSource = (*SettingsRepository)(nil)

// SettingsRepository reads the persisted store pricing. The rate is read on
// every checkout so a change applies to the next order without a restart.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// Pricing returns the current tax and shipping settings.
func (r *SettingsRepository) Pricing(ctx context.Context) (cart.Pricing, error) {
	var p cart.Pricing
	err := conn(ctx, r.pool).QueryRow(ctx, getPricingSQL).Scan(
		&p.TaxRate, &p.FreeShippingThreshold, &p.FlatShippingRate, &p.Currency,
	)
	if err != nil {
		return cart.Pricing{}, errors.Wrap(err, "get pricing")
	}
	p.Currency = strings.TrimSpace(p.Currency)
	return p, nil
}

// UpdatePricing replaces the store pricing.
func (r *SettingsRepository) UpdatePricing(ctx context.Context, p cart.Pricing) error {
	_, err := conn(ctx, r.pool).Exec(ctx, updatePricingSQL,
		p.TaxRate, p.FreeShippingThreshold, p.FlatShippingRate, p.Currency,
	)
	if err != nil {
		return errors.Wrap(err, "update pricing")
	}
	return nil
}
