// Command seed-db loads the demo catalog, stock, coupons and an operator API
// key into a migrated database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/picklepot-store/internal/domain/auth"
	"github.com/xenking/picklepot-store/internal/domain/coupon"
	"github.com/xenking/picklepot-store/internal/domain/product"
	"github.com/xenking/picklepot-store/internal/repository"
)

type catalogFile struct {
	Products []productJSON `json:"products"`
	Coupons  []couponJSON  `json:"coupons"`
}

type productJSON struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Slug        string        `json:"slug"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	SKU         string        `json:"sku"`
	Variants    []variantJSON `json:"variants"`
}

type variantJSON struct {
	ID       string              `json:"id"`
	SKU      string              `json:"sku"`
	Name     string              `json:"name"`
	Price    decimal.Decimal     `json:"price"`
	Weight   decimal.NullDecimal `json:"weight"`
	ImageURL string              `json:"image_url"`
	Stock    int                 `json:"stock"`
}

type couponJSON struct {
	Code        string              `json:"code"`
	Name        string              `json:"name"`
	Type        coupon.Kind         `json:"type"`
	Value       decimal.Decimal     `json:"value"`
	MinOrder    decimal.Decimal     `json:"min_order"`
	MaxDiscount decimal.NullDecimal `json:"max_discount"`
	UsageLimit  *int                `json:"usage_limit"`
	PerCustomer int                 `json:"per_customer"`
}

func main() {
	var (
		databaseURL string
		catalogPath string
		keyName     string
		pepper      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogPath, "catalog", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&keyName, "api-key-name", "ops", "name of the operator API key to create (empty to skip)")
	flag.StringVar(&pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PICKLEPOT_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if pepper == "" {
		pepper = os.Getenv("PICKLEPOT_API_KEY_PEPPER")
	}
	if keyName != "" && pepper == "" {
		slog.Error("API key pepper is required: set --api-key-pepper or PICKLEPOT_API_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogPath, keyName, pepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogPath, keyName, pepper string) error {
	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogFile
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("running migrations")
	if _, err := repository.RunMigrations(databaseURL); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	tx := repository.NewTransactor(pool, repository.TxOptions{})
	products := repository.NewProductRepository(pool)
	stock := repository.NewInventoryRepository(pool)
	coupons := repository.NewCouponRepository(pool)

	err = tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, p := range catalog.Products {
			if err := products.Upsert(ctx, toProduct(p)); err != nil {
				return err
			}
			for _, v := range p.Variants {
				if err := stock.SetAvailable(ctx, v.ID, v.Stock); err != nil {
					return err
				}
			}
			slog.Info("upserted product", slog.String("id", p.ID), slog.Int("variants", len(p.Variants)))
		}

		ids, err := coupons.UpsertCoupons(ctx, toCoupons(catalog.Coupons))
		if err != nil {
			return err
		}
		slog.Info("upserted coupons", slog.Int("count", len(ids)))
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if keyName == "" {
		return nil
	}
	raw, hash, err := auth.Generate([]byte(pepper))
	if err != nil {
		return err
	}
	id, err := repository.NewAPIKeyRepository(pool).Create(ctx, hash, keyName,
		[]string{auth.ScopeOrdersAdmin, auth.ScopePaymentsRefund})
	if err != nil {
		return err
	}
	// The raw key is shown once and never stored.
	slog.Info("created API key", slog.String("id", id), slog.String("name", keyName), slog.String("key", raw))
	return nil
}

func toProduct(p productJSON) product.Product {
	variants := make([]product.Variant, len(p.Variants))
	for i, v := range p.Variants {
		variants[i] = product.Variant{
			ID:          v.ID,
			ProductID:   p.ID,
			ProductName: p.Name,
			SKU:         v.SKU,
			Name:        v.Name,
			Price:       v.Price,
			Weight:      v.Weight,
			ImageURL:    v.ImageURL,
		}
	}
	return product.Product{
		ID:          p.ID,
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		Category:    p.Category,
		SKU:         p.SKU,
		Status:      "active",
		Variants:    variants,
	}
}

func toCoupons(in []couponJSON) []coupon.Coupon {
	out := make([]coupon.Coupon, len(in))
	for i, c := range in {
		out[i] = coupon.Coupon{
			Code:                  c.Code,
			Name:                  c.Name,
			Kind:                  c.Type,
			Value:                 c.Value,
			MinOrderAmount:        c.MinOrder,
			MaxDiscountAmount:     c.MaxDiscount,
			UsageLimit:            c.UsageLimit,
			UsageLimitPerCustomer: c.PerCustomer,
			IsActive:              true,
		}
	}
	return out
}
