package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/picklepot-store/internal/domain/product"
)

const (
	listProductsSQL = `SELECT id, name, slug, description, category, sku, status
		FROM products WHERE status = 'active' ORDER BY name, id`

	getProductByIDSQL = `SELECT id, name, slug, description, category, sku, status
		FROM products WHERE id = $1`

	variantColumns = `v.id, v.product_id, p.name, v.sku, v.name, v.price, v.weight, v.image_url`

	listVariantsSQL = `SELECT ` + variantColumns + `
		FROM product_variants v JOIN products p ON p.id = v.product_id
		WHERE v.product_id = ANY($1) AND v.active ORDER BY v.product_id, v.position, v.id`

	getVariantsSQL = `SELECT ` + variantColumns + `
		FROM product_variants v JOIN products p ON p.id = v.product_id
		WHERE v.id = ANY($1) AND v.active AND p.status = 'active'`

	upsertProductSQL = `INSERT INTO products (id, name, slug, description, category, sku, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, slug = EXCLUDED.slug,
			description = EXCLUDED.description, category = EXCLUDED.category,
			sku = EXCLUDED.sku, status = EXCLUDED.status`

	upsertVariantSQL = `INSERT INTO product_variants (id, product_id, sku, name, price, weight, image_url, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET sku = EXCLUDED.sku, name = EXCLUDED.name,
			price = EXCLUDED.price, weight = EXCLUDED.weight,
			image_url = EXCLUDED.image_url, position = EXCLUDED.position`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// List returns all active products with their variants.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	if err := r.attachVariants(ctx, q, products); err != nil {
		return nil, err
	}
	return products, nil
}

// GetByID returns a single product with its variants.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	products := []product.Product{p}
	if err := r.attachVariants(ctx, q, products); err != nil {
		return nil, err
	}
	return &products[0], nil
}

// GetVariants returns the sellable variants among ids. Unknown or inactive
// ids are omitted; callers detect them with product.IndexVariants.
func (r *ProductRepository) GetVariants(ctx context.Context, ids []string) ([]product.Variant, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getVariantsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get variants")
	}
	return pgx.CollectRows(rows, scanVariant)
}

// Upsert inserts or updates a product and its variants.
func (r *ProductRepository) Upsert(ctx context.Context, p product.Product) error {
	b := &pgx.Batch{}
	b.Queue(upsertProductSQL, p.ID, p.Name, p.Slug, p.Description, p.Category, p.SKU, p.Status)
	for i, v := range p.Variants {
		b.Queue(upsertVariantSQL, v.ID, p.ID, v.SKU, v.Name, v.Price, v.Weight, v.ImageURL, i)
	}
	if err := conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrapf(err, "upsert product %q", p.ID)
	}
	return nil
}

func (r *ProductRepository) attachVariants(ctx context.Context, q querier, products []product.Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, len(products))
	idx := make(map[string]int, len(products))
	for i, p := range products {
		ids[i] = p.ID
		idx[p.ID] = i
	}
	rows, err := q.Query(ctx, listVariantsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "list variants")
	}
	variants, err := pgx.CollectRows(rows, scanVariant)
	if err != nil {
		return errors.Wrap(err, "list variants")
	}
	for _, v := range variants {
		i := idx[v.ProductID]
		products[i].Variants = append(products[i].Variants, v)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.Category, &p.SKU, &p.Status)
	return p, err
}

func scanVariant(row pgx.CollectableRow) (product.Variant, error) {
	var v product.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.ProductName, &v.SKU, &v.Name, &v.Price, &v.Weight, &v.ImageURL)
	return v, err
}
