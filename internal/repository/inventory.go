package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/picklepot-store/internal/domain/inventory"
)

const (
	// applyInventorySQL moves units between buckets only when every bucket
	// stays non-negative, so a short row updates nothing.
	applyInventorySQL = `UPDATE inventory SET
			quantity_available = quantity_available + $3,
			quantity_reserved  = quantity_reserved + $4,
			quantity_committed = quantity_committed + $5,
			updated_at = now()
		WHERE variant_id = $1 AND location = $2
			AND quantity_available + $3 >= 0
			AND quantity_reserved + $4 >= 0
			AND quantity_committed + $5 >= 0`

	insertMovementSQL = `INSERT INTO inventory_movements (variant_id, location, order_id, op, quantity)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)`

	setLevelSQL = `INSERT INTO inventory (variant_id, location, quantity_available)
		VALUES ($1, $2, $3)
		ON CONFLICT (variant_id, location) DO UPDATE SET quantity_available = EXCLUDED.quantity_available,
			updated_at = now()`
)

var _ inventory.Ledger = (*InventoryRepository)(nil)

// InventoryRepository implements inventory.Ledger backed by PostgreSQL.
type InventoryRepository struct {
	pool     *pgxpool.Pool
	location string
}

// NewInventoryRepository returns an InventoryRepository for the default location.
func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool, location: inventory.DefaultLocation}
}

// Apply performs op for every line and records a movement per line. Rows
// are updated in variant order to keep lock order stable across callers.
// The caller's transaction rolls back earlier lines if a later one fails.
func (r *InventoryRepository) Apply(ctx context.Context, op inventory.Op, orderID string, lines []inventory.Line) error {
	d, ok := inventory.DeltaFor(op)
	if !ok {
		return errors.Errorf("unknown inventory op %q", op)
	}
	q := conn(ctx, r.pool)
	for _, l := range inventory.Merge(lines) {
		tag, err := q.Exec(ctx, applyInventorySQL, l.VariantID, r.location,
			d.Available*l.Quantity, d.Reserved*l.Quantity, d.Committed*l.Quantity,
		)
		if err != nil {
			return errors.Wrapf(err, "%s variant %q", op, l.VariantID)
		}
		if tag.RowsAffected() == 0 {
			return &inventory.InsufficientStockError{VariantID: l.VariantID, Op: op, Requested: l.Quantity}
		}
		if _, err := q.Exec(ctx, insertMovementSQL, l.VariantID, r.location, orderID, string(op), l.Quantity); err != nil {
			return errors.Wrapf(err, "record %s movement", op)
		}
	}
	return nil
}

// SetAvailable sets the available quantity of a variant.
func (r *InventoryRepository) SetAvailable(ctx context.Context, variantID string, qty int) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, setLevelSQL, variantID, r.location, qty); err != nil {
		return errors.Wrapf(err, "set stock of %q", variantID)
	}
	return nil
}
