package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/picklepot-store/internal/domain/coupon"
)

const (
	couponColumns = `id, code, name, description, kind, value, min_order_amount, max_discount_amount,
		usage_limit, usage_limit_per_customer, usage_count, is_active, starts_at, expires_at`

	findCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE lower(code) = lower($1)`

	lockCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1 FOR UPDATE`

	countCustomerUsagesSQL = `SELECT count(*) FROM coupon_usages WHERE coupon_id = $1 AND customer_id = $2`

	hasUsageSQL = `SELECT EXISTS (SELECT 1 FROM coupon_usages WHERE coupon_id = $1 AND order_id = $2)`

	// insertUsageSQL increments the counter only while it is below the
	// limit and inserts the usage row only if the increment happened.
	insertUsageSQL = `WITH bumped AS (
			UPDATE coupons SET usage_count = usage_count + 1, updated_at = now()
			WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)
			RETURNING id
		)
		INSERT INTO coupon_usages (coupon_id, order_id, customer_id, discount_amount, used_at)
		SELECT id, $2, NULLIF($3, ''), $4, $5 FROM bumped`

	upsertCouponSQL = `INSERT INTO coupons (code, name, description, kind, value, min_order_amount,
			max_discount_amount, usage_limit, usage_limit_per_customer, is_active, starts_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT ((lower(code))) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
			kind = EXCLUDED.kind, value = EXCLUDED.value, min_order_amount = EXCLUDED.min_order_amount,
			max_discount_amount = EXCLUDED.max_discount_amount, usage_limit = EXCLUDED.usage_limit,
			usage_limit_per_customer = EXCLUDED.usage_limit_per_customer, is_active = EXCLUDED.is_active,
			starts_at = EXCLUDED.starts_at, expires_at = EXCLUDED.expires_at, updated_at = now()
		RETURNING id`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by code, case-insensitively. Inactive coupons
// are returned too so evaluation can report why they do not apply.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.one(ctx, findCouponByCodeSQL, code)
}

// LockByID loads a coupon and locks its row for the surrounding transaction.
func (r *CouponRepository) LockByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.one(ctx, lockCouponSQL, id)
}

func (r *CouponRepository) one(ctx context.Context, sql string, arg string) (*coupon.Coupon, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrapf(err, "get coupon %q", arg)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get coupon %q", arg)
	}
	return &c, nil
}

// CountCustomerUsages returns how many orders of the customer redeemed the coupon.
func (r *CouponRepository) CountCustomerUsages(ctx context.Context, couponID, customerID string) (int, error) {
	var n int
	if err := conn(ctx, r.pool).QueryRow(ctx, countCustomerUsagesSQL, couponID, customerID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count customer usages")
	}
	return n, nil
}

// HasUsage reports whether the order already redeemed the coupon.
func (r *CouponRepository) HasUsage(ctx context.Context, couponID, orderID string) (bool, error) {
	var ok bool
	if err := conn(ctx, r.pool).QueryRow(ctx, hasUsageSQL, couponID, orderID).Scan(&ok); err != nil {
		return false, errors.Wrap(err, "check usage")
	}
	return ok, nil
}

// InsertUsage records u and increments the usage counter in one statement.
func (r *CouponRepository) InsertUsage(ctx context.Context, u coupon.Usage) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, insertUsageSQL,
		u.CouponID, u.OrderID, u.CustomerID, u.DiscountAmount, u.UsedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert usage")
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrUnavailable
	}
	return nil
}

// UpsertCoupons inserts or updates coupons by code in a single batch and
// returns their ids in input order. Usage counters are never overwritten.
func (r *CouponRepository) UpsertCoupons(ctx context.Context, coupons []coupon.Coupon) ([]string, error) {
	b := &pgx.Batch{}
	for _, c := range coupons {
		b.Queue(upsertCouponSQL,
			c.Code, c.Name, c.Description, string(c.Kind), c.Value, c.MinOrderAmount,
			c.MaxDiscountAmount, c.UsageLimit, c.UsageLimitPerCustomer, c.IsActive, c.StartsAt, c.ExpiresAt,
		)
	}

	br := conn(ctx, r.pool).SendBatch(ctx, b)
	ids := make([]string, len(coupons))
	for i, c := range coupons {
		if err := br.QueryRow().Scan(&ids[i]); err != nil {
			_ = br.Close()
			return nil, errors.Wrapf(err, "upsert coupon %q", c.Code)
		}
	}
	if err := br.Close(); err != nil {
		return nil, errors.Wrap(err, "upsert coupons")
	}
	return ids, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c    coupon.Coupon
		kind string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Name, &c.Description, &kind, &c.Value, &c.MinOrderAmount, &c.MaxDiscountAmount,
		&c.UsageLimit, &c.UsageLimitPerCustomer, &c.UsageCount, &c.IsActive, &c.StartsAt, &c.ExpiresAt,
	)
	c.Kind = coupon.Kind(kind)
	return c, err
}
