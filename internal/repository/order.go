package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/picklepot-store/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (id, order_number, customer_id, email, phone,
			status, payment_status, fulfillment_status, billing_address, shipping_address,
			delivery_instructions, preferred_delivery_date, subtotal, tax_amount, shipping_amount,
			discount_amount, total_amount, currency, tax_rate, coupon_id, coupon_code, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, NULLIF($20, ''), $21, $22, $23)`

	insertOrderItemSQL = `INSERT INTO order_items (id, order_id, position, variant_id, product_name,
			sku, variant_name, quantity, unit_price, total_price, weight, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	orderColumns = `id, order_number, COALESCE(customer_id, ''), email, phone, status, payment_status,
		fulfillment_status, billing_address, shipping_address, delivery_instructions,
		preferred_delivery_date, subtotal, tax_amount, shipping_amount, discount_amount, total_amount,
		currency, tax_rate, COALESCE(coupon_id, ''), coupon_code, confirmed_at, shipped_at,
		delivered_at, cancelled_at, created_at, updated_at`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByNumberSQL  = `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`
	getOrderForUpdateSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	listOrderItemsSQL = `SELECT id, variant_id, product_name, sku, variant_name, quantity,
			unit_price, total_price, weight, image_url
		FROM order_items WHERE order_id = $1 ORDER BY position`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, payment_status = $3, fulfillment_status = $4,
			confirmed_at = $5, shipped_at = $6, delivered_at = $7, cancelled_at = $8, updated_at = $9
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order with its items in one batch.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	b := &pgx.Batch{}
	b.Queue(insertOrderSQL,
		o.ID, o.Number, o.CustomerID, o.Email, o.Phone,
		string(o.Status), string(o.PaymentStatus), string(o.FulfillmentStatus), o.Billing, o.Shipping,
		o.DeliveryInstructions, o.PreferredDeliveryDate, o.Subtotal, o.TaxAmount, o.ShippingAmount,
		o.DiscountAmount, o.TotalAmount, o.Currency, o.TaxRate, o.CouponID, o.CouponCode, o.CreatedAt, o.UpdatedAt,
	)
	for i, it := range o.Items {
		b.Queue(insertOrderItemSQL,
			it.ID, o.ID, i, it.VariantID, it.ProductName,
			it.SKU, it.VariantName, it.Quantity, it.UnitPrice, it.TotalPrice, it.Weight, it.ImageURL,
		)
	}
	if err := conn(ctx, r.pool).SendBatch(ctx, b).Close(); err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// Get returns an order with its items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.one(ctx, getOrderSQL, id)
}

// GetByNumber returns an order by its order number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	return r.one(ctx, getOrderByNumberSQL, number)
}

// GetForUpdate returns an order and locks its row for the surrounding transaction.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return r.one(ctx, getOrderForUpdateSQL, id)
}

// UpdateStatus writes the status fields and their stamps.
func (r *OrderRepository) UpdateStatus(ctx context.Context, o *order.Order) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateOrderStatusSQL,
		o.ID, string(o.Status), string(o.PaymentStatus), string(o.FulfillmentStatus),
		o.ConfirmedAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update order %q", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) one(ctx context.Context, sql, arg string) (*order.Order, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", arg)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", arg)
	}

	rows, err = q.Query(ctx, listOrderItemsSQL, o.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "list items of order %q", o.ID)
	}
	if o.Items, err = pgx.CollectRows(rows, scanOrderItem); err != nil {
		return nil, errors.Wrapf(err, "list items of order %q", o.ID)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                 order.Order
		status, paymentStatus, fulfilment string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.Email, &o.Phone, &status, &paymentStatus,
		&fulfilment, &o.Billing, &o.Shipping, &o.DeliveryInstructions,
		&o.PreferredDeliveryDate, &o.Subtotal, &o.TaxAmount, &o.ShippingAmount, &o.DiscountAmount, &o.TotalAmount,
		&o.Currency, &o.TaxRate, &o.CouponID, &o.CouponCode, &o.ConfirmedAt, &o.ShippedAt,
		&o.DeliveredAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.FulfillmentStatus = order.FulfillmentStatus(fulfilment)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(
		&it.ID, &it.VariantID, &it.ProductName, &it.SKU, &it.VariantName, &it.Quantity,
		&it.UnitPrice, &it.TotalPrice, &it.Weight, &it.ImageURL,
	)
	return it, err
}
