package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/picklepot-store/internal/domain/payment"
)

const (
	transactionColumns = `id, order_id, reference, payment_method, payment_processor, amount, fee_amount,
		currency, status, failure_reason, card_last_four, card_brand, processed_at, created_at, updated_at`

	insertTransactionSQL = `INSERT INTO payment_transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getTransactionSQL  = `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE id = $1`
	lockTransactionSQL = `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE id = $1 FOR UPDATE`
	listTransactionSQL = `SELECT ` + transactionColumns + ` FROM payment_transactions
		WHERE order_id = $1 ORDER BY created_at, id`

	updateTransactionSQL = `UPDATE payment_transactions SET reference = $2, fee_amount = $3, status = $4,
			failure_reason = $5, card_last_four = $6, card_brand = $7, processed_at = $8, updated_at = $9
		WHERE id = $1`

	refundColumns = `id, payment_transaction_id, order_id, amount, reason, notes, status,
		failure_reason, reference, processed_by, processed_at, created_at`

	insertRefundSQL = `INSERT INTO refunds (` + refundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	updateRefundSQL = `UPDATE refunds SET status = $2, failure_reason = $3, reference = $4, processed_at = $5
		WHERE id = $1`

	listRefundsSQL = `SELECT ` + refundColumns + ` FROM refunds
		WHERE payment_transaction_id = $1 ORDER BY created_at, id`

	refundTotalsSQL = `SELECT
			COALESCE(sum(amount) FILTER (WHERE status = 'completed'), 0),
			COALESCE(sum(amount) FILTER (WHERE status IN ('pending', 'processing')), 0)
		FROM refunds WHERE payment_transaction_id = $1`

	orderBalanceSQL = `SELECT
			COALESCE((SELECT sum(amount) FROM payment_transactions
				WHERE order_id = $1 AND status IN ('success', 'partially_refunded', 'refunded')), 0),
			COALESCE((SELECT sum(amount) FROM payment_transactions
				WHERE order_id = $1 AND status IN ('pending', 'processing')), 0),
			COALESCE((SELECT sum(amount) FROM refunds
				WHERE order_id = $1 AND status = 'completed'), 0)`
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository returns a PaymentRepository that uses the given pool.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// CreateTransaction inserts a new transaction row.
func (r *PaymentRepository) CreateTransaction(ctx context.Context, t *payment.Transaction) error {
	_, err := conn(ctx, r.pool).Exec(ctx, insertTransactionSQL,
		t.ID, t.OrderID, t.Reference, string(t.Method), t.Processor, t.Amount, t.FeeAmount,
		t.Currency, string(t.Status), t.FailureReason, t.CardLastFour, t.CardBrand, t.ProcessedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create transaction %q", t.ID)
	}
	return nil
}

// GetTransaction returns a transaction by id.
func (r *PaymentRepository) GetTransaction(ctx context.Context, id string) (*payment.Transaction, error) {
	return r.transaction(ctx, getTransactionSQL, id)
}

// LockTransaction returns a transaction and locks its row.
func (r *PaymentRepository) LockTransaction(ctx context.Context, id string) (*payment.Transaction, error) {
	return r.transaction(ctx, lockTransactionSQL, id)
}

func (r *PaymentRepository) transaction(ctx context.Context, sql, id string) (*payment.Transaction, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get transaction %q", id)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanTransaction)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrTransactionNotFound
		}
		return nil, errors.Wrapf(err, "get transaction %q", id)
	}
	return &t, nil
}

// UpdateTransaction writes the mutable fields of a transaction.
func (r *PaymentRepository) UpdateTransaction(ctx context.Context, t *payment.Transaction) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateTransactionSQL,
		t.ID, t.Reference, t.FeeAmount, string(t.Status),
		t.FailureReason, t.CardLastFour, t.CardBrand, t.ProcessedAt, t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update transaction %q", t.ID)
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrTransactionNotFound
	}
	return nil
}

// ListTransactions returns every transaction of an order, oldest first.
func (r *PaymentRepository) ListTransactions(ctx context.Context, orderID string) ([]payment.Transaction, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listTransactionSQL, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	return pgx.CollectRows(rows, scanTransaction)
}

// CreateRefund inserts a new refund row.
func (r *PaymentRepository) CreateRefund(ctx context.Context, rf *payment.Refund) error {
	_, err := conn(ctx, r.pool).Exec(ctx, insertRefundSQL,
		rf.ID, rf.TransactionID, rf.OrderID, rf.Amount, string(rf.Reason), rf.Notes, string(rf.Status),
		rf.FailureReason, rf.Reference, rf.ProcessedBy, rf.ProcessedAt, rf.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "create refund %q", rf.ID)
	}
	return nil
}

// UpdateRefund writes the outcome of a refund.
func (r *PaymentRepository) UpdateRefund(ctx context.Context, rf *payment.Refund) error {
	_, err := conn(ctx, r.pool).Exec(ctx, updateRefundSQL,
		rf.ID, string(rf.Status), rf.FailureReason, rf.Reference, rf.ProcessedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update refund %q", rf.ID)
	}
	return nil
}

// ListRefunds returns the refunds of a transaction, oldest first.
func (r *PaymentRepository) ListRefunds(ctx context.Context, transactionID string) ([]payment.Refund, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listRefundsSQL, transactionID)
	if err != nil {
		return nil, errors.Wrap(err, "list refunds")
	}
	return pgx.CollectRows(rows, scanRefund)
}

// RefundTotals sums completed and in-flight refunds of a transaction.
func (r *PaymentRepository) RefundTotals(ctx context.Context, transactionID string) (payment.RefundTotals, error) {
	var t payment.RefundTotals
	if err := conn(ctx, r.pool).QueryRow(ctx, refundTotalsSQL, transactionID).Scan(&t.Completed, &t.InFlight); err != nil {
		return payment.RefundTotals{}, errors.Wrap(err, "refund totals")
	}
	return t, nil
}

// OrderBalance sums charges and refunds of an order.
func (r *PaymentRepository) OrderBalance(ctx context.Context, orderID string) (payment.Balance, error) {
	var b payment.Balance
	if err := conn(ctx, r.pool).QueryRow(ctx, orderBalanceSQL, orderID).Scan(&b.Charged, &b.Pending, &b.Refunded); err != nil {
		return payment.Balance{}, errors.Wrap(err, "order balance")
	}
	return b, nil
}

func scanTransaction(row pgx.CollectableRow) (payment.Transaction, error) {
	var (
		t              payment.Transaction
		method, status string
	)
	err := row.Scan(
		&t.ID, &t.OrderID, &t.Reference, &method, &t.Processor, &t.Amount, &t.FeeAmount,
		&t.Currency, &status, &t.FailureReason, &t.CardLastFour, &t.CardBrand, &t.ProcessedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	t.Method = payment.Method(method)
	t.Status = payment.TransactionStatus(status)
	return t, err
}

func scanRefund(row pgx.CollectableRow) (payment.Refund, error) {
	var (
		rf             payment.Refund
		reason, status string
	)
	err := row.Scan(
		&rf.ID, &rf.TransactionID, &rf.OrderID, &rf.Amount, &reason, &rf.Notes, &status,
		&rf.FailureReason, &rf.Reference, &rf.ProcessedBy, &rf.ProcessedAt, &rf.CreatedAt,
	)
	rf.Reason = payment.RefundReason(reason)
	rf.Status = payment.RefundStatus(status)
	return rf, err
}
