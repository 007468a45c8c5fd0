package repository

import (
	"context"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/picklepot-store/internal/apperr"
	"github.com/xenking/picklepot-store/internal/domain/order"
)

// SQLSTATE codes the transactor classifies.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

// Transactor defaults.
const (
	DefaultLockTimeout = 2 * time.Second
	DefaultMaxRetries  = 3
	defaultBackoff     = 50 * time.Millisecond
)

// querier is the part of pgx shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txKey struct{}

// conn returns the transaction started by WithinTx, or the pool.
func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

var _ order.Transactor = (*Transactor)(nil)

// Transactor runs functions inside a read committed transaction with a
// bounded lock wait. Serialization failures and deadlocks are retried with
// jittered exponential backoff; lock timeouts and exhausted retries surface
// as apperr.ErrConcurrencyConflict.
type Transactor struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	maxRetries  int
	backoff     time.Duration
}

// TxOptions configures a Transactor.
type TxOptions struct {
	LockTimeout time.Duration
	MaxRetries  int
}

// NewTransactor creates a Transactor over pool.
func NewTransactor(pool *pgxpool.Pool, opts TxOptions) *Transactor {
	t := &Transactor{
		pool:        pool,
		lockTimeout: opts.LockTimeout,
		maxRetries:  opts.MaxRetries,
		backoff:     defaultBackoff,
	}
	if t.lockTimeout <= 0 {
		t.lockTimeout = DefaultLockTimeout
	}
	if t.maxRetries < 0 {
		t.maxRetries = 0
	} else if opts.MaxRetries == 0 {
		t.maxRetries = DefaultMaxRetries
	}
	return t
}

// WithinTx runs fn in a transaction. A call nested in another WithinTx
// joins the outer transaction.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	for attempt := 0; ; attempt++ {
		err := t.run(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return classify(err)
		}
		if attempt >= t.maxRetries {
			return errors.Wrapf(apperr.ErrConcurrencyConflict, "gave up after %d attempts: %s", attempt+1, err)
		}

		wait := t.backoff << attempt
		wait += time.Duration(rand.Int64N(int64(wait)))
		zctx.From(ctx).Debug("Retrying transaction",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Transactor) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	ms := strconv.FormatInt(t.lockTimeout.Milliseconds(), 10) + "ms"
	if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", ms); err != nil {
		return errors.Wrap(err, "set lock timeout")
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func retryable(err error) bool {
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

// classify maps contention errors to apperr.ErrConcurrencyConflict and
// passes everything else through.
func classify(err error) error {
	switch code := pgCode(err); code {
	case codeLockNotAvailable:
		return errors.Wrapf(apperr.ErrConcurrencyConflict, "lock wait timed out: %s", err)
	case codeUniqueViolation:
		return errors.Wrapf(apperr.ErrConcurrencyConflict, "concurrent insert: %s", err)
	}
	return err
}
