package repository

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/picklepot-store/internal/domain/events"
)

const (
	insertOutboxSQL = `INSERT INTO outbox_events (event_id, type, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`

	claimOutboxSQL = `SELECT event_id, type, aggregate_id, payload, occurred_at
		FROM outbox_events WHERE published_at IS NULL
		ORDER BY seq LIMIT $1 FOR UPDATE SKIP LOCKED`

	markOutboxSQL = `UPDATE outbox_events SET published_at = $2 WHERE event_id = ANY($1)`
)

var _ events.Sink = (*OutboxRepository)(nil)

// OutboxRepository stores domain events until the relay publishes them.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// Enqueue stores e in the caller's transaction.
func (r *OutboxRepository) Enqueue(ctx context.Context, e events.Event) error {
	_, err := conn(ctx, r.pool).Exec(ctx, insertOutboxSQL,
		e.ID, string(e.Type), e.AggregateID, []byte(e.Payload), e.OccurredAt,
	)
	if err != nil {
		return errors.Wrapf(err, "enqueue %s event", e.Type)
	}
	return nil
}

// Claim locks up to limit unpublished events, oldest first. Rows locked by
// another relay are skipped.
func (r *OutboxRepository) Claim(ctx context.Context, limit int) ([]events.Event, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, claimOutboxSQL, limit)
	if err != nil {
		return nil, errors.Wrap(err, "claim outbox events")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (events.Event, error) {
		var (
			e       events.Event
			typ     string
			payload []byte
		)
		err := row.Scan(&e.ID, &typ, &e.AggregateID, &payload, &e.OccurredAt)
		e.Type = events.Type(typ)
		e.Payload = payload
		return e, err
	})
}

// MarkPublished stamps the events as published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, markOutboxSQL, ids, at); err != nil {
		return errors.Wrap(err, "mark outbox events published")
	}
	return nil
}
