// Package outbox relays persisted domain events to the message bus.
package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/picklepot-store/internal/domain/events"
	"github.com/xenking/picklepot-store/internal/domain/order"
)

// Relay defaults.
const (
	DefaultInterval  = time.Second
	DefaultBatchSize = 100
)

// Store claims and acknowledges outbox rows. Claim must lock the rows it
// returns for the surrounding transaction.
type Store interface {
	Claim(ctx context.Context, limit int) ([]events.Event, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}

// Publisher delivers a batch of events. It must either deliver all of them
// or return an error.
type Publisher interface {
	Publish(ctx context.Context, batch []events.Event) error
}

// Relay polls the outbox and publishes unpublished events in order. Events
// are delivered at least once: a crash between publish and mark repeats
// the batch.
type Relay struct {
	tx        order.Transactor
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewRelay creates a Relay.
func NewRelay(tx order.Transactor, store Store, publisher Publisher, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Relay{
		tx:        tx,
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run relays events until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	lg.Info("Outbox relay started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			lg.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
		}
		// Drain full batches before waiting for the next tick.
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				lg.Error("Outbox relay failed", zap.Error(err))
				break
			}
			if n < r.batchSize {
				break
			}
		}
	}
}

// RelayOnce publishes one batch and returns its size.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var n int
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		batch, err := r.store.Claim(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := r.publisher.Publish(ctx, batch); err != nil {
			return errors.Wrap(err, "publish")
		}
		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}
		if err := r.store.MarkPublished(ctx, ids, r.now()); err != nil {
			return err
		}
		n = len(batch)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
