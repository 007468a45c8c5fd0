// Package events defines the domain events recorded alongside state changes
// and relayed to the message bus.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Type names a domain event.
type Type string

// Event types.
const (
	OrderCreated       Type = "order.created"
	OrderStatusChanged Type = "order.status_changed"
	PaymentSucceeded   Type = "payment.succeeded"
	PaymentFailed      Type = "payment.failed"
	RefundCompleted    Type = "refund.completed"
	RefundFailed       Type = "refund.failed"
	CouponRedeemed     Type = "coupon.redeemed"
)

// Event is a domain event with a JSON payload.
type Event struct {
	ID          string
	Type        Type
	AggregateID string
	Payload     json.RawMessage
	OccurredAt  time.Time
}

// New builds an event for the aggregate, encoding payload as JSON.
func New(t Type, aggregateID string, payload any, at time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Wrapf(err, "marshal %s payload", t)
	}
	return Event{
		ID:          uuid.New().String(),
		Type:        t,
		AggregateID: aggregateID,
		Payload:     raw,
		OccurredAt:  at.UTC(),
	}, nil
}

// Sink records events. Implementations write to the outbox table inside the
// caller's transaction so that an event exists iff its state change commits.
type Sink interface {
	Enqueue(ctx context.Context, e Event) error
}

// Emit builds an event and enqueues it.
func Emit(ctx context.Context, sink Sink, t Type, aggregateID string, payload any, at time.Time) error {
	e, err := New(t, aggregateID, payload, at)
	if err != nil {
		return err
	}
	if err := sink.Enqueue(ctx, e); err != nil {
		return errors.Wrapf(err, "enqueue %s", t)
	}
	return nil
}
