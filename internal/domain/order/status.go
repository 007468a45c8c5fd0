package order

import (
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/picklepot-store/internal/apperr"
)

// Status is the order lifecycle status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// PaymentStatus tracks money collected for the order.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentPartiallyPaid     PaymentStatus = "partially_paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// FulfillmentStatus tracks physical pick, pack and ship progress.
type FulfillmentStatus string

const (
	FulfillmentUnfulfilled FulfillmentStatus = "unfulfilled"
	FulfillmentPartial     FulfillmentStatus = "partial"
	FulfillmentFulfilled   FulfillmentStatus = "fulfilled"
)

// Forward progress plus the cancelled and refunded side branches. Nothing
// moves backward and both side branches are terminal.
var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled, StatusRefunded},
	StatusConfirmed:  {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusProcessing: {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:    {StatusDelivered, StatusRefunded},
	StatusDelivered:  {StatusRefunded},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentPaid, PaymentPartiallyPaid, PaymentFailed},
	PaymentFailed:            {PaymentPaid, PaymentPartiallyPaid, PaymentFailed},
	PaymentPartiallyPaid:     {PaymentPaid, PaymentPartiallyRefunded, PaymentRefunded},
	PaymentPaid:              {PaymentPartiallyRefunded, PaymentRefunded},
	PaymentPartiallyRefunded: {PaymentPartiallyRefunded, PaymentRefunded},
}

var fulfillmentTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentUnfulfilled: {FulfillmentPartial, FulfillmentFulfilled},
	FulfillmentPartial:     {FulfillmentFulfilled},
}

// ParseStatus validates s as an order status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusRefunded:
		return st, nil
	}
	return "", apperr.Validationf("unknown order status %q", s)
}

// ParseFulfillmentStatus validates s as a fulfillment status.
func ParseFulfillmentStatus(s string) (FulfillmentStatus, error) {
	st := FulfillmentStatus(s)
	switch st {
	case FulfillmentUnfulfilled, FulfillmentPartial, FulfillmentFulfilled:
		return st, nil
	}
	return "", apperr.Validationf("unknown fulfillment status %q", s)
}

// TransitionError indicates an illegal move of one of the order status fields.
type TransitionError struct {
	Field string
	From  string
	To    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move %s from %s to %s", e.Field, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return apperr.ErrInvalidStateTransition }

// CanTransition reports whether the order status may move from one state to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(statusTransitions[from], to)
}

// Cancellable reports whether an order in status s may still be cancelled.
func (s Status) Cancellable() bool {
	return CanTransition(s, StatusCancelled)
}

// Transition moves the order to status to and stamps the matching
// timestamp. On error the order is left untouched.
func (o *Order) Transition(to Status, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return &TransitionError{Field: "status", From: string(o.Status), To: string(to)}
	}
	o.Status = to
	o.UpdatedAt = now
	switch to {
	case StatusConfirmed:
		o.ConfirmedAt = &now
	case StatusShipped:
		o.ShippedAt = &now
	case StatusDelivered:
		o.DeliveredAt = &now
	case StatusCancelled:
		o.CancelledAt = &now
	}
	return nil
}

// SetPaymentStatus moves the payment status. Setting the current status
// again is allowed only where the table permits a self-loop.
func (o *Order) SetPaymentStatus(to PaymentStatus, now time.Time) error {
	if !slices.Contains(paymentTransitions[o.PaymentStatus], to) {
		return &TransitionError{Field: "payment status", From: string(o.PaymentStatus), To: string(to)}
	}
	o.PaymentStatus = to
	o.UpdatedAt = now
	return nil
}

// SetFulfillment moves the fulfillment status forward.
func (o *Order) SetFulfillment(to FulfillmentStatus, now time.Time) error {
	if !slices.Contains(fulfillmentTransitions[o.FulfillmentStatus], to) {
		return &TransitionError{Field: "fulfillment status", From: string(o.FulfillmentStatus), To: string(to)}
	}
	o.FulfillmentStatus = to
	o.UpdatedAt = now
	return nil
}

// checkTotals verifies that the total is the sum of its components.
func (o *Order) checkTotals() error {
	want := o.Subtotal.Add(o.TaxAmount).Add(o.ShippingAmount).Sub(o.DiscountAmount)
	if !want.Equal(o.TotalAmount) || o.TotalAmount.IsNegative() {
		return errors.Errorf("order %s total %s does not match components %s", o.Number, o.TotalAmount, want)
	}
	return nil
}
