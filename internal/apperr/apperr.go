// Package apperr defines the error kinds shared by every layer of the store.
//
// Domain packages return typed errors that unwrap to exactly one kind, so
// transports can classify failures with errors.Is without knowing the
// concrete type.
package apperr

import "github.com/go-faster/errors"

var (
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown coupon, order, variant or transaction.
	ErrNotFound = errors.New("not found")
	// ErrInvalidStateTransition marks an illegal status move.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrOutOfStock marks a reservation that could not be satisfied.
	ErrOutOfStock = errors.New("out of stock")
	// ErrConcurrencyConflict marks a lock wait timeout or an exhausted retry
	// budget. The whole operation may be retried by the caller.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrPaymentFailed marks a charge that landed in the failed state.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrRefundFailed marks a refund that landed in the failed state.
	ErrRefundFailed = errors.New("refund failed")
	// ErrInvalidRefund marks a refund request the transaction cannot absorb.
	ErrInvalidRefund = errors.New("invalid refund")
)

var kinds = []error{
	ErrValidation,
	ErrNotFound,
	ErrInvalidStateTransition,
	ErrOutOfStock,
	ErrConcurrencyConflict,
	ErrPaymentFailed,
	ErrRefundFailed,
	ErrInvalidRefund,
}

// Kind returns the kind err belongs to, or nil for unclassified errors.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Validation returns an ErrValidation error with the given message.
func Validation(msg string) error {
	return &validationError{msg: msg}
}

// Validationf is like Validation but formats the message.
func Validationf(format string, args ...any) error {
	return &validationError{msg: errors.Errorf(format, args...).Error()}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Unwrap() error { return ErrValidation }
