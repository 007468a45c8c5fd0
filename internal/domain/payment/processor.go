package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeRequest asks a processor to capture money.
type ChargeRequest struct {
	// IdempotencyKey is the transaction id; processors must not charge
	// twice for the same key.
	IdempotencyKey string
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	Method         Method
}

// ChargeResult describes a captured charge.
type ChargeResult struct {
	Reference    string
	Fee          decimal.Decimal
	CardLastFour string
	CardBrand    string
}

// RefundRequest asks a processor to reverse part of a charge.
type RefundRequest struct {
	IdempotencyKey string
	Reference      string
	Amount         decimal.Decimal
}

// RefundResult describes a reversal accepted by the processor.
type RefundResult struct {
	Reference string
}

// Processor settles money with an external payment provider.
type Processor interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// DeclinedError is returned by a Processor that reached the provider and
// got a definitive refusal.
type DeclinedError struct {
	Reason string
}

func (e *DeclinedError) Error() string { return "declined: " + e.Reason }
