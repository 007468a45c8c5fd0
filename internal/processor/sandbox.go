// Package processor holds the payment.Processor adapters.
package processor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/picklepot-store/internal/domain/money"
	"github.com/xenking/picklepot-store/internal/domain/payment"
)

const sandboxName = "sandbox"

var (
	declineCents = decimal.RequireFromString("0.13")
	slowCents    = decimal.RequireFromString("0.99")
	feeRate      = decimal.RequireFromString("0.029")
	feeFixed     = decimal.RequireFromString("0.30")
)

var _ payment.Processor = (*Sandbox)(nil)

// Sandbox is an in-process processor for development and tests.
//
// Amounts ending in .13 are declined. Amounts ending in .99 take SlowDelay
// to settle when it is set, which exercises processor timeouts.
type Sandbox struct {
	SlowDelay time.Duration
}

// NewSandbox returns a Sandbox processor.
func NewSandbox(slowDelay time.Duration) *Sandbox {
	return &Sandbox{SlowDelay: slowDelay}
}

// Name implements payment.Processor.
func (s *Sandbox) Name() string { return sandboxName }

// Charge implements payment.Processor.
func (s *Sandbox) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	if err := s.wait(ctx, req.Amount); err != nil {
		return nil, err
	}
	if cents(req.Amount).Equal(declineCents) {
		return nil, &payment.DeclinedError{Reason: "card declined"}
	}
	return &payment.ChargeResult{
		Reference:    "sbx_ch_" + uuid.NewString(),
		Fee:          money.Round(req.Amount.Mul(feeRate).Add(feeFixed)),
		CardLastFour: "4242",
		CardBrand:    "visa",
	}, nil
}

// Refund implements payment.Processor.
func (s *Sandbox) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	if err := s.wait(ctx, req.Amount); err != nil {
		return nil, err
	}
	if req.Reference == "" {
		return nil, &payment.DeclinedError{Reason: "unknown charge"}
	}
	return &payment.RefundResult{Reference: "sbx_re_" + uuid.NewString()}, nil
}

func (s *Sandbox) wait(ctx context.Context, amount decimal.Decimal) error {
	if s.SlowDelay <= 0 || !cents(amount).Equal(slowCents) {
		return ctx.Err()
	}
	timer := time.NewTimer(s.SlowDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// cents returns the fractional part of amount.
func cents(amount decimal.Decimal) decimal.Decimal {
	return amount.Sub(amount.Truncate(0))
}
