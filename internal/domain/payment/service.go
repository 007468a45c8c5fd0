package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/picklepot-store/internal/apperr"
	"github.com/xenking/picklepot-store/internal/domain/coupon"
	"github.com/xenking/picklepot-store/internal/domain/events"
	"github.com/xenking/picklepot-store/internal/domain/inventory"
	"github.com/xenking/picklepot-store/internal/domain/money"
	"github.com/xenking/picklepot-store/internal/domain/order"
)

const (
	instrumentationName = "github.com/xenking/picklepot-store/internal/domain/payment"

	// DefaultTimeout bounds a single processor call.
	DefaultTimeout = 15 * time.Second

	reasonTimeout         = "processor timeout"
	reasonUnavailable     = "processor unavailable"
	reasonCouponExhausted = "coupon no longer available"
)

// Orders is the subset of order persistence the reconciler needs.
type Orders interface {
	GetForUpdate(ctx context.Context, id string) (*order.Order, error)
	UpdateStatus(ctx context.Context, o *order.Order) error
}

// Coupons redeems the coupon of an order when it is first paid.
type Coupons interface {
	CheckAvailable(ctx context.Context, code, customerID string) error
	Redeem(ctx context.Context, r coupon.Redemption) error
}

// ChargeInput is the input for processing a payment.
type ChargeInput struct {
	OrderID string
	Amount  decimal.Decimal
	Method  Method
}

// RefundInput is the input for refunding part of a transaction.
type RefundInput struct {
	TransactionID string
	Amount        decimal.Decimal
	Reason        RefundReason
	Notes         string
	ProcessedBy   string
	// Restock marks shipped goods as returned, putting them back into
	// available inventory when the refund brings the order to fully
	// refunded. Unshipped stock is always returned.
	Restock bool
}

// Service processes payments and refunds.
type Service struct {
	tx        order.Transactor
	repo      Repository
	orders    Orders
	coupons   Coupons
	inventory inventory.Ledger
	events    events.Sink
	processor Processor
	timeout   time.Duration
	now       func() time.Time

	tracer  trace.Tracer
	charges metric.Int64Counter
	refunds metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTimeout bounds each processor call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithTracerProvider sets the tracer provider for service spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider for service counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.initMetrics(mp) }
}

// NewService creates a payment Service.
func NewService(
	tx order.Transactor,
	repo Repository,
	orders Orders,
	coupons Coupons,
	ledger inventory.Ledger,
	sink events.Sink,
	processor Processor,
	opts ...Option,
) *Service {
	s := &Service{
		tx:        tx,
		repo:      repo,
		orders:    orders,
		coupons:   coupons,
		inventory: ledger,
		events:    sink,
		processor: processor,
		timeout:   DefaultTimeout,
		now:       time.Now,
		tracer:    tracenoop.NewTracerProvider().Tracer(instrumentationName),
	}
	s.initMetrics(metricnoop.NewMeterProvider())
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) initMetrics(mp metric.MeterProvider) {
	meter := mp.Meter(instrumentationName)
	s.charges, _ = meter.Int64Counter("store.payments.charges",
		metric.WithDescription("Charge attempts by outcome"))
	s.refunds, _ = meter.Int64Counter("store.payments.refunds",
		metric.WithDescription("Refund attempts by outcome"))
}

// ProcessPayment charges amount against the order's outstanding balance.
//
// The transaction row is written as processing before the processor is
// called and always ends in success or failed, also when the call times out
// or the caller goes away. On failure the order payment status is left
// unchanged and an *Error is returned. The first successful charge of an
// order redeems its coupon in the same database transaction that marks the
// order paid.
func (s *Service) ProcessPayment(ctx context.Context, in ChargeInput) (_ *Transaction, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.ProcessPayment",
		trace.WithAttributes(attribute.String("order.id", in.OrderID)))
	defer func() { endSpan(span, err) }()

	if err := money.ValidatePositive(in.Amount); err != nil {
		return nil, errors.Wrap(err, "amount")
	}
	if _, err := ParseMethod(string(in.Method)); err != nil {
		return nil, err
	}

	var t *Transaction
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if o.Status == order.StatusCancelled || o.Status == order.StatusRefunded {
			return &order.TransitionError{Field: "payment status", From: string(o.Status), To: string(order.PaymentPaid)}
		}
		bal, err := s.repo.OrderBalance(ctx, o.ID)
		if err != nil {
			return errors.Wrap(err, "order balance")
		}
		outstanding := o.TotalAmount.Sub(bal.Charged).Sub(bal.Pending)
		if !outstanding.IsPositive() {
			return &order.TransitionError{Field: "payment status", From: string(o.PaymentStatus), To: string(order.PaymentPaid)}
		}
		if in.Amount.GreaterThan(outstanding) {
			return apperr.Validationf("amount %s exceeds outstanding balance %s", in.Amount.StringFixed(2), outstanding.StringFixed(2))
		}
		if o.CouponID != "" && bal.Charged.IsZero() {
			if err := s.coupons.CheckAvailable(ctx, o.CouponCode, o.CustomerID); err != nil {
				return errors.Wrap(err, "coupon")
			}
		}

		now := s.now()
		t = &Transaction{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			Method:    in.Method,
			Processor: s.processor.Name(),
			Amount:    in.Amount,
			FeeAmount: decimal.Zero,
			Currency:  o.Currency,
			Status:    TransactionProcessing,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return s.repo.CreateTransaction(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", t.OrderID),
		zap.String("transaction_id", t.ID),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	res, chargeErr := s.processor.Charge(callCtx, ChargeRequest{
		IdempotencyKey: t.ID,
		OrderID:        t.OrderID,
		Amount:         t.Amount,
		Currency:       t.Currency,
		Method:         t.Method,
	})
	cancel()

	// The outcome must be recorded even if the caller is gone.
	ctx = context.WithoutCancel(ctx)

	if chargeErr != nil {
		reason := failureReason(chargeErr)
		lg.Warn("Charge failed", zap.String("reason", reason), zap.Error(chargeErr))
		return nil, s.failCharge(ctx, t, reason)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.settleCharge(ctx, t, res)
	})
	switch {
	case errors.Is(err, coupon.ErrUnavailable):
		lg.Warn("Coupon taken during payment, reversing charge", zap.Error(err))
		s.reverseCharge(ctx, t, res)
		return nil, s.failCharge(ctx, t, reasonCouponExhausted)
	case err != nil:
		// Money was captured but not recorded; the transaction stays
		// processing for reconciliation against the processor.
		lg.Error("Failed to record settled charge",
			zap.String("reference", res.Reference),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "record charge")
	}

	s.charges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	lg.Info("Payment succeeded", zap.Stringer("amount", t.Amount))
	return t, nil
}

// settleCharge marks t successful, redeems the order coupon on the first
// charge and advances the order payment status.
func (s *Service) settleCharge(ctx context.Context, t *Transaction, res *ChargeResult) error {
	o, err := s.orders.GetForUpdate(ctx, t.OrderID)
	if err != nil {
		return err
	}
	bal, err := s.repo.OrderBalance(ctx, o.ID)
	if err != nil {
		return errors.Wrap(err, "order balance")
	}
	now := s.now()

	if o.CouponID != "" && bal.Charged.IsZero() {
		if err := s.coupons.Redeem(ctx, coupon.Redemption{
			CouponID:   o.CouponID,
			OrderID:    o.ID,
			CustomerID: o.CustomerID,
			Discount:   o.DiscountAmount,
		}); err != nil {
			return errors.Wrap(err, "redeem coupon")
		}
		if err := events.Emit(ctx, s.events, events.CouponRedeemed, o.ID, couponPayload{
			CouponID: o.CouponID,
			Code:     o.CouponCode,
			OrderID:  o.ID,
			Discount: o.DiscountAmount,
		}, now); err != nil {
			return err
		}
	}

	t.Status = TransactionSuccess
	t.Reference = res.Reference
	t.FeeAmount = money.Round(res.Fee)
	t.CardLastFour = res.CardLastFour
	t.CardBrand = res.CardBrand
	t.ProcessedAt = &now
	t.UpdatedAt = now
	if err := s.repo.UpdateTransaction(ctx, t); err != nil {
		return errors.Wrap(err, "update transaction")
	}

	next := order.PaymentPartiallyPaid
	if bal.Charged.Add(t.Amount).GreaterThanOrEqual(o.TotalAmount) {
		next = order.PaymentPaid
	}
	if o.PaymentStatus != next {
		if err := o.SetPaymentStatus(next, now); err != nil {
			return err
		}
		if err := s.orders.UpdateStatus(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
	}

	return events.Emit(ctx, s.events, events.PaymentSucceeded, o.ID, newTransactionPayload(t), now)
}

func (s *Service) failCharge(ctx context.Context, t *Transaction, reason string) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		now := s.now()
		t.Status = TransactionFailed
		t.FailureReason = reason
		t.ProcessedAt = &now
		t.UpdatedAt = now
		if err := s.repo.UpdateTransaction(ctx, t); err != nil {
			return errors.Wrap(err, "update transaction")
		}
		return events.Emit(ctx, s.events, events.PaymentFailed, t.OrderID, newTransactionPayload(t), now)
	})
	if err != nil {
		return errors.Wrap(err, "record failed charge")
	}
	s.charges.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
	return &Error{TransactionID: t.ID, Reason: reason}
}

func (s *Service) reverseCharge(ctx context.Context, t *Transaction, res *ChargeResult) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.processor.Refund(callCtx, RefundRequest{
		IdempotencyKey: t.ID + ":reversal",
		Reference:      res.Reference,
		Amount:         t.Amount,
	}); err != nil {
		zctx.From(ctx).Error("Failed to reverse charge",
			zap.String("transaction_id", t.ID),
			zap.String("reference", res.Reference),
			zap.Error(err),
		)
	}
}

// Refund returns in.Amount of a settled transaction to the customer.
//
// The transaction row is locked while the refundable amount is checked and
// a processing refund is inserted, so concurrent refunds can never exceed
// the transaction amount. A processor failure leaves the refund failed and
// the transaction unchanged.
func (s *Service) Refund(ctx context.Context, in RefundInput) (_ *Refund, err error) {
	ctx, span := s.tracer.Start(ctx, "payment.Refund",
		trace.WithAttributes(attribute.String("transaction.id", in.TransactionID)))
	defer func() { endSpan(span, err) }()

	if err := money.ValidatePositive(in.Amount); err != nil {
		return nil, errors.Wrap(err, "amount")
	}
	if _, err := ParseRefundReason(string(in.Reason)); err != nil {
		return nil, err
	}

	var (
		r *Refund
		t *Transaction
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockTransaction(ctx, in.TransactionID)
		if err != nil {
			return err
		}
		if !locked.Status.Refundable() {
			return &InvalidRefundError{TransactionID: locked.ID, Reason: "transaction status is " + string(locked.Status)}
		}
		totals, err := s.repo.RefundTotals(ctx, locked.ID)
		if err != nil {
			return errors.Wrap(err, "refund totals")
		}
		remaining := locked.Amount.Sub(totals.Completed).Sub(totals.InFlight)
		if in.Amount.GreaterThan(remaining) {
			return &InvalidRefundError{
				TransactionID: locked.ID,
				Reason:        "amount " + in.Amount.StringFixed(2) + " exceeds refundable " + remaining.StringFixed(2),
			}
		}

		r = &Refund{
			ID:            uuid.New().String(),
			TransactionID: locked.ID,
			OrderID:       locked.OrderID,
			Amount:        in.Amount,
			Reason:        in.Reason,
			Notes:         in.Notes,
			Status:        RefundProcessing,
			ProcessedBy:   in.ProcessedBy,
			CreatedAt:     s.now(),
		}
		t = locked
		return s.repo.CreateRefund(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(
		zap.String("transaction_id", t.ID),
		zap.String("refund_id", r.ID),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	res, refundErr := s.processor.Refund(callCtx, RefundRequest{
		IdempotencyKey: r.ID,
		Reference:      t.Reference,
		Amount:         r.Amount,
	})
	cancel()

	ctx = context.WithoutCancel(ctx)

	if refundErr != nil {
		reason := failureReason(refundErr)
		lg.Warn("Refund failed", zap.String("reason", reason), zap.Error(refundErr))
		return nil, s.failRefund(ctx, r, reason)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.settleRefund(ctx, r, res, in.Restock)
	})
	if err != nil {
		lg.Error("Failed to record completed refund", zap.String("reference", res.Reference), zap.Error(err))
		return nil, errors.Wrap(err, "record refund")
	}

	s.refunds.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "completed")))
	lg.Info("Refund completed", zap.Stringer("amount", r.Amount))
	return r, nil
}

// settleRefund completes r and moves the transaction and order statuses.
func (s *Service) settleRefund(ctx context.Context, r *Refund, res *RefundResult, restock bool) error {
	t, err := s.repo.LockTransaction(ctx, r.TransactionID)
	if err != nil {
		return err
	}
	totals, err := s.repo.RefundTotals(ctx, t.ID)
	if err != nil {
		return errors.Wrap(err, "refund totals")
	}
	now := s.now()

	r.Status = RefundCompleted
	r.Reference = res.Reference
	r.ProcessedAt = &now
	if err := s.repo.UpdateRefund(ctx, r); err != nil {
		return errors.Wrap(err, "update refund")
	}

	t.Status = TransactionPartiallyRefunded
	if totals.Completed.Add(r.Amount).GreaterThanOrEqual(t.Amount) {
		t.Status = TransactionRefunded
	}
	t.UpdatedAt = now
	if err := s.repo.UpdateTransaction(ctx, t); err != nil {
		return errors.Wrap(err, "update transaction")
	}

	o, err := s.orders.GetForUpdate(ctx, t.OrderID)
	if err != nil {
		return err
	}
	bal, err := s.repo.OrderBalance(ctx, o.ID)
	if err != nil {
		return errors.Wrap(err, "order balance")
	}
	full := bal.Refunded.GreaterThanOrEqual(bal.Charged)
	next := order.PaymentPartiallyRefunded
	if full {
		next = order.PaymentRefunded
	}
	if o.PaymentStatus != next {
		if err := o.SetPaymentStatus(next, now); err != nil {
			return err
		}
	}
	if full {
		if op, ok := order.RefundStockOp(o.Status, restock); ok {
			if err := s.inventory.Apply(ctx, op, o.ID, order.LedgerLines(o.Items)); err != nil {
				return errors.Wrap(err, "restock")
			}
		}
		// A cancelled order keeps its status; only the money moved.
		if order.CanTransition(o.Status, order.StatusRefunded) {
			if err := o.Transition(order.StatusRefunded, now); err != nil {
				return err
			}
		}
	}
	if err := s.orders.UpdateStatus(ctx, o); err != nil {
		return errors.Wrap(err, "update order")
	}

	return events.Emit(ctx, s.events, events.RefundCompleted, o.ID, newRefundPayload(r), now)
}

func (s *Service) failRefund(ctx context.Context, r *Refund, reason string) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		now := s.now()
		r.Status = RefundFailed
		r.FailureReason = reason
		r.ProcessedAt = &now
		if err := s.repo.UpdateRefund(ctx, r); err != nil {
			return errors.Wrap(err, "update refund")
		}
		return events.Emit(ctx, s.events, events.RefundFailed, r.OrderID, newRefundPayload(r), now)
	})
	if err != nil {
		return errors.Wrap(err, "record failed refund")
	}
	s.refunds.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
	return &RefundError{RefundID: r.ID, Reason: reason}
}

// GetTransaction returns a transaction by id.
func (s *Service) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// ListTransactions returns every charge attempt of an order, failed ones included.
func (s *Service) ListTransactions(ctx context.Context, orderID string) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, orderID)
}

// ListRefunds returns every refund taken from a transaction.
func (s *Service) ListRefunds(ctx context.Context, transactionID string) ([]Refund, error) {
	if _, err := s.repo.GetTransaction(ctx, transactionID); err != nil {
		return nil, err
	}
	return s.repo.ListRefunds(ctx, transactionID)
}

func failureReason(err error) string {
	var declined *DeclinedError
	switch {
	case errors.As(err, &declined):
		return declined.Reason
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return reasonTimeout
	default:
		return reasonUnavailable
	}
}

type transactionPayload struct {
	TransactionID string            `json:"transaction_id"`
	OrderID       string            `json:"order_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
}

func newTransactionPayload(t *Transaction) transactionPayload {
	return transactionPayload{
		TransactionID: t.ID,
		OrderID:       t.OrderID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		Status:        t.Status,
		FailureReason: t.FailureReason,
	}
}

type refundPayload struct {
	RefundID      string          `json:"refund_id"`
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        RefundReason    `json:"reason"`
	Status        RefundStatus    `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

func newRefundPayload(r *Refund) refundPayload {
	return refundPayload{
		RefundID:      r.ID,
		TransactionID: r.TransactionID,
		OrderID:       r.OrderID,
		Amount:        r.Amount,
		Reason:        r.Reason,
		Status:        r.Status,
		FailureReason: r.FailureReason,
	}
}

type couponPayload struct {
	CouponID string          `json:"coupon_id"`
	Code     string          `json:"code"`
	OrderID  string          `json:"order_id"`
	Discount decimal.Decimal `json:"discount"`
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
