package payment

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/picklepot-store/internal/apperr"
	"github.com/xenking/picklepot-store/internal/domain/coupon"
	"github.com/xenking/picklepot-store/internal/domain/events"
	"github.com/xenking/picklepot-store/internal/domain/inventory"
	"github.com/xenking/picklepot-store/internal/domain/order"
)

// --- Mock implementations ---

type mockTx struct{}

func (mockTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockRepo struct {
	txns    map[string]*Transaction
	refunds map[string]*Refund
}

func newMockRepo() *mockRepo {
	return &mockRepo{txns: make(map[string]*Transaction), refunds: make(map[string]*Refund)}
}

func (m *mockRepo) CreateTransaction(_ context.Context, t *Transaction) error {
	cp := *t
	m.txns[t.ID] = &cp
	return nil
}

func (m *mockRepo) GetTransaction(_ context.Context, id string) (*Transaction, error) {
	t, ok := m.txns[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockRepo) LockTransaction(ctx context.Context, id string) (*Transaction, error) {
	return m.GetTransaction(ctx, id)
}

func (m *mockRepo) UpdateTransaction(_ context.Context, t *Transaction) error {
	cp := *t
	m.txns[t.ID] = &cp
	return nil
}

func (m *mockRepo) ListTransactions(_ context.Context, orderID string) ([]Transaction, error) {
	var out []Transaction
	for _, t := range m.txns {
		if t.OrderID == orderID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockRepo) CreateRefund(_ context.Context, r *Refund) error {
	cp := *r
	m.refunds[r.ID] = &cp
	return nil
}

func (m *mockRepo) UpdateRefund(_ context.Context, r *Refund) error {
	cp := *r
	m.refunds[r.ID] = &cp
	return nil
}

func (m *mockRepo) ListRefunds(_ context.Context, transactionID string) ([]Refund, error) {
	var out []Refund
	for _, r := range m.refunds {
		if r.TransactionID == transactionID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockRepo) RefundTotals(_ context.Context, transactionID string) (RefundTotals, error) {
	var tot RefundTotals
	for _, r := range m.refunds {
		if r.TransactionID != transactionID {
			continue
		}
		switch r.Status {
		case RefundCompleted:
			tot.Completed = tot.Completed.Add(r.Amount)
		case RefundPending, RefundProcessing:
			tot.InFlight = tot.InFlight.Add(r.Amount)
		}
	}
	return tot, nil
}

func (m *mockRepo) OrderBalance(_ context.Context, orderID string) (Balance, error) {
	var bal Balance
	for _, t := range m.txns {
		if t.OrderID != orderID {
			continue
		}
		switch {
		case t.Status.Settled():
			bal.Charged = bal.Charged.Add(t.Amount)
		case t.Status == TransactionPending || t.Status == TransactionProcessing:
			bal.Pending = bal.Pending.Add(t.Amount)
		}
	}
	for _, r := range m.refunds {
		if r.OrderID == orderID && r.Status == RefundCompleted {
			bal.Refunded = bal.Refunded.Add(r.Amount)
		}
	}
	return bal, nil
}

type mockOrders struct {
	byID map[string]order.Order
}

func (m *mockOrders) GetForUpdate(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (m *mockOrders) UpdateStatus(_ context.Context, o *order.Order) error {
	m.byID[o.ID] = *o
	return nil
}

type mockCoupons struct {
	checkErr  error
	redeemErr error
	redeemed  []coupon.Redemption
}

func (m *mockCoupons) CheckAvailable(context.Context, string, string) error {
	return m.checkErr
}

func (m *mockCoupons) Redeem(_ context.Context, r coupon.Redemption) error {
	if m.redeemErr != nil {
		return m.redeemErr
	}
	m.redeemed = append(m.redeemed, r)
	return nil
}

type mockLedger struct {
	ops []inventory.Op
}

func (m *mockLedger) Apply(_ context.Context, op inventory.Op, _ string, _ []inventory.Line) error {
	m.ops = append(m.ops, op)
	return nil
}

type mockSink struct {
	types []events.Type
}

func (m *mockSink) Enqueue(_ context.Context, e events.Event) error {
	m.types = append(m.types, e.Type)
	return nil
}

type mockProcessor struct {
	chargeFn  func(ctx context.Context) error
	refundErr error
	charges   []ChargeRequest
	refunds   []RefundRequest
}

func (m *mockProcessor) Name() string { return "mock" }

func (m *mockProcessor) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	m.charges = append(m.charges, req)
	if m.chargeFn != nil {
		if err := m.chargeFn(ctx); err != nil {
			return nil, err
		}
	}
	return &ChargeResult{
		Reference:    "ch_" + req.IdempotencyKey,
		Fee:          decimal.RequireFromString("0.3"),
		CardLastFour: "4242",
		CardBrand:    "visa",
	}, nil
}

func (m *mockProcessor) Refund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	m.refunds = append(m.refunds, req)
	if m.refundErr != nil {
		return nil, m.refundErr
	}
	return &RefundResult{Reference: "re_" + req.IdempotencyKey}, nil
}

// --- Helpers ---

type fixture struct {
	svc       *Service
	repo      *mockRepo
	orders    *mockOrders
	coupons   *mockCoupons
	ledger    *mockLedger
	sink      *mockSink
	processor *mockProcessor
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{
		repo:      newMockRepo(),
		orders:    &mockOrders{byID: make(map[string]order.Order)},
		coupons:   &mockCoupons{},
		ledger:    &mockLedger{},
		sink:      &mockSink{},
		processor: &mockProcessor{},
	}
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	f.svc = NewService(mockTx{}, f.repo, f.orders, f.coupons, f.ledger, f.sink, f.processor, opts...)
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) addOrder(id, total string, status order.Status) {
	f.orders.byID[id] = order.Order{
		ID:                id,
		Number:            "PP-20250615-" + id,
		Status:            status,
		PaymentStatus:     order.PaymentPending,
		FulfillmentStatus: order.FulfillmentUnfulfilled,
		TotalAmount:       dec(total),
		Currency:          "USD",
		Items:             []order.Item{{VariantID: "mango-8oz", Quantity: 2}},
	}
}

func (f *fixture) order(id string) order.Order { return f.orders.byID[id] }

func (f *fixture) pay(t *testing.T, orderID, amount string) *Transaction {
	t.Helper()
	txn, err := f.svc.ProcessPayment(context.Background(), ChargeInput{OrderID: orderID, Amount: dec(amount), Method: MethodCreditCard})
	require.NoError(t, err)
	return txn
}

func refundInput(txnID, amount string) RefundInput {
	return RefundInput{TransactionID: txnID, Amount: dec(amount), Reason: ReasonRequestedByCustomer}
}

// --- ProcessPayment ---

func TestProcessPayment_Success(t *testing.T) {
	f := newFixture()
	f.addOrder("o1", "30.64", order.StatusPending)
	o := f.orders.byID["o1"]
	o.CouponID, o.CouponCode, o.DiscountAmount = "c1", "SAVE10", dec("3.41")
	f.orders.byID["o1"] = o

	txn := f.pay(t, "o1", "30.64")

	assert.Equal(t, TransactionSuccess, txn.Status)
	assert.Equal(t, "ch_"+txn.ID, txn.Reference)
	assert.Equal(t, "0.30", txn.FeeAmount.StringFixed(2))
	assert.NotNil(t, txn.ProcessedAt)
	assert.Equal(t, "mock", txn.Processor)
	assert.Equal(t, order.PaymentPaid, f.order("o1").PaymentStatus)

	require.Len(t, f.coupons.redeemed, 1)
	assert.Equal(t, "o1", f.coupons.redeemed[0].OrderID)
	assert.Equal(t, "3.41", f.coupons.redeemed[0].Discount.StringFixed(2))
	assert.Equal(t, []events.Type{events.CouponRedeemed, events.PaymentSucceeded}, f.sink.types)
}

func TestProcessPayment_PartialThenFull(t *testing.T) {
	f := newFixture()
	f.addOrder("o1", "34.05", order.StatusPending)
	o := f.orders.byID["o1"]
	o.CouponID, o.CouponCode = "c1", "SAVE10"
	f.orders.byID["o1"] = o

	f.pay(t, "o1", "20.00")
	assert.Equal(t, order.PaymentPartiallyPaid, f.order("o1").PaymentStatus)

	f.pay(t, "o1", "14.05")
	assert.Equal(t, order.PaymentPaid, f.order("o1").PaymentStatus)
	assert.Len(t, f.coupons.redeemed, 1, "coupon redeemed on first charge only")

	_, err := f.svc.ProcessPayment(context.Background(), ChargeInput{OrderID: "o1", Amount: dec("1.00"), Method: MethodCreditCard})
	require.ErrorIs(t, err, apperr.ErrInvalidStateTransition, "nothing left to pay")
}

func TestProcessPayment_Validation(t *testing.T) {
	f := newFixture()
	f.addOrder("o1", "34.05", order.StatusPending)

	tests := []struct {
		name string
		in   ChargeInput
	}{
		{name: "zero amount", in: ChargeInput{OrderID: "o1", Amount: dec("0"), Method: MethodCreditCard}},
		{name: "fractional cents", in: ChargeInput{OrderID: "o1", Amount: dec("1.005"), Method: MethodCreditCard}},
		{name: "unknown method", in: ChargeInput{OrderID: "o1", Amount: dec("10"), Method: "cheque"}},
		{name: "over balance", in: ChargeInput{OrderID: "o1", Amount: dec("34.06"), Method: MethodCreditCard}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ProcessPayment(context.Background(), tt.in)
			require.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assert.Empty(t, f.processor.charges)
	assert.Empty(t, f.repo.txns)
}

func TestProcessPayment_UnknownOrder(t *testing.T) {
	f := newFixture()

	_, err := f.svc.ProcessPayment(context.Background(), ChargeInput{OrderID: "nope", Amount: dec("1"), Method: MethodPayPal})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestProcessPayment_CancelledOrder(t *testing.T) {
	f := newFixture()
	f.addOrder("o1", "34.05", order.StatusCancelled)

	_, err := f.svc.ProcessPayment(context.Background(), ChargeInput{OrderID: "o1", Amount: dec("34.05"), Method: MethodCreditCard})
	require.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
}

func TestProcessPayment_Declined(t *testing.T) {
	f := newFixture()
	f.addOrder("o1", "34.05", order.StatusPending)
	f.processor.chargeFn = func(context.Context) error { return &DeclinedError{Reason: "insufficient funds"} }

	_, err := f.svc.ProcessPayment(context.Background(), ChargeInput{OrderID: "o1", Amount: dec("34.05"), Method: MethodCreditCard})

	var payErr *Error
	require.ErrorAs(t, err, &payErr)
	require.ErrorIs(t, err, apperr.ErrPaymentFailed)
	assert.Equal(t, "insufficient funds", payErr.Reason)

	txns, err := f.svc.ListTransactions(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, TransactionFailed, txns[0].Status)
	assert.Equal(t, "insufficient funds", txns[0].FailureReason)
	assert.Equal(t, order.PaymentPending, f.order("o1").PaymentStatus, "order payment status unchanged")
	assert.Equal(t, []events.Type{events.PaymentFailed}, f.sink.types)

	// A failed attempt does not hold the balance.
	f.processor.chargeFn = nil
	f.pay(t, "o1", "34.05")
	assert.Equal(t, order.PaymentPaid, f.order("o1").PaymentStatus)
}

func TestProcessPayment_TimeoutLandsFailed(t *testing.T) {
	f := newFixture(WithTimeout(10 * time.Millisecond))
	f.addOrder("o1", "34.05", order.StatusPending)
	f.processor.chargeFn = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := f.svc.ProcessPayment(context.Background(), ChargeInput{OrderID: "o1", Amount: dec("34.05"), Method: MethodCreditCard})

	var payErr *Error
	require.ErrorAs(t, err, &payErr)
	assert.Equal(t, "processor timeout", payErr.Reason)
	txn := f.repo.txns[payErr.TransactionID]
	require.NotNil(t, txn)
	assert.Equal(t, TransactionFailed, txn.Status, "never left processing")
}

func TestProcessPayment_CallerCancelledLandsFailed(t *testing.T) {
	f := newFixture()
	f.addOrder("o1", "34.05", order.StatusPending)
	ctx, cancel := context.WithCancel(context.Background())
	f.processor.chargeFn = func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}

	_, err := f.svc.ProcessPayment(ctx, ChargeInput{OrderID: "o1", Amount: dec("34.05"), Method: MethodCreditCard})

	var payErr *Error
	require.ErrorAs(t, err, &payErr)
	assert.Equal(t, TransactionFailed, f.repo.txns[payErr.TransactionID].Status)
}

func TestProcessPayment_CouponTakenConcurrently(t *testing.T) {
	f := newFixture()
	f.addOrder("o1", "30.64", order.StatusPending)
	o := f.orders.byID["o1"]
	o.CouponID, o.CouponCode = "c1", "LAST1"
	f.orders.byID["o1"] = o
	f.coupons.redeemErr = errors.Wrap(coupon.ErrUnavailable, "LIMIT_REACHED")

	_, err := f.svc.ProcessPayment(context.Background(), ChargeInput{OrderID: "o1", Amount: dec("30.64"), Method: MethodCreditCard})

	var payErr *Error
	require.ErrorAs(t, err, &payErr)
	assert.Equal(t, "coupon no longer available", payErr.Reason)
	require.Len(t, f.processor.refunds, 1, "charge reversed")
	assert.Equal(t, "30.64", f.processor.refunds[0].Amount.StringFixed(2))
	assert.Equal(t, TransactionFailed, f.repo.txns[payErr.TransactionID].Status)
	assert.Equal(t, order.PaymentPending, f.order("o1").PaymentStatus)
}

func TestProcessPayment_CouponPrecheck(t *testing.T) {
	f := newFixture()
	f.addOrder("o1", "30.64", order.StatusPending)
	o := f.orders.byID["o1"]
	o.CouponID, o.CouponCode = "c1", "LAST1"
	f.orders.byID["o1"] = o
	f.coupons.checkErr = errors.Wrap(coupon.ErrUnavailable, "EXPIRED")

	_, err := f.svc.ProcessPayment(context.Background(), ChargeInput{OrderID: "o1", Amount: dec("30.64"), Method: MethodCreditCard})
	require.ErrorIs(t, err, coupon.ErrUnavailable)
	assert.Empty(t, f.processor.charges, "processor not called")
}

func TestProcessPayment_ZeroTotalOrderNeedsNoCharge(t *testing.T) {
	f := newFixture()
	f.addOrder("o1", "0.00", order.StatusPending)
	o := f.orders.byID["o1"]
	o.PaymentStatus = order.PaymentPaid
	f.orders.byID["o1"] = o

	_, err := f.svc.ProcessPayment(context.Background(), ChargeInput{OrderID: "o1", Amount: dec("0.01"), Method: MethodCreditCard})

	require.ErrorIs(t, err, apperr.ErrInvalidStateTransition)
	assert.Empty(t, f.processor.charges)
	assert.Empty(t, f.coupons.redeemed)
}

// --- Refund ---

func TestRefund_PartialThenExceedThenRest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addOrder("o1", "100.00", order.StatusConfirmed)
	txn := f.pay(t, "o1", "100.00")

	r, err := f.svc.Refund(ctx, refundInput(txn.ID, "60.00"))
	require.NoError(t, err)
	assert.Equal(t, RefundCompleted, r.Status)
	assert.NotNil(t, r.ProcessedAt)
	assert.Equal(t, TransactionPartiallyRefunded, f.repo.txns[txn.ID].Status)
	assert.Equal(t, order.PaymentPartiallyRefunded, f.order("o1").PaymentStatus)
	assert.Equal(t, order.StatusConfirmed, f.order("o1").Status)

	_, err = f.svc.Refund(ctx, refundInput(txn.ID, "50.00"))
	var invErr *InvalidRefundError
	require.ErrorAs(t, err, &invErr)
	require.ErrorIs(t, err, apperr.ErrInvalidRefund)
	assert.Len(t, f.processor.refunds, 1, "processor not called for invalid refund")

	in := refundInput(txn.ID, "40.00")
	in.Restock = true
	_, err = f.svc.Refund(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, TransactionRefunded, f.repo.txns[txn.ID].Status)
	assert.Equal(t, order.PaymentRefunded, f.order("o1").PaymentStatus)
	assert.Equal(t, order.StatusRefunded, f.order("o1").Status)
	assert.Equal(t, []inventory.Op{inventory.OpUncommit}, f.ledger.ops)

	refunds, err := f.svc.ListRefunds(ctx, txn.ID)
	require.NoError(t, err)
	total := decimal.Zero
	for _, r := range refunds {
		total = total.Add(r.Amount)
	}
	assert.Equal(t, "100.00", total.StringFixed(2))

	_, err = f.svc.Refund(ctx, refundInput(txn.ID, "0.01"))
	require.ErrorIs(t, err, apperr.ErrInvalidRefund, "refunded transaction is not refundable")
}

func TestRefund_FailedTransaction(t *testing.T) {
	f := newFixture()
	f.addOrder("o1", "34.05", order.StatusPending)
	f.processor.chargeFn = func(context.Context) error { return &DeclinedError{Reason: "card expired"} }
	_, err := f.svc.ProcessPayment(context.Background(), ChargeInput{OrderID: "o1", Amount: dec("34.05"), Method: MethodCreditCard})
	var payErr *Error
	require.ErrorAs(t, err, &payErr)

	_, err = f.svc.Refund(context.Background(), refundInput(payErr.TransactionID, "1.00"))
	require.ErrorIs(t, err, apperr.ErrInvalidRefund)
}

func TestRefund_InFlightCountsAgainstRefundable(t *testing.T) {
	f := newFixture()
	f.addOrder("o1", "100.00", order.StatusConfirmed)
	txn := f.pay(t, "o1", "100.00")
	f.repo.refunds["inflight"] = &Refund{ID: "inflight", TransactionID: txn.ID, OrderID: "o1", Amount: dec("70.00"), Status: RefundProcessing}

	_, err := f.svc.Refund(context.Background(), refundInput(txn.ID, "40.00"))
	require.ErrorIs(t, err, apperr.ErrInvalidRefund)

	_, err = f.svc.Refund(context.Background(), refundInput(txn.ID, "30.00"))
	require.NoError(t, err)
}

func TestRefund_ProcessorFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addOrder("o1", "100.00", order.StatusConfirmed)
	txn := f.pay(t, "o1", "100.00")
	f.processor.refundErr = &DeclinedError{Reason: "charge disputed"}

	_, err := f.svc.Refund(ctx, refundInput(txn.ID, "100.00"))

	var refErr *RefundError
	require.ErrorAs(t, err, &refErr)
	require.ErrorIs(t, err, apperr.ErrRefundFailed)
	assert.Equal(t, "charge disputed", refErr.Reason)
	assert.Equal(t, RefundFailed, f.repo.refunds[refErr.RefundID].Status)
	assert.Equal(t, TransactionSuccess, f.repo.txns[txn.ID].Status, "transaction unchanged")
	assert.Equal(t, order.PaymentPaid, f.order("o1").PaymentStatus)

	f.processor.refundErr = nil
	_, err = f.svc.Refund(ctx, refundInput(txn.ID, "100.00"))
	require.NoError(t, err, "failed refund does not consume the refundable amount")
}

func TestRefund_CancelledOrderKeepsStatus(t *testing.T) {
	f := newFixture()
	f.addOrder("o1", "34.05", order.StatusPending)
	txn := f.pay(t, "o1", "34.05")
	o := f.orders.byID["o1"]
	o.Status = order.StatusCancelled
	f.orders.byID["o1"] = o

	in := refundInput(txn.ID, "34.05")
	in.Restock = true
	_, err := f.svc.Refund(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, order.StatusCancelled, f.order("o1").Status)
	assert.Equal(t, order.PaymentRefunded, f.order("o1").PaymentStatus)
	assert.Empty(t, f.ledger.ops, "stock already returned on cancellation")
}

func TestRefund_FullRefundReturnsStock(t *testing.T) {
	tests := []struct {
		name    string
		status  order.Status
		restock bool
		want    []inventory.Op
	}{
		{name: "pending releases reservation", status: order.StatusPending, want: []inventory.Op{inventory.OpRelease}},
		{name: "processing uncommits", status: order.StatusProcessing, want: []inventory.Op{inventory.OpUncommit}},
		{name: "shipped not returned", status: order.StatusShipped},
		{name: "shipped returned", status: order.StatusShipped, restock: true, want: []inventory.Op{inventory.OpReturn}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.addOrder("o1", "34.05", tt.status)
			txn := f.pay(t, "o1", "34.05")

			in := refundInput(txn.ID, "34.05")
			in.Restock = tt.restock
			_, err := f.svc.Refund(context.Background(), in)
			require.NoError(t, err)

			assert.Equal(t, order.StatusRefunded, f.order("o1").Status)
			assert.Equal(t, tt.want, f.ledger.ops)
		})
	}
}

func TestRefund_PartialRefundKeepsStock(t *testing.T) {
	f := newFixture()
	f.addOrder("o1", "34.05", order.StatusPending)
	txn := f.pay(t, "o1", "34.05")

	in := refundInput(txn.ID, "10.00")
	in.Restock = true
	_, err := f.svc.Refund(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, order.StatusPending, f.order("o1").Status)
	assert.Empty(t, f.ledger.ops)
}

func TestRefund_Validation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Refund(context.Background(), RefundInput{TransactionID: "t", Amount: dec("-1"), Reason: ReasonDamaged})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Refund(context.Background(), RefundInput{TransactionID: "t", Amount: dec("1"), Reason: "bored"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Refund(context.Background(), refundInput("missing", "1"))
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListRefunds_UnknownTransaction(t *testing.T) {
	f := newFixture()

	_, err := f.svc.ListRefunds(context.Background(), "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
