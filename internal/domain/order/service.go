package order

import (
	"context"
	"net/mail"
	"strings"
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
	"github.com/xenking/picklepot-store/internal/domain/cart"
	"github.com/xenking/picklepot-store/internal/domain/coupon"
	"github.com/xenking/picklepot-store/internal/domain/events"
	"github.com/xenking/picklepot-store/internal/domain/inventory"
	"github.com/xenking/picklepot-store/internal/domain/money"
	"github.com/xenking/picklepot-store/internal/domain/product"
)

const instrumentationName = "github.com/xenking/picklepot-store/internal/domain/order"

// Catalog resolves variants for checkout snapshots.
type Catalog interface {
	GetVariants(ctx context.Context, ids []string) ([]product.Variant, error)
}

// Coupons evaluates coupon codes at checkout and redeems the coupon of an
// order that needs no payment.
type Coupons interface {
	Evaluate(ctx context.Context, req coupon.EvaluateRequest) (*coupon.Result, error)
	Redeem(ctx context.Context, r coupon.Redemption) error
}

// CartClearer empties a stored cart once its order is placed.
type CartClearer interface {
	Clear(ctx context.Context, cartID string) error
}

// LineRequest is a requested checkout line.
type LineRequest struct {
	VariantID string
	Quantity  int
}

// CheckoutRequest holds the input for placing an order.
type CheckoutRequest struct {
	// CartID, when set, names the stored cart to clear after the order is placed.
	CartID                string
	CustomerID            string
	Email                 string
	Phone                 string
	Billing               Address
	Shipping              Address
	DeliveryInstructions  string
	PreferredDeliveryDate *time.Time
	Items                 []LineRequest
	CouponCode            string
}

// Service encapsulates checkout and order lifecycle logic.
type Service struct {
	tx        Transactor
	orders    Repository
	catalog   Catalog
	pricing   cart.PricingSource
	coupons   Coupons
	inventory inventory.Ledger
	events    events.Sink
	carts     CartClearer
	now       func() time.Time

	tracer      trace.Tracer
	created     metric.Int64Counter
	transitions metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCartClearer clears stored carts after checkout.
func WithCartClearer(c CartClearer) Option {
	return func(s *Service) { s.carts = c }
}

// WithTracerProvider sets the tracer provider for service spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider for service counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.initMetrics(mp) }
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	tx Transactor,
	orders Repository,
	catalog Catalog,
	pricing cart.PricingSource,
	coupons Coupons,
	ledger inventory.Ledger,
	sink events.Sink,
	opts ...Option,
) *Service {
	s := &Service{
		tx:        tx,
		orders:    orders,
		catalog:   catalog,
		pricing:   pricing,
		coupons:   coupons,
		inventory: ledger,
		events:    sink,
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
	s.created, _ = meter.Int64Counter("store.orders.created",
		metric.WithDescription("Orders placed at checkout"))
	s.transitions, _ = meter.Int64Counter("store.orders.transitions",
		metric.WithDescription("Order status transitions by target status"))
}

// Checkout prices the requested lines, applies the coupon, reserves stock
// and persists a pending order, all in one transaction. If any line cannot
// be reserved nothing is written and the cart is left intact.
//
// An order whose discount brings the total to zero has nothing to charge:
// it is stored as paid and its coupon is redeemed in the same transaction.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.Checkout")
	defer func() { endSpan(span, err) }()

	if err := validateCheckout(req); err != nil {
		return nil, err
	}
	lines, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}

	var o *Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		built, err := s.buildOrder(ctx, req, lines)
		if err != nil {
			return err
		}
		if err := s.inventory.Apply(ctx, inventory.OpReserve, built.ID, LedgerLines(built.Items)); err != nil {
			return errors.Wrap(err, "reserve stock")
		}
		free := built.TotalAmount.IsZero()
		if free {
			if err := built.SetPaymentStatus(PaymentPaid, built.CreatedAt); err != nil {
				return err
			}
		}
		if err := s.orders.Create(ctx, built); err != nil {
			return errors.Wrap(err, "create order")
		}
		if err := events.Emit(ctx, s.events, events.OrderCreated, built.ID, newCreatedPayload(built), s.now()); err != nil {
			return err
		}
		if free && built.CouponID != "" {
			if err := s.redeemCoupon(ctx, built); err != nil {
				return err
			}
		}
		o = built
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.created.Add(ctx, 1)
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("number", o.Number),
		zap.Stringer("total", o.TotalAmount),
	)

	if req.CartID != "" && s.carts != nil {
		if err := s.carts.Clear(ctx, req.CartID); err != nil {
			zctx.From(ctx).Warn("Failed to clear cart after checkout",
				zap.String("cart_id", req.CartID),
				zap.Error(err),
			)
		}
	}
	return o, nil
}

func (s *Service) buildOrder(ctx context.Context, req CheckoutRequest, lines []LineRequest) (*Order, error) {
	pricing, err := s.pricing.Pricing(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load pricing")
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.VariantID
	}
	fetched, err := s.catalog.GetVariants(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get variants")
	}
	variants, err := product.IndexVariants(ids, fetched)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:                    uuid.New().String(),
		Number:                NewNumber(now),
		CustomerID:            req.CustomerID,
		Email:                 strings.TrimSpace(req.Email),
		Phone:                 req.Phone,
		Status:                StatusPending,
		PaymentStatus:         PaymentPending,
		FulfillmentStatus:     FulfillmentUnfulfilled,
		Billing:               req.Billing,
		Shipping:              req.Shipping,
		DeliveryInstructions:  req.DeliveryInstructions,
		PreferredDeliveryDate: req.PreferredDeliveryDate,
		Currency:              pricing.Currency,
		TaxRate:               pricing.TaxRate,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	cartLines := make([]cart.Line, len(lines))
	o.Items = make([]Item, len(lines))
	for i, l := range lines {
		v := variants[l.VariantID]
		cl := cart.Line{VariantID: v.ID, UnitPrice: v.Price, Quantity: l.Quantity}
		cartLines[i] = cl
		o.Items[i] = Item{
			ID:          uuid.New().String(),
			VariantID:   v.ID,
			ProductName: v.ProductName,
			SKU:         v.SKU,
			VariantName: v.Name,
			Quantity:    l.Quantity,
			UnitPrice:   v.Price,
			TotalPrice:  money.Round(cl.Total()),
			Weight:      v.Weight,
			ImageURL:    v.ImageURL,
		}
	}

	totals, err := cart.ComputeTotals(cartLines, pricing)
	if err != nil {
		return nil, err
	}
	o.Subtotal = totals.Subtotal
	o.TaxAmount = totals.Tax
	o.ShippingAmount = totals.Shipping
	o.DiscountAmount = decimal.Zero

	if code := strings.TrimSpace(req.CouponCode); code != "" {
		res, err := s.coupons.Evaluate(ctx, coupon.EvaluateRequest{
			Code:       code,
			OrderTotal: totals.Total,
			Shipping:   totals.Shipping,
			CustomerID: req.CustomerID,
		})
		if err != nil {
			return nil, errors.Wrap(err, "evaluate coupon")
		}
		if !res.Applied {
			return nil, &coupon.NotApplicableError{Code: res.Code, Reason: res.Reason}
		}
		o.CouponID = res.CouponID
		o.CouponCode = res.Code
		o.DiscountAmount = res.Discount
	}

	o.TotalAmount = money.NonNegative(o.Subtotal.Add(o.TaxAmount).Add(o.ShippingAmount).Sub(o.DiscountAmount))
	if err := o.checkTotals(); err != nil {
		return nil, err
	}
	return o, nil
}

// redeemCoupon records the coupon usage of an order settled without a
// charge. The coupon row is locked by Redeem, so the usage limit holds
// against concurrent checkouts and payments.
func (s *Service) redeemCoupon(ctx context.Context, o *Order) error {
	if err := s.coupons.Redeem(ctx, coupon.Redemption{
		CouponID:   o.CouponID,
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Discount:   o.DiscountAmount,
	}); err != nil {
		return errors.Wrap(err, "redeem coupon")
	}
	return events.Emit(ctx, s.events, events.CouponRedeemed, o.ID, redeemedPayload{
		CouponID: o.CouponID,
		Code:     o.CouponCode,
		OrderID:  o.ID,
		Discount: o.DiscountAmount,
	}, s.now())
}

// Get returns an order with its items.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.Get(ctx, id)
}

// GetByNumber returns an order by its human-readable number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*Order, error) {
	return s.orders.GetByNumber(ctx, number)
}

// Transition moves an order to a new status under a row lock and applies
// the inventory side effects of the move. An illegal move changes nothing
// and fails with a TransitionError.
func (s *Service) Transition(ctx context.Context, id string, to Status) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.Transition",
		trace.WithAttributes(attribute.String("order.status.to", string(to))))
	defer func() { endSpan(span, err) }()

	var o *Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := locked.Status
		// Refunded is reached by refunding money; a manual move there is only
		// accepted once the payments already are.
		if to == StatusRefunded && locked.PaymentStatus != PaymentRefunded {
			return &TransitionError{Field: "status", From: string(from), To: string(to)}
		}

		now := s.now()
		if err := locked.Transition(to, now); err != nil {
			return err
		}
		if op, ok := inventoryOpFor(from, to); ok {
			if err := s.inventory.Apply(ctx, op, locked.ID, LedgerLines(locked.Items)); err != nil {
				return errors.Wrapf(err, "%s stock", op)
			}
		}
		if to == StatusShipped && locked.FulfillmentStatus != FulfillmentFulfilled {
			if err := locked.SetFulfillment(FulfillmentFulfilled, now); err != nil {
				return err
			}
		}
		if err := s.orders.UpdateStatus(ctx, locked); err != nil {
			return errors.Wrap(err, "update status")
		}
		if err := events.Emit(ctx, s.events, events.OrderStatusChanged, locked.ID, statusPayload{
			OrderID: locked.ID,
			Number:  locked.Number,
			From:    from,
			To:      to,
		}, now); err != nil {
			return err
		}
		o = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(to))))
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("status", string(o.Status)),
	)
	return o, nil
}

// Cancel cancels an order that has not shipped yet. It does not refund
// payments; refunds are a separate explicit operation.
func (s *Service) Cancel(ctx context.Context, id string) (*Order, error) {
	return s.Transition(ctx, id, StatusCancelled)
}

// UpdateFulfillment moves the fulfillment status forward.
func (s *Service) UpdateFulfillment(ctx context.Context, id string, to FulfillmentStatus) (*Order, error) {
	var o *Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.Status == StatusCancelled || locked.Status == StatusRefunded {
			return &TransitionError{Field: "fulfillment status", From: string(locked.FulfillmentStatus), To: string(to)}
		}
		if err := locked.SetFulfillment(to, s.now()); err != nil {
			return err
		}
		if err := s.orders.UpdateStatus(ctx, locked); err != nil {
			return errors.Wrap(err, "update fulfillment")
		}
		o = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// inventoryOpFor returns the ledger operation a status move triggers.
func inventoryOpFor(from, to Status) (inventory.Op, bool) {
	switch {
	case from == StatusPending && to == StatusConfirmed:
		return inventory.OpCommit, true
	case from == StatusPending && to == StatusCancelled:
		return inventory.OpRelease, true
	case (from == StatusConfirmed || from == StatusProcessing) && to == StatusCancelled:
		return inventory.OpUncommit, true
	case to == StatusShipped:
		return inventory.OpShip, true
	case to == StatusRefunded:
		return RefundStockOp(from, false)
	}
	return "", false
}

// RefundStockOp returns the ledger operation for an order in status s that
// is being fully refunded. Stock that never left the warehouse always goes
// back to available. Shipped goods only do when returned is set.
func RefundStockOp(s Status, returned bool) (inventory.Op, bool) {
	switch s {
	case StatusPending:
		return inventory.OpRelease, true
	case StatusConfirmed, StatusProcessing:
		return inventory.OpUncommit, true
	case StatusShipped, StatusDelivered:
		if returned {
			return inventory.OpReturn, true
		}
	}
	return "", false
}

// LedgerLines converts order items to merged inventory lines.
func LedgerLines(items []Item) []inventory.Line {
	lines := make([]inventory.Line, len(items))
	for i, it := range items {
		lines[i] = inventory.Line{VariantID: it.VariantID, Quantity: it.Quantity}
	}
	return inventory.Merge(lines)
}

func mergeLines(items []LineRequest) ([]LineRequest, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("at least one item is required")
	}
	var (
		order []string
		qty   = make(map[string]int, len(items))
	)
	for _, it := range items {
		if it.VariantID == "" {
			return nil, apperr.Validation("variant id is required")
		}
		if err := cart.ValidateQuantity(it.VariantID, it.Quantity); err != nil {
			return nil, err
		}
		if _, ok := qty[it.VariantID]; !ok {
			order = append(order, it.VariantID)
		}
		qty[it.VariantID] += it.Quantity
	}
	out := make([]LineRequest, len(order))
	for i, id := range order {
		if err := cart.ValidateQuantity(id, qty[id]); err != nil {
			return nil, err
		}
		out[i] = LineRequest{VariantID: id, Quantity: qty[id]}
	}
	return out, nil
}

func validateCheckout(req CheckoutRequest) error {
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		return apperr.Validationf("invalid email %q", req.Email)
	}
	if err := validateAddress("billing", req.Billing); err != nil {
		return err
	}
	return validateAddress("shipping", req.Shipping)
}

func validateAddress(kind string, a Address) error {
	required := []struct {
		field, value string
	}{
		{"first_name", a.FirstName},
		{"last_name", a.LastName},
		{"address_line1", a.Line1},
		{"city", a.City},
		{"state", a.State},
		{"zip_code", a.ZipCode},
		{"country", a.Country},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperr.Validationf("%s %s is required", kind, r.field)
		}
	}
	return nil
}

type createdPayload struct {
	OrderID    string          `json:"order_id"`
	Number     string          `json:"number"`
	CustomerID string          `json:"customer_id,omitempty"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
	CouponCode string          `json:"coupon_code,omitempty"`
}

func newCreatedPayload(o *Order) createdPayload {
	return createdPayload{
		OrderID:    o.ID,
		Number:     o.Number,
		CustomerID: o.CustomerID,
		Total:      o.TotalAmount,
		Currency:   o.Currency,
		CouponCode: o.CouponCode,
	}
}

type redeemedPayload struct {
	CouponID string          `json:"coupon_id"`
	Code     string          `json:"code"`
	OrderID  string          `json:"order_id"`
	Discount decimal.Decimal `json:"discount"`
}

type statusPayload struct {
	OrderID string `json:"order_id"`
	Number  string `json:"number"`
	From    Status `json:"from"`
	To      Status `json:"to"`
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
