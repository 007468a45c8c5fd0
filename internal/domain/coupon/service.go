package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/picklepot-store/internal/apperr"
	"github.com/xenking/picklepot-store/internal/domain/money"
)

// EvaluateRequest asks whether a coupon code applies to an order total.
type EvaluateRequest struct {
	Code       string
	OrderTotal decimal.Decimal
	Shipping   decimal.Decimal
	CustomerID string
}

// Redemption is the request to record a coupon against a paid order.
type Redemption struct {
	CouponID   string
	OrderID    string
	CustomerID string
	Discount   decimal.Decimal
}

// Service evaluates and redeems coupons against the repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a coupon Service backed by the given Repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Evaluate looks up the coupon for req.Code and evaluates it. It never
// mutates state, so repeated calls without an intervening redemption agree.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest) (*Result, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, apperr.Validation("coupon code is required")
	}
	if err := money.Validate(req.OrderTotal); err != nil {
		return nil, errors.Wrap(err, "order total")
	}

	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "lookup coupon")
	}

	in := Input{
		OrderTotal: req.OrderTotal,
		Shipping:   req.Shipping,
		Now:        s.now(),
	}
	if req.CustomerID != "" {
		n, err := s.repo.CountCustomerUsages(ctx, c.ID, req.CustomerID)
		if err != nil {
			return nil, errors.Wrap(err, "count customer usages")
		}
		in.CustomerKnown = true
		in.CustomerRedemptions = n
	}

	res := Evaluate(c, in)
	return &res, nil
}

// Redeem records the coupon usage for an order and increments the usage
// counter. It must run inside a transaction: the coupon row is locked and
// the counters are re-read under the lock before anything is written.
// Redeeming the same order twice is a no-op.
func (s *Service) Redeem(ctx context.Context, r Redemption) error {
	c, err := s.repo.LockByID(ctx, r.CouponID)
	if err != nil {
		return errors.Wrap(err, "lock coupon")
	}

	done, err := s.repo.HasUsage(ctx, c.ID, r.OrderID)
	if err != nil {
		return errors.Wrap(err, "check usage")
	}
	if done {
		return nil
	}

	customerKnown := r.CustomerID != ""
	var n int
	if customerKnown {
		if n, err = s.repo.CountCustomerUsages(ctx, c.ID, r.CustomerID); err != nil {
			return errors.Wrap(err, "count customer usages")
		}
	}
	if reason := c.redeemable(customerKnown, n); reason != "" {
		return errors.Wrap(ErrUnavailable, string(reason))
	}

	if err := s.repo.InsertUsage(ctx, Usage{
		CouponID:       c.ID,
		OrderID:        r.OrderID,
		CustomerID:     r.CustomerID,
		DiscountAmount: r.Discount,
		UsedAt:         s.now(),
	}); err != nil {
		return errors.Wrap(err, "insert usage")
	}

	zctx.From(ctx).Info("Coupon redeemed",
		zap.String("code", c.Code),
		zap.String("order_id", r.OrderID),
		zap.Int("usage_count", c.UsageCount+1),
	)
	return nil
}

// CheckAvailable reports ErrUnavailable when the coupon has no usage left
// for the customer. It takes no locks and is only a pre-check: Redeem
// re-validates under the row lock.
func (s *Service) CheckAvailable(ctx context.Context, code, customerID string) error {
	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return errors.Wrap(err, "lookup coupon")
	}
	var n int
	if customerID != "" {
		if n, err = s.repo.CountCustomerUsages(ctx, c.ID, customerID); err != nil {
			return errors.Wrap(err, "count customer usages")
		}
	}
	if reason := c.redeemable(customerID != "", n); reason != "" {
		return errors.Wrap(ErrUnavailable, string(reason))
	}
	return nil
}
