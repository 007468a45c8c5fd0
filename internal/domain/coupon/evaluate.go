package coupon

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/picklepot-store/internal/domain/money"
)

// Input is the order context a coupon is evaluated against.
type Input struct {
	// OrderTotal is the estimated order total the discount is taken from.
	OrderTotal decimal.Decimal
	// Shipping is the shipping leg of OrderTotal, waived by free_shipping.
	Shipping decimal.Decimal
	// CustomerKnown is false for guest checkouts, which skip the
	// per-customer limit.
	CustomerKnown bool
	// CustomerRedemptions is how many times the customer already redeemed
	// the coupon.
	CustomerRedemptions int
	Now                 time.Time
}

// Result is the outcome of evaluating a coupon.
type Result struct {
	CouponID string
	Code     string
	Kind     Kind
	Applied  bool
	Reason   Reason
	Discount decimal.Decimal
	NewTotal decimal.Decimal
}

// Evaluate checks c against in and computes the clamped discount. It is pure:
// identical inputs always yield identical results.
func Evaluate(c *Coupon, in Input) Result {
	res := Result{
		CouponID: c.ID,
		Code:     c.Code,
		Kind:     c.Kind,
		Discount: decimal.Zero,
		NewTotal: in.OrderTotal,
	}
	if reason := c.check(in); reason != "" {
		res.Reason = reason
		return res
	}

	var discount decimal.Decimal
	switch c.Kind {
	case KindFixedAmount:
		discount = c.Value
	case KindPercentage:
		discount = money.Percent(in.OrderTotal, c.Value)
	case KindFreeShipping:
		discount = in.Shipping
	}

	if c.MaxDiscountAmount.Valid {
		discount = money.Min(discount, c.MaxDiscountAmount.Decimal)
	}
	discount = money.NonNegative(money.Min(discount, in.OrderTotal))

	res.Applied = true
	res.Discount = money.Round(discount)
	res.NewTotal = in.OrderTotal.Sub(res.Discount)
	return res
}

func (c *Coupon) check(in Input) Reason {
	switch {
	case !c.IsActive:
		return ReasonInactive
	case c.StartsAt != nil && in.Now.Before(*c.StartsAt):
		return ReasonNotYetActive
	case c.ExpiresAt != nil && in.Now.After(*c.ExpiresAt):
		return ReasonExpired
	}
	if reason := c.redeemable(in.CustomerKnown, in.CustomerRedemptions); reason != "" {
		return reason
	}
	if in.OrderTotal.LessThan(c.MinOrderAmount) {
		return ReasonBelowMinimum
	}
	return ""
}

// redeemable holds the counter checks shared by evaluation and redemption.
func (c *Coupon) redeemable(customerKnown bool, customerRedemptions int) Reason {
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return ReasonLimitReached
	}
	if customerKnown && c.UsageLimitPerCustomer > 0 && customerRedemptions >= c.UsageLimitPerCustomer {
		return ReasonCustomerLimitReached
	}
	return ""
}
