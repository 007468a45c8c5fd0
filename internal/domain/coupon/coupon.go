package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/picklepot-store/internal/apperr"
)

// Kind enumerates the supported coupon discount strategies.
type Kind string

const (
	// KindFixedAmount takes a fixed amount off the order.
	KindFixedAmount Kind = "fixed_amount"
	// KindPercentage takes a percentage of the order total off.
	KindPercentage Kind = "percentage"
	// KindFreeShipping waives the shipping leg of the order.
	KindFreeShipping Kind = "free_shipping"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFixedAmount, KindPercentage, KindFreeShipping:
		return true
	default:
		return false
	}
}

// Reason explains why a coupon was not applied.
type Reason string

// Rejection reasons, in the order they are checked.
const (
	ReasonInactive             Reason = "INACTIVE"
	ReasonNotYetActive         Reason = "NOT_YET_ACTIVE"
	ReasonExpired              Reason = "EXPIRED"
	ReasonLimitReached         Reason = "LIMIT_REACHED"
	ReasonCustomerLimitReached Reason = "CUSTOMER_LIMIT_REACHED"
	ReasonBelowMinimum         Reason = "BELOW_MINIMUM"
)

var (
	// ErrNotFound is returned when no coupon matches a code.
	ErrNotFound = errors.Wrap(apperr.ErrNotFound, "coupon")
	// ErrUnavailable is returned by redemption when the coupon can no
	// longer be redeemed, typically because a concurrent order took the
	// last usage slot.
	ErrUnavailable = errors.Wrap(apperr.ErrValidation, "coupon no longer available")
)

// Coupon defines a discount and the rules under which it may be applied.
type Coupon struct {
	ID                    string
	Code                  string
	Name                  string
	Description           string
	Kind                  Kind
	Value                 decimal.Decimal
	MinOrderAmount        decimal.Decimal
	MaxDiscountAmount     decimal.NullDecimal
	UsageLimit            *int
	UsageLimitPerCustomer int
	UsageCount            int
	IsActive              bool
	StartsAt              *time.Time
	ExpiresAt             *time.Time
}

// Usage records a single redemption of a coupon by an order.
type Usage struct {
	CouponID       string
	OrderID        string
	CustomerID     string
	DiscountAmount decimal.Decimal
	UsedAt         time.Time
}

// NotApplicableError is returned when a checkout requests a coupon that
// fails evaluation.
type NotApplicableError struct {
	Code   string
	Reason Reason
}

func (e *NotApplicableError) Error() string {
	return fmt.Sprintf("coupon %s not applicable: %s", e.Code, e.Reason)
}

func (e *NotApplicableError) Unwrap() error { return apperr.ErrValidation }

// Repository provides lookup and mutation of coupons. Mutations must run
// inside the caller's transaction.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// LockByID loads the coupon and holds a row lock until the surrounding
	// transaction ends.
	LockByID(ctx context.Context, id string) (*Coupon, error)
	CountCustomerUsages(ctx context.Context, couponID, customerID string) (int, error)
	HasUsage(ctx context.Context, couponID, orderID string) (bool, error)
	// InsertUsage records u and increments the coupon usage counter. It
	// returns ErrUnavailable if the counter is already at its limit.
	InsertUsage(ctx context.Context, u Usage) error
}
