// Package payment records charges and refunds against orders and keeps the
// order payment status consistent with them.
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/picklepot-store/internal/apperr"
)

// ErrTransactionNotFound is returned when a payment transaction does not exist.
var ErrTransactionNotFound = errors.Wrap(apperr.ErrNotFound, "payment transaction")

// Method is the customer-facing payment method.
type Method string

// Payment methods.
const (
	MethodCreditCard Method = "credit_card"
	MethodDebitCard  Method = "debit_card"
	MethodPayPal     Method = "paypal"
	MethodApplePay   Method = "apple_pay"
	MethodGooglePay  Method = "google_pay"
)

// ParseMethod validates s as a payment method.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	switch m {
	case MethodCreditCard, MethodDebitCard, MethodPayPal, MethodApplePay, MethodGooglePay:
		return m, nil
	}
	return "", apperr.Validationf("unknown payment method %q", s)
}

// TransactionStatus is the lifecycle state of a charge.
type TransactionStatus string

// Transaction statuses.
const (
	TransactionPending           TransactionStatus = "pending"
	TransactionProcessing        TransactionStatus = "processing"
	TransactionSuccess           TransactionStatus = "success"
	TransactionFailed            TransactionStatus = "failed"
	TransactionCancelled         TransactionStatus = "cancelled"
	TransactionRefunded          TransactionStatus = "refunded"
	TransactionPartiallyRefunded TransactionStatus = "partially_refunded"
)

// Refundable reports whether refunds may still be taken from a transaction
// in status s.
func (s TransactionStatus) Refundable() bool {
	return s == TransactionSuccess || s == TransactionPartiallyRefunded
}

// Settled reports whether money was captured by a transaction in status s.
func (s TransactionStatus) Settled() bool {
	return s == TransactionSuccess || s == TransactionPartiallyRefunded || s == TransactionRefunded
}

// RefundStatus is the lifecycle state of a refund.
type RefundStatus string

// Refund statuses.
const (
	RefundPending    RefundStatus = "pending"
	RefundProcessing RefundStatus = "processing"
	RefundCompleted  RefundStatus = "completed"
	RefundFailed     RefundStatus = "failed"
)

// RefundReason explains why money is returned.
type RefundReason string

// Refund reasons.
const (
	ReasonRequestedByCustomer RefundReason = "requested_by_customer"
	ReasonOutOfStock          RefundReason = "out_of_stock"
	ReasonDamaged             RefundReason = "damaged"
	ReasonQualityIssue        RefundReason = "quality_issue"
	ReasonWrongItem           RefundReason = "wrong_item"
)

// ParseRefundReason validates s as a refund reason.
func ParseRefundReason(s string) (RefundReason, error) {
	r := RefundReason(s)
	switch r {
	case ReasonRequestedByCustomer, ReasonOutOfStock, ReasonDamaged, ReasonQualityIssue, ReasonWrongItem:
		return r, nil
	}
	return "", apperr.Validationf("unknown refund reason %q", s)
}

// Transaction is one charge attempt against an order. An order may have
// several when earlier attempts failed or the order is paid in parts.
type Transaction struct {
	ID            string
	OrderID       string
	Reference     string
	Method        Method
	Processor     string
	Amount        decimal.Decimal
	FeeAmount     decimal.Decimal
	Currency      string
	Status        TransactionStatus
	FailureReason string
	CardLastFour  string
	CardBrand     string
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Refund returns part or all of a transaction's amount.
type Refund struct {
	ID            string
	TransactionID string
	OrderID       string
	Amount        decimal.Decimal
	Reason        RefundReason
	Notes         string
	Status        RefundStatus
	FailureReason string
	Reference     string
	ProcessedBy   string
	ProcessedAt   *time.Time
	CreatedAt     time.Time
}

// RefundTotals sums the refunds taken from one transaction.
type RefundTotals struct {
	Completed decimal.Decimal
	// InFlight is the sum of refunds still processing. It counts against the
	// refundable amount so concurrent refunds cannot overshoot.
	InFlight decimal.Decimal
}

// Balance sums the money movements of one order.
type Balance struct {
	// Charged is the amount of settled transactions, before refunds.
	Charged decimal.Decimal
	// Pending is the amount of transactions still processing.
	Pending decimal.Decimal
	// Refunded is the amount of completed refunds.
	Refunded decimal.Decimal
}

// Repository persists transactions and refunds. Lock and write methods must
// run inside the caller's transaction.
type Repository interface {
	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	// LockTransaction loads the transaction and holds a row lock until the
	// surrounding transaction ends.
	LockTransaction(ctx context.Context, id string) (*Transaction, error)
	UpdateTransaction(ctx context.Context, t *Transaction) error
	ListTransactions(ctx context.Context, orderID string) ([]Transaction, error)
	CreateRefund(ctx context.Context, r *Refund) error
	UpdateRefund(ctx context.Context, r *Refund) error
	ListRefunds(ctx context.Context, transactionID string) ([]Refund, error)
	RefundTotals(ctx context.Context, transactionID string) (RefundTotals, error)
	OrderBalance(ctx context.Context, orderID string) (Balance, error)
}

// InvalidRefundError is returned when a refund cannot be taken from a transaction.
type InvalidRefundError struct {
	TransactionID string
	Reason        string
}

func (e *InvalidRefundError) Error() string {
	return fmt.Sprintf("refund on transaction %s: %s", e.TransactionID, e.Reason)
}

func (e *InvalidRefundError) Unwrap() error { return apperr.ErrInvalidRefund }

// Error is returned when a charge lands in the failed state. The failed
// transaction stays recorded for audit.
type Error struct {
	TransactionID string
	Reason        string
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment %s failed: %s", e.TransactionID, e.Reason)
}

func (e *Error) Unwrap() error { return apperr.ErrPaymentFailed }

// RefundError is returned when a refund lands in the failed state.
type RefundError struct {
	RefundID string
	Reason   string
}

func (e *RefundError) Error() string {
	return fmt.Sprintf("refund %s failed: %s", e.RefundID, e.Reason)
}

func (e *RefundError) Unwrap() error { return apperr.ErrRefundFailed }
