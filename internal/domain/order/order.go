package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/picklepot-store/internal/apperr"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.Wrap(apperr.ErrNotFound, "order")

// Order is a placed customer order. Items, addresses and amounts are
// snapshots taken at checkout; only the status fields and their stamps
// change afterwards.
type Order struct {
	ID                    string
	Number                string
	CustomerID            string
	Email                 string
	Phone                 string
	Status                Status
	PaymentStatus         PaymentStatus
	FulfillmentStatus     FulfillmentStatus
	Billing               Address
	Shipping              Address
	DeliveryInstructions  string
	PreferredDeliveryDate *time.Time
	Subtotal              decimal.Decimal
	TaxAmount             decimal.Decimal
	ShippingAmount        decimal.Decimal
	DiscountAmount        decimal.Decimal
	TotalAmount           decimal.Decimal
	Currency              string
	TaxRate               decimal.Decimal
	CouponID              string
	CouponCode            string
	Items                 []Item
	ConfirmedAt           *time.Time
	ShippedAt             *time.Time
	DeliveredAt           *time.Time
	CancelledAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Address is a billing or shipping address snapshot.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Line1     string `json:"address_line1"`
	Line2     string `json:"address_line2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zip_code"`
	Country   string `json:"country"`
	Phone     string `json:"phone,omitempty"`
}

// Item is an immutable snapshot of a purchased variant.
type Item struct {
	ID          string
	VariantID   string
	ProductName string
	SKU         string
	VariantName string
	Quantity    int
	UnitPrice   decimal.Decimal
	TotalPrice  decimal.Decimal
	Weight      decimal.NullDecimal
	ImageURL    string
}

// Repository defines persistence operations for orders. Methods that lock
// or write must run inside the caller's transaction.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	// GetForUpdate loads the order and holds a row lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	// UpdateStatus persists the status fields and their stamps.
	UpdateStatus(ctx context.Context, o *Order) error
}

// Transactor runs fn inside a database transaction carried by ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
