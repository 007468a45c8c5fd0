// Package handler exposes the store over a JSON HTTP API.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xenking/picklepot-store/internal/domain/auth"
	"github.com/xenking/picklepot-store/internal/domain/cart"
	"github.com/xenking/picklepot-store/internal/domain/coupon"
	"github.com/xenking/picklepot-store/internal/domain/order"
	"github.com/xenking/picklepot-store/internal/domain/payment"
	"github.com/xenking/picklepot-store/internal/domain/product"
)

// Catalog serves product reads.
type Catalog interface {
	List(ctx context.Context) ([]product.Product, error)
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// Carts manages stored carts and ad-hoc estimates.
type Carts interface {
	Get(ctx context.Context, cartID string) (*cart.View, error)
	SetItem(ctx context.Context, cartID, variantID string, qty int) (*cart.View, error)
	RemoveItem(ctx context.Context, cartID, variantID string) (*cart.View, error)
	Clear(ctx context.Context, cartID string) error
	Estimate(ctx context.Context, items []cart.Item) (*cart.View, error)
}

// Coupons evaluates coupon codes.
type Coupons interface {
	Evaluate(ctx context.Context, req coupon.EvaluateRequest) (*coupon.Result, error)
}

// Orders places orders and drives their lifecycle.
type Orders interface {
	Checkout(ctx context.Context, req order.CheckoutRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	GetByNumber(ctx context.Context, number string) (*order.Order, error)
	Transition(ctx context.Context, id string, to order.Status) (*order.Order, error)
	Cancel(ctx context.Context, id string) (*order.Order, error)
	UpdateFulfillment(ctx context.Context, id string, to order.FulfillmentStatus) (*order.Order, error)
}

// Payments charges orders and refunds transactions.
type Payments interface {
	ProcessPayment(ctx context.Context, in payment.ChargeInput) (*payment.Transaction, error)
	ListTransactions(ctx context.Context, orderID string) ([]payment.Transaction, error)
	Refund(ctx context.Context, in payment.RefundInput) (*payment.Refund, error)
	ListRefunds(ctx context.Context, transactionID string) ([]payment.Refund, error)
}

// Authenticator validates operator API keys.
type Authenticator interface {
	Authenticate(ctx context.Context, raw, scope string) (*auth.Key, error)
}

// Handler serves the store API.
type Handler struct {
	catalog  Catalog
	carts    Carts
	coupons  Coupons
	orders   Orders
	payments Payments
	auth     Authenticator
}

// NewHandler creates a Handler.
func NewHandler(
	catalog Catalog,
	carts Carts,
	coupons Coupons,
	orders Orders,
	payments Payments,
	authenticator Authenticator,
) *Handler {
	return &Handler{
		catalog:  catalog,
		carts:    carts,
		coupons:  coupons,
		orders:   orders,
		payments: payments,
		auth:     authenticator,
	}
}

type route struct {
	Method  string
	Path    string
	Handler gin.HandlerFunc
	Mw      []gin.HandlerFunc
}

// Register mounts the API routes on g.
//
// Customer routes trust X-Customer-ID as set by the upstream auth layer.
// Without it the caller is treated as a guest and order reads and cancels
// are scoped by order id alone, so the header must be stripped from client
// traffic and set at the edge.
func (h *Handler) Register(g gin.IRouter) {
	admin := RequireScope(h.auth, auth.ScopeOrdersAdmin)
	refunds := RequireScope(h.auth, auth.ScopePaymentsRefund)

	addRoutes(g, []route{
		{Method: http.MethodGet, Path: "/products", Handler: h.ListProducts},
		{Method: http.MethodGet, Path: "/products/:id", Handler: h.GetProduct},

		{Method: http.MethodPost, Path: "/cart/totals", Handler: h.CartTotals},
		{Method: http.MethodGet, Path: "/cart/:cartId", Handler: h.GetCart},
		{Method: http.MethodPut, Path: "/cart/:cartId/items/:variantId", Handler: h.SetCartItem},
		{Method: http.MethodDelete, Path: "/cart/:cartId/items/:variantId", Handler: h.RemoveCartItem},
		{Method: http.MethodDelete, Path: "/cart/:cartId", Handler: h.ClearCart},

		{Method: http.MethodPost, Path: "/coupons/validate", Handler: h.ValidateCoupon},

		{Method: http.MethodPost, Path: "/orders", Handler: h.Checkout},
		{Method: http.MethodGet, Path: "/orders/by-number/:number", Handler: h.GetOrderByNumber},
		{Method: http.MethodGet, Path: "/orders/:id", Handler: h.GetOrder},
		{Method: http.MethodPost, Path: "/orders/:id/cancel", Handler: h.CancelOrder},
		{Method: http.MethodPost, Path: "/orders/:id/status", Handler: h.TransitionOrder, Mw: []gin.HandlerFunc{admin}},
		{Method: http.MethodPost, Path: "/orders/:id/fulfillment", Handler: h.UpdateFulfillment, Mw: []gin.HandlerFunc{admin}},

		{Method: http.MethodPost, Path: "/orders/:id/payments", Handler: h.ProcessPayment},
		{Method: http.MethodGet, Path: "/orders/:id/payments", Handler: h.ListPayments},
		{Method: http.MethodPost, Path: "/payments/:transactionId/refunds", Handler: h.Refund, Mw: []gin.HandlerFunc{refunds}},
		{Method: http.MethodGet, Path: "/payments/:transactionId/refunds", Handler: h.ListRefunds, Mw: []gin.HandlerFunc{refunds}},
	})
}

func addRoutes(g gin.IRouter, rs []route) {
	for _, r := range rs {
		handlers := append(append([]gin.HandlerFunc{}, r.Mw...), r.Handler)
		g.Handle(r.Method, r.Path, handlers...)
	}
}
