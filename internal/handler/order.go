package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xenking/picklepot-store/internal/domain/order"
)

// Checkout places an order. Lines come from the body, or from the stored
// cart named by cart_id when the body has none.
func (h *Handler) Checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	lines := make([]order.LineRequest, 0, len(req.Items))
	for _, l := range req.Items {
		lines = append(lines, order.LineRequest{VariantID: l.VariantID, Quantity: l.Quantity})
	}
	if len(lines) == 0 && req.CartID != "" {
		v, err := h.carts.Get(ctx, req.CartID)
		if err != nil {
			abortWithError(c, err)
			return
		}
		for _, it := range v.Items {
			lines = append(lines, order.LineRequest{VariantID: it.Variant.ID, Quantity: it.Quantity})
		}
	}

	o, err := h.orders.Checkout(ctx, order.CheckoutRequest{
		CartID:                req.CartID,
		CustomerID:            customerID(c),
		Email:                 req.Email,
		Phone:                 req.Phone,
		Billing:               req.Billing,
		Shipping:              req.Shipping,
		DeliveryInstructions:  req.DeliveryInstructions,
		PreferredDeliveryDate: req.PreferredDeliveryDate,
		Items:                 lines,
		CouponCode:            req.CouponCode,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fromOrder(o))
}

// GetOrder returns an order by id.
func (h *Handler) GetOrder(c *gin.Context) {
	o, ok := h.ownedOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, fromOrder(o))
}

// GetOrderByNumber returns an order by its customer-facing number.
func (h *Handler) GetOrderByNumber(c *gin.Context) {
	o, err := h.orders.GetByNumber(c.Request.Context(), c.Param("number"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !visibleTo(o, customerID(c)) {
		abortWithError(c, order.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, fromOrder(o))
}

// CancelOrder cancels an order on behalf of its customer.
func (h *Handler) CancelOrder(c *gin.Context) {
	if _, ok := h.ownedOrder(c); !ok {
		return
	}
	o, err := h.orders.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, fromOrder(o))
}

// TransitionOrder moves an order to the requested status.
func (h *Handler) TransitionOrder(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	to, err := order.ParseStatus(req.Status)
	if err != nil {
		abortWithError(c, err)
		return
	}
	o, err := h.orders.Transition(c.Request.Context(), c.Param("id"), to)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, fromOrder(o))
}

// UpdateFulfillment advances the fulfillment status.
func (h *Handler) UpdateFulfillment(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	to, err := order.ParseFulfillmentStatus(req.Status)
	if err != nil {
		abortWithError(c, err)
		return
	}
	o, err := h.orders.UpdateFulfillment(c.Request.Context(), c.Param("id"), to)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, fromOrder(o))
}

// ownedOrder loads the :id order and aborts unless the caller may see it.
func (h *Handler) ownedOrder(c *gin.Context) (*order.Order, bool) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	if !visibleTo(o, customerID(c)) {
		abortWithError(c, order.ErrNotFound)
		return nil, false
	}
	return o, true
}

// visibleTo hides other customers' orders. Guest orders and requests
// without a customer are not filtered.
func visibleTo(o *order.Order, customer string) bool {
	return customer == "" || o.CustomerID == "" || o.CustomerID == customer
}
