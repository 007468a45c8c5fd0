package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xenking/picklepot-store/internal/domain/cart"
	"github.com/xenking/picklepot-store/internal/domain/coupon"
)

// GetCart returns a stored cart with current prices.
func (h *Handler) GetCart(c *gin.Context) {
	v, err := h.carts.Get(c.Request.Context(), c.Param("cartId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, fromCart(v))
}

// SetCartItem sets the quantity of one variant in a cart.
func (h *Handler) SetCartItem(c *gin.Context) {
	var req setItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	v, err := h.carts.SetItem(c.Request.Context(), c.Param("cartId"), c.Param("variantId"), req.Quantity)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, fromCart(v))
}

// RemoveCartItem drops one variant from a cart.
func (h *Handler) RemoveCartItem(c *gin.Context) {
	v, err := h.carts.RemoveItem(c.Request.Context(), c.Param("cartId"), c.Param("variantId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, fromCart(v))
}

// ClearCart empties a cart.
func (h *Handler) ClearCart(c *gin.Context) {
	if err := h.carts.Clear(c.Request.Context(), c.Param("cartId")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CartTotals prices the submitted lines without storing anything.
func (h *Handler) CartTotals(c *gin.Context) {
	var req totalsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	items := make([]cart.Item, len(req.Items))
	for i, l := range req.Items {
		items[i] = cart.Item{VariantID: l.VariantID, Quantity: l.Quantity}
	}
	v, err := h.carts.Estimate(c.Request.Context(), items)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, fromCart(v))
}

// ValidateCoupon evaluates a code against an order total. A coupon that
// exists but does not apply is a 200 with applied=false and a reason.
func (h *Handler) ValidateCoupon(c *gin.Context) {
	var req validateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	res, err := h.coupons.Evaluate(c.Request.Context(), coupon.EvaluateRequest{
		Code:       req.Code,
		OrderTotal: req.OrderTotal,
		Shipping:   req.Shipping,
		CustomerID: customerID(c),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, fromCoupon(req.Code, res))
}
