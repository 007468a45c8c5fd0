package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListProducts returns the active catalog.
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.catalog.List(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = fromProduct(p)
	}
	c.JSON(http.StatusOK, resp)
}

// GetProduct returns one product with its variants.
func (h *Handler) GetProduct(c *gin.Context) {
	p, err := h.catalog.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, fromProduct(*p))
}
