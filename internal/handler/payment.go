package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xenking/picklepot-store/internal/domain/payment"
)

// ProcessPayment charges an order.
func (h *Handler) ProcessPayment(c *gin.Context) {
	var req chargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	if _, ok := h.ownedOrder(c); !ok {
		return
	}
	t, err := h.payments.ProcessPayment(c.Request.Context(), payment.ChargeInput{
		OrderID: c.Param("id"),
		Amount:  req.Amount,
		Method:  payment.Method(req.Method),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fromTransaction(t))
}

// ListPayments returns the transactions of an order.
func (h *Handler) ListPayments(c *gin.Context) {
	if _, ok := h.ownedOrder(c); !ok {
		return
	}
	txs, err := h.payments.ListTransactions(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := make([]transactionResponse, len(txs))
	for i := range txs {
		resp[i] = fromTransaction(&txs[i])
	}
	c.JSON(http.StatusOK, resp)
}

// Refund returns money from a settled transaction.
func (h *Handler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	reason, err := payment.ParseRefundReason(req.Reason)
	if err != nil {
		abortWithError(c, err)
		return
	}
	in := payment.RefundInput{
		TransactionID: c.Param("transactionId"),
		Amount:        req.Amount,
		Reason:        reason,
		Notes:         req.Notes,
		Restock:       req.Restock,
	}
	if k := apiKey(c); k != nil {
		in.ProcessedBy = k.Name
	}
	r, err := h.payments.Refund(c.Request.Context(), in)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, fromRefund(r))
}

// ListRefunds returns the refunds of a transaction.
func (h *Handler) ListRefunds(c *gin.Context) {
	refunds, err := h.payments.ListRefunds(c.Request.Context(), c.Param("transactionId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := make([]refundResponse, len(refunds))
	for i := range refunds {
		resp[i] = fromRefund(&refunds[i])
	}
	c.JSON(http.StatusOK, resp)
}
