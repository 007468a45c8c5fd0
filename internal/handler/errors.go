package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/picklepot-store/internal/apperr"
	"github.com/xenking/picklepot-store/internal/domain/auth"
	"github.com/xenking/picklepot-store/internal/domain/inventory"
	"github.com/xenking/picklepot-store/internal/domain/payment"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

type errorClass struct {
	status    int
	code      string
	retryable bool
}

var errorClasses = []struct {
	kind  error
	class errorClass
}{
	{auth.ErrUnauthorized, errorClass{http.StatusUnauthorized, "unauthorized", false}},
	{auth.ErrForbidden, errorClass{http.StatusForbidden, "forbidden", false}},
	{apperr.ErrValidation, errorClass{http.StatusUnprocessableEntity, "validation_failed", false}},
	{apperr.ErrNotFound, errorClass{http.StatusNotFound, "not_found", false}},
	{apperr.ErrInvalidStateTransition, errorClass{http.StatusConflict, "invalid_state_transition", false}},
	{apperr.ErrOutOfStock, errorClass{http.StatusConflict, "out_of_stock", false}},
	{apperr.ErrConcurrencyConflict, errorClass{http.StatusConflict, "concurrency_conflict", true}},
	{apperr.ErrInvalidRefund, errorClass{http.StatusUnprocessableEntity, "invalid_refund", false}},
	{apperr.ErrPaymentFailed, errorClass{http.StatusPaymentRequired, "payment_failed", false}},
	{apperr.ErrRefundFailed, errorClass{http.StatusBadGateway, "refund_failed", false}},
}

func classify(err error) errorClass {
	for _, c := range errorClasses {
		if errors.Is(err, c.kind) {
			return c.class
		}
	}
	return errorClass{http.StatusInternalServerError, "internal", false}
}

func details(err error) map[string]string {
	var (
		stockErr  *inventory.InsufficientStockError
		payErr    *payment.Error
		refundErr *payment.RefundError
		invalid   *payment.InvalidRefundError
	)
	switch {
	case errors.As(err, &stockErr):
		return map[string]string{"variant_id": stockErr.VariantID}
	case errors.As(err, &payErr):
		return map[string]string{"transaction_id": payErr.TransactionID, "reason": payErr.Reason}
	case errors.As(err, &refundErr):
		return map[string]string{"refund_id": refundErr.RefundID, "reason": refundErr.Reason}
	case errors.As(err, &invalid):
		return map[string]string{"transaction_id": invalid.TransactionID, "reason": invalid.Reason}
	}
	return nil
}

// abortWithError writes the classified error and stops the chain.
func abortWithError(c *gin.Context, err error) {
	class := classify(err)
	resp := ErrorResponse{
		Code:      class.code,
		Message:   err.Error(),
		Retryable: class.retryable,
		Details:   details(err),
	}
	if class.status == http.StatusInternalServerError {
		zctx.From(c.Request.Context()).Error("Request failed", zap.Error(err))
		resp.Message = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(class.status, resp)
}

// abortBadRequest rejects a body or parameter that could not be decoded.
func abortBadRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Code:    "bad_request",
		Message: err.Error(),
	})
}
