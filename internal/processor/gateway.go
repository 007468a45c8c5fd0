package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/picklepot-store/internal/domain/payment"
)

const gatewayName = "gateway"

var _ payment.Processor = (*Gateway)(nil)

// Gateway talks JSON over HTTP to a REST payment gateway.
//
//	POST {base}/v1/charges  {"amount","currency","method","order_id"}
//	POST {base}/v1/refunds  {"charge","amount"}
//
// Every request carries the idempotency key. A 402 or 422 response is a
// decline; any other non-2xx response is a transport failure.
type Gateway struct {
	base   string
	key    string
	client *http.Client
}

// GatewayOptions configures a Gateway.
type GatewayOptions struct {
	BaseURL        string
	APIKey         string
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// NewGateway creates a Gateway client. Request deadlines come from the
// caller's context.
func NewGateway(opts GatewayOptions) *Gateway {
	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}
	return &Gateway{
		base: strings.TrimRight(opts.BaseURL, "/"),
		key:  opts.APIKey,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport, otelOpts...),
		},
	}
}

// Name implements payment.Processor.
func (g *Gateway) Name() string { return gatewayName }

type chargeBody struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Method   string          `json:"method"`
	OrderID  string          `json:"order_id"`
}

type chargeReply struct {
	ID    string          `json:"id"`
	Fee   decimal.Decimal `json:"fee"`
	Last4 string          `json:"card_last4"`
	Brand string          `json:"card_brand"`
}

type refundBody struct {
	Charge string          `json:"charge"`
	Amount decimal.Decimal `json:"amount"`
}

type refundReply struct {
	ID string `json:"id"`
}

// Charge implements payment.Processor.
func (g *Gateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	var reply chargeReply
	err := g.post(ctx, "/v1/charges", req.IdempotencyKey, chargeBody{
		Amount:   req.Amount,
		Currency: req.Currency,
		Method:   string(req.Method),
		OrderID:  req.OrderID,
	}, &reply)
	if err != nil {
		return nil, errors.Wrap(err, "charge")
	}
	return &payment.ChargeResult{
		Reference:    reply.ID,
		Fee:          reply.Fee,
		CardLastFour: reply.Last4,
		CardBrand:    reply.Brand,
	}, nil
}

// Refund implements payment.Processor.
func (g *Gateway) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	var reply refundReply
	err := g.post(ctx, "/v1/refunds", req.IdempotencyKey, refundBody{
		Charge: req.Reference,
		Amount: req.Amount,
	}, &reply)
	if err != nil {
		return nil, errors.Wrap(err, "refund")
	}
	return &payment.RefundResult{Reference: reply.ID}, nil
}

type errorReply struct {
	Message string `json:"message"`
}

func (g *Gateway) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+path, bytes.NewReader(buf))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.key)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired, resp.StatusCode == http.StatusUnprocessableEntity:
		var e errorReply
		_ = json.Unmarshal(data, &e)
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return &payment.DeclinedError{Reason: e.Message}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return errors.Errorf("gateway returned %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
