package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/picklepot-store/internal/domain/cart"
	"github.com/xenking/picklepot-store/internal/domain/coupon"
	"github.com/xenking/picklepot-store/internal/domain/order"
	"github.com/xenking/picklepot-store/internal/domain/payment"
	"github.com/xenking/picklepot-store/internal/domain/product"
)

type lineRequest struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type setItemRequest struct {
	Quantity int `json:"quantity"`
}

type totalsRequest struct {
	Items []lineRequest `json:"items"`
}

type validateCouponRequest struct {
	Code       string          `json:"code"`
	OrderTotal decimal.Decimal `json:"order_total"`
	Shipping   decimal.Decimal `json:"shipping"`
}

type checkoutRequest struct {
	CartID                string        `json:"cart_id"`
	Email                 string        `json:"email"`
	Phone                 string        `json:"phone"`
	Billing               order.Address `json:"billing_address"`
	Shipping              order.Address `json:"shipping_address"`
	DeliveryInstructions  string        `json:"delivery_instructions"`
	PreferredDeliveryDate *time.Time    `json:"preferred_delivery_date"`
	Items                 []lineRequest `json:"items"`
	CouponCode            string        `json:"coupon_code"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type chargeRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
}

type refundRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason"`
	Notes   string          `json:"notes"`
	Restock bool            `json:"restock"`
}

type variantResponse struct {
	ID        string           `json:"id"`
	ProductID string           `json:"product_id"`
	SKU       string           `json:"sku"`
	Name      string           `json:"name"`
	Price     decimal.Decimal  `json:"price"`
	Weight    *decimal.Decimal `json:"weight,omitempty"`
	ImageURL  string           `json:"image_url,omitempty"`
}

type productResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	SKU         string            `json:"sku"`
	Status      string            `json:"status"`
	Variants    []variantResponse `json:"variants"`
}

type cartItemResponse struct {
	VariantID   string          `json:"variant_id"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name"`
	SKU         string          `json:"sku"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type cartResponse struct {
	CartID    string             `json:"cart_id,omitempty"`
	Items     []cartItemResponse `json:"items"`
	Subtotal  decimal.Decimal    `json:"subtotal"`
	Tax       decimal.Decimal    `json:"tax"`
	Shipping  decimal.Decimal    `json:"shipping"`
	Total     decimal.Decimal    `json:"total"`
	ItemCount int                `json:"item_count"`
	Currency  string             `json:"currency"`
}

type couponResponse struct {
	Code     string          `json:"code"`
	Type     string          `json:"type,omitempty"`
	Applied  bool            `json:"applied"`
	Reason   string          `json:"reason,omitempty"`
	Discount decimal.Decimal `json:"discount"`
	NewTotal decimal.Decimal `json:"new_total"`
}

type orderItemResponse struct {
	VariantID   string          `json:"variant_id"`
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku"`
	VariantName string          `json:"variant_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

type orderResponse struct {
	ID                    string              `json:"id"`
	Number                string              `json:"order_number"`
	CustomerID            string              `json:"customer_id,omitempty"`
	Email                 string              `json:"email"`
	Status                string              `json:"status"`
	PaymentStatus         string              `json:"payment_status"`
	FulfillmentStatus     string              `json:"fulfillment_status"`
	Billing               order.Address       `json:"billing_address"`
	Shipping              order.Address       `json:"shipping_address"`
	DeliveryInstructions  string              `json:"delivery_instructions,omitempty"`
	PreferredDeliveryDate *time.Time          `json:"preferred_delivery_date,omitempty"`
	Subtotal              decimal.Decimal     `json:"subtotal"`
	TaxAmount             decimal.Decimal     `json:"tax_amount"`
	ShippingAmount        decimal.Decimal     `json:"shipping_amount"`
	DiscountAmount        decimal.Decimal     `json:"discount_amount"`
	TotalAmount           decimal.Decimal     `json:"total_amount"`
	Currency              string              `json:"currency"`
	CouponCode            string              `json:"coupon_code,omitempty"`
	Items                 []orderItemResponse `json:"items"`
	ConfirmedAt           *time.Time          `json:"confirmed_at,omitempty"`
	ShippedAt             *time.Time          `json:"shipped_at,omitempty"`
	DeliveredAt           *time.Time          `json:"delivered_at,omitempty"`
	CancelledAt           *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
}

type transactionResponse struct {
	ID            string          `json:"id"`
	OrderID       string          `json:"order_id"`
	Reference     string          `json:"reference,omitempty"`
	Method        string          `json:"method"`
	Processor     string          `json:"processor"`
	Amount        decimal.Decimal `json:"amount"`
	FeeAmount     decimal.Decimal `json:"fee_amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CardLastFour  string          `json:"card_last_four,omitempty"`
	CardBrand     string          `json:"card_brand,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type refundResponse struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
	Notes         string          `json:"notes,omitempty"`
	Status        string          `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	ProcessedBy   string          `json:"processed_by,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func fromVariant(v product.Variant) variantResponse {
	r := variantResponse{
		ID:        v.ID,
		ProductID: v.ProductID,
		SKU:       v.SKU,
		Name:      v.Name,
		Price:     v.Price,
		ImageURL:  v.ImageURL,
	}
	if v.Weight.Valid {
		w := v.Weight.Decimal
		r.Weight = &w
	}
	return r
}

func fromProduct(p product.Product) productResponse {
	variants := make([]variantResponse, len(p.Variants))
	for i, v := range p.Variants {
		variants[i] = fromVariant(v)
	}
	return productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		Category:    p.Category,
		SKU:         p.SKU,
		Status:      p.Status,
		Variants:    variants,
	}
}

func fromCart(v *cart.View) cartResponse {
	items := make([]cartItemResponse, len(v.Items))
	for i, it := range v.Items {
		items[i] = cartItemResponse{
			VariantID:   it.Variant.ID,
			ProductName: it.Variant.ProductName,
			VariantName: it.Variant.Name,
			SKU:         it.Variant.SKU,
			UnitPrice:   it.Variant.Price,
			Quantity:    it.Quantity,
			LineTotal:   it.LineTotal,
		}
	}
	return cartResponse{
		CartID:    v.CartID,
		Items:     items,
		Subtotal:  v.Totals.Subtotal,
		Tax:       v.Totals.Tax,
		Shipping:  v.Totals.Shipping,
		Total:     v.Totals.Total,
		ItemCount: v.Totals.ItemCount,
		Currency:  v.Currency,
	}
}

func fromCoupon(code string, r *coupon.Result) couponResponse {
	return couponResponse{
		Code:     code,
		Type:     string(r.Kind),
		Applied:  r.Applied,
		Reason:   string(r.Reason),
		Discount: r.Discount,
		NewTotal: r.NewTotal,
	}
}

func fromOrder(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			SKU:         it.SKU,
			VariantName: it.VariantName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			TotalPrice:  it.TotalPrice,
		}
	}
	return orderResponse{
		ID:                    o.ID,
		Number:                o.Number,
		CustomerID:            o.CustomerID,
		Email:                 o.Email,
		Status:                string(o.Status),
		PaymentStatus:         string(o.PaymentStatus),
		FulfillmentStatus:     string(o.FulfillmentStatus),
		Billing:               o.Billing,
		Shipping:              o.Shipping,
		DeliveryInstructions:  o.DeliveryInstructions,
		PreferredDeliveryDate: o.PreferredDeliveryDate,
		Subtotal:              o.Subtotal,
		TaxAmount:             o.TaxAmount,
		ShippingAmount:        o.ShippingAmount,
		DiscountAmount:        o.DiscountAmount,
		TotalAmount:           o.TotalAmount,
		Currency:              o.Currency,
		CouponCode:            o.CouponCode,
		Items:                 items,
		ConfirmedAt:           o.ConfirmedAt,
		ShippedAt:             o.ShippedAt,
		DeliveredAt:           o.DeliveredAt,
		CancelledAt:           o.CancelledAt,
		CreatedAt:             o.CreatedAt,
	}
}

func fromTransaction(t *payment.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		OrderID:       t.OrderID,
		Reference:     t.Reference,
		Method:        string(t.Method),
		Processor:     t.Processor,
		Amount:        t.Amount,
		FeeAmount:     t.FeeAmount,
		Currency:      t.Currency,
		Status:        string(t.Status),
		FailureReason: t.FailureReason,
		CardLastFour:  t.CardLastFour,
		CardBrand:     t.CardBrand,
		ProcessedAt:   t.ProcessedAt,
		CreatedAt:     t.CreatedAt,
	}
}

func fromRefund(r *payment.Refund) refundResponse {
	return refundResponse{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		OrderID:       r.OrderID,
		Amount:        r.Amount,
		Reason:        string(r.Reason),
		Notes:         r.Notes,
		Status:        string(r.Status),
		FailureReason: r.FailureReason,
		Reference:     r.Reference,
		ProcessedBy:   r.ProcessedBy,
		ProcessedAt:   r.ProcessedAt,
		CreatedAt:     r.CreatedAt,
	}
}
