package orders

import (
	"github.com/shopspring/decimal"

	"github.com/profarm-erp/profarm-erp/internal/clients"
)

// ClientInput carries the client fields supplied with a create or edit.
type ClientInput struct {
	TaxID     string `json:"tax_id" validate:"required,max=20"`
	LegalName string `json:"legal_name" validate:"required,max=200"`
	Phone     string `json:"phone" validate:"max=40"`
	Address   string `json:"address" validate:"max=300"`
}

// LineItemInput is one requested product-quantity-price tuple. The subtotal
// is always recomputed server side.
type LineItemInput struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CreateOrderRequest starts a new order in Pending state.
type CreateOrderRequest struct {
	Client       ClientInput     `json:"client" validate:"required"`
	Items        []LineItemInput `json:"items" validate:"required,min=1,dive"`
	PaymentTerms PaymentTerms    `json:"payment_terms" validate:"required,oneof=CASH NET_30 NET_60 NET_90"`
	Notes        string          `json:"notes" validate:"max=1000"`
	SellerID     int64           `json:"seller_id" validate:"required,gt=0"`
}

// EditOrderRequest replaces the order's client data and item set.
type EditOrderRequest struct {
	Client       ClientInput     `json:"client" validate:"required"`
	Items        []LineItemInput `json:"items" validate:"required,min=1,dive"`
	PaymentTerms PaymentTerms    `json:"payment_terms" validate:"required,oneof=CASH NET_30 NET_60 NET_90"`
	Notes        string          `json:"notes" validate:"max=1000"`
}

// CreateOrderResult is returned by CreateOrder.
type CreateOrderResult struct {
	OrderNumber string          `json:"order_number"`
	State       OrderState      `json:"state"`
	Total       decimal.Decimal `json:"total"`
}

// EditOrderResult reports what the edit changed.
type EditOrderResult struct {
	State        OrderState      `json:"state"`
	Total        decimal.Decimal `json:"total"`
	TotalChanged bool            `json:"total_changed"`
	StateChanged bool            `json:"state_changed"`
}

// TransitionResult is returned by Approve/Reject/Finalize.
type TransitionResult struct {
	OrderNumber string     `json:"order_number"`
	State       OrderState `json:"state"`
}

// OrderDetail is the full read projection: order, owning client and items.
type OrderDetail struct {
	Order
	Client clients.Client `json:"client"`
}

func (in LineItemInput) subtotal() decimal.Decimal {
	return in.UnitPrice.Mul(decimal.NewFromInt(in.Quantity))
}
