// Package orders implements the order-note (nota de pedido) lifecycle:
// creation with year-scoped numbering, editing, approval with stock
// consumption, rejection and finalization.
package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderState enumerates the lifecycle states of an order note.
type OrderState string

const (
	StatePending   OrderState = "PENDING"
	StateApproved  OrderState = "APPROVED"
	StateRejected  OrderState = "REJECTED"
	StateFinalized OrderState = "FINALIZED"
)

// PaymentTerms is the closed set of accepted payment conditions.
type PaymentTerms string

const (
	PaymentCash  PaymentTerms = "CASH"
	PaymentNet30 PaymentTerms = "NET_30"
	PaymentNet60 PaymentTerms = "NET_60"
	PaymentNet90 PaymentTerms = "NET_90"
)

// ValidPaymentTerms reports whether t belongs to the closed enumeration.
func ValidPaymentTerms(t PaymentTerms) bool {
	switch t {
	case PaymentCash, PaymentNet30, PaymentNet60, PaymentNet90:
		return true
	}
	return false
}

// Order is the aggregate root. Items are owned by the order and fully
// replaced on edit; Total is always derived from them.
type Order struct {
	ID           int64           `json:"id"`
	OrderNumber  string          `json:"order_number"`
	ClientID     int64           `json:"client_id"`
	SellerID     int64           `json:"seller_id"`
	PaymentTerms PaymentTerms    `json:"payment_terms"`
	Notes        string          `json:"notes,omitempty"`
	Total        decimal.Decimal `json:"total"`
	State        OrderState      `json:"state"`
	CreatedAt    time.Time       `json:"created_at"`
	ApprovedAt   *time.Time      `json:"approved_at,omitempty"`
	ApprovedBy   *int64          `json:"approved_by,omitempty"`
	FinalizedAt  *time.Time      `json:"finalized_at,omitempty"`
	FinalizedBy  *int64          `json:"finalized_by,omitempty"`
	Items        []LineItem      `json:"items,omitempty"`
}

// LineItem captures a product reference with a price snapshot taken at
// order time. The price is never re-derived from the catalog afterwards.
type LineItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	LineOrder int             `json:"line_order"`
}

// OrderSummary is the listing projection.
type OrderSummary struct {
	OrderNumber  string          `json:"order_number"`
	ClientName   string          `json:"client_name"`
	SellerID     int64           `json:"seller_id"`
	PaymentTerms PaymentTerms    `json:"payment_terms"`
	Total        decimal.Decimal `json:"total"`
	State        OrderState      `json:"state"`
	ItemCount    int             `json:"item_count"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ListFilter restricts ListOrders results.
type ListFilter struct {
	State    *OrderState
	SellerID *int64
	Limit    int
	Offset   int
}

var (
	// ErrNotFound indicates the referenced order does not exist.
	ErrNotFound = errors.New("orders: not found")
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("orders: invalid input")
	// ErrInvalidTransition occurs when an operation violates the state machine.
	ErrInvalidTransition = errors.New("orders: invalid state transition")
	// ErrConflict indicates a uniqueness violation; the caller may retry.
	ErrConflict = errors.New("orders: conflict")
	// ErrTimeout indicates the backing store deadline was exceeded.
	ErrTimeout = errors.New("orders: store timeout")
	// ErrUnavailable indicates a storage connectivity failure.
	ErrUnavailable = errors.New("orders: store unavailable")
)

// CanTransition reports whether the state machine permits moving from one
// state to another through Approve/Reject/Finalize. Edit is handled
// separately because it may leave any non-terminal state back at Pending.
func CanTransition(from, to OrderState) bool {
	switch to {
	case StateApproved, StateRejected:
		return from == StatePending
	case StateFinalized:
		return from == StateApproved
	}
	return false
}

// Editable reports whether the order may still be edited. Finalized orders
// are terminal.
func Editable(state OrderState) bool {
	return state != StateFinalized
}
