// Package stock is the authoritative ledger of available inventory per
// product. Order approval consumes stock through it; restock postings and
// approval reversals credit it back. Every change appends a movement row.
package stock

import (
	"errors"
	"time"
)

// Movement reasons.
const (
	ReasonOrderApproved = "ORDER_APPROVED"
	ReasonOrderReopened = "ORDER_REOPENED"
	ReasonRestock       = "RESTOCK"
)

// Balance is the available quantity for one product.
type Balance struct {
	ProductID int64     `json:"product_id"`
	Available int64     `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Movement is one append-only ledger entry.
type Movement struct {
	ID         int64     `json:"id"`
	ProductID  int64     `json:"product_id"`
	QtyChange  int64     `json:"qty_change"`
	Reason     string    `json:"reason"`
	Ref        string    `json:"ref,omitempty"`
	ActorID    *int64    `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RestockInput describes an inbound posting.
type RestockInput struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Ref       string `json:"ref" validate:"max=60"`
	ActorID   int64  `json:"actor_id" validate:"required,gt=0"`
}

var (
	// ErrInsufficientStock is returned when a decrement would oversell.
	ErrInsufficientStock = errors.New("stock: insufficient available quantity")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
	// ErrUnknownProduct indicates the product has no stock row.
	ErrUnknownProduct = errors.New("stock: unknown product")
)
