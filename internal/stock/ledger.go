package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal query surface the ledger needs; a pool or a pgx.Tx
// both satisfy it, so order approval can run decrements on its own
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger performs the row-locked stock mutations. Callers that touch
// several products must do so in ascending product id order to keep lock
// acquisition deadlock-free.
type Ledger struct{}

// NewLedger constructs a Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Decrement consumes qty units of the product, failing with
// ErrInsufficientStock when the available quantity is too low. The balance
// row is locked for the duration of the caller's transaction, so competing
// approvals of the same product serialize.
func (l *Ledger) Decrement(ctx context.Context, q DBTX, productID, qty int64, ref string, actorID int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	var available int64
	err := q.QueryRow(ctx, `SELECT available FROM product_stock WHERE product_id = $1 FOR UPDATE`, productID).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: product %d", ErrUnknownProduct, productID)
		}
		return err
	}
	if available < qty {
		return fmt.Errorf("%w: product %d has %d, need %d", ErrInsufficientStock, productID, available, qty)
	}

	if _, err := q.Exec(ctx, `UPDATE product_stock SET available = available - $2, updated_at = NOW()
WHERE product_id = $1`, productID, qty); err != nil {
		return err
	}
	return l.appendMovement(ctx, q, productID, -qty, ReasonOrderApproved, ref, actorID)
}

// Credit returns qty units of the product to the ledger, creating the
// balance row when missing.
func (l *Ledger) Credit(ctx context.Context, q DBTX, productID, qty int64, reason, ref string, actorID int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if _, err := q.Exec(ctx, `INSERT INTO product_stock (product_id, available, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (product_id) DO UPDATE SET available = product_stock.available + EXCLUDED.available, updated_at = NOW()`, productID, qty); err != nil {
		return err
	}
	return l.appendMovement(ctx, q, productID, qty, reason, ref, actorID)
}

// Available reads the current balance without locking.
func (l *Ledger) Available(ctx context.Context, q DBTX, productID int64) (Balance, error) {
	var b Balance
	err := q.QueryRow(ctx, `SELECT product_id, available, updated_at FROM product_stock WHERE product_id = $1`, productID).
		Scan(&b.ProductID, &b.Available, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrUnknownProduct
		}
		return Balance{}, err
	}
	return b, nil
}

// Movements lists the most recent ledger entries for a product.
func (l *Ledger) Movements(ctx context.Context, q DBTX, productID int64, limit int) ([]Movement, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := q.Query(ctx, `SELECT id, product_id, qty_change, reason, ref, actor_id, occurred_at
FROM stock_movements
WHERE product_id = $1
ORDER BY occurred_at DESC, id DESC
LIMIT $2`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.QtyChange, &m.Reason, &m.Ref, &m.ActorID, &m.OccurredAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (l *Ledger) appendMovement(ctx context.Context, q DBTX, productID, qtyChange int64, reason, ref string, actorID int64) error {
	var actor any
	if actorID != 0 {
		actor = actorID
	}
	_, err := q.Exec(ctx, `INSERT INTO stock_movements (product_id, qty_change, reason, ref, actor_id)
VALUES ($1, $2, $3, $4, $5)`, productID, qtyChange, reason, ref, actor)
	return err
}
