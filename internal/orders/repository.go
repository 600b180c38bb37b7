package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/profarm-erp/profarm-erp/internal/clients"
	"github.com/profarm-erp/profarm-erp/internal/platform/db"
	"github.com/profarm-erp/profarm-erp/internal/stock"
)

// Repository is the read side plus the transactional entry point.
type Repository interface {
	WithTx(ctx context.Context, fn func(TxRepository) error) error
	GetByNumber(ctx context.Context, number string) (OrderDetail, error)
	List(ctx context.Context, filter ListFilter) ([]OrderSummary, error)
}

// TxRepository groups every mutation that must share one transaction:
// sequence allocation, client upsert, order writes and stock movements.
type TxRepository interface {
	NextOrderNumber(ctx context.Context, year int) (string, error)
	InsertOrder(ctx context.Context, o *Order) error
	InsertItems(ctx context.Context, orderID int64, items []LineItem) error
	DeleteItems(ctx context.Context, orderID int64) error
	GetForUpdate(ctx context.Context, number string) (Order, error)
	UpdateHeader(ctx context.Context, o Order) error
	TransitionState(ctx context.Context, id int64, from, to OrderState, actorID int64, at time.Time) (bool, error)
	UpsertClient(ctx context.Context, input clients.UpsertInput) (int64, error)
	DecrementStock(ctx context.Context, productID, qty int64, ref string, actorID int64) error
	CreditStock(ctx context.Context, productID, qty int64, reason, ref string, actorID int64) error
}

type pgxRepository struct {
	pool     *pgxpool.Pool
	registry *clients.Registry
	ledger   *stock.Ledger
}

// NewRepository builds the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool, registry *clients.Registry, ledger *stock.Ledger) Repository {
	return &pgxRepository{pool: pool, registry: registry, ledger: ledger}
}

func (r *pgxRepository) WithTx(ctx context.Context, fn func(TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&txRepository{tx: tx, registry: r.registry, ledger: r.ledger})
	})
	return classify(err)
}

const orderColumns = `id, order_number, client_id, seller_id, payment_terms, notes, total, state, created_at, approved_at, approved_by, finalized_at, finalized_by`

func (r *pgxRepository) GetByNumber(ctx context.Context, number string) (OrderDetail, error) {
	var d OrderDetail
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1`, number)
	if err := scanOrder(row, &d.Order); err != nil {
		return OrderDetail{}, classify(err)
	}

	// Items and client live in unrelated tables; fetch both at once.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := loadItems(gctx, r.pool, d.Order.ID)
		if err != nil {
			return err
		}
		d.Order.Items = items
		return nil
	})
	g.Go(func() error {
		client, err := r.registry.Get(gctx, r.pool, d.Order.ClientID)
		if err != nil {
			return err
		}
		d.Client = client
		return nil
	})
	if err := g.Wait(); err != nil {
		return OrderDetail{}, classify(err)
	}
	return d, nil
}

func (r *pgxRepository) List(ctx context.Context, filter ListFilter) ([]OrderSummary, error) {
	var (
		conds []string
		args  []any
	)
	if filter.State != nil {
		args = append(args, string(*filter.State))
		conds = append(conds, fmt.Sprintf("o.state = $%d", len(args)))
	}
	if filter.SellerID != nil {
		args = append(args, *filter.SellerID)
		conds = append(conds, fmt.Sprintf("o.seller_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	limitPos := len(args)
	args = append(args, filter.Offset)
	offsetPos := len(args)

	q := `SELECT o.order_number, c.legal_name, o.seller_id, o.payment_terms, o.total, o.state,
(SELECT COUNT(*) FROM order_items i WHERE i.order_id = o.id) AS item_count, o.created_at
FROM orders o
JOIN clients c ON c.id = o.client_id` + where +
		fmt.Sprintf(" ORDER BY o.created_at DESC, o.id DESC LIMIT $%d OFFSET $%d", limitPos, offsetPos)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	summaries := make([]OrderSummary, 0)
	for rows.Next() {
		var s OrderSummary
		if err := rows.Scan(&s.OrderNumber, &s.ClientName, &s.SellerID, &s.PaymentTerms, &s.Total, &s.State, &s.ItemCount, &s.CreatedAt); err != nil {
			return nil, classify(err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return summaries, nil
}

type txRepository struct {
	tx       pgx.Tx
	registry *clients.Registry
	ledger   *stock.Ledger
}

// NextOrderNumber bumps the per-year counter row and formats the number.
// The increment is a single atomic statement, so two concurrent creates
// serialise on the counter row and can never observe the same value.
func (t *txRepository) NextOrderNumber(ctx context.Context, year int) (string, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `INSERT INTO order_sequences (year, last_value) VALUES ($1, 1)
ON CONFLICT (year) DO UPDATE SET last_value = order_sequences.last_value + 1
RETURNING last_value`, year).Scan(&n)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("NP-%d-%04d", year, n), nil
}

func (t *txRepository) InsertOrder(ctx context.Context, o *Order) error {
	return t.tx.QueryRow(ctx, `INSERT INTO orders (order_number, client_id, seller_id, payment_terms, notes, total, state, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		o.OrderNumber, o.ClientID, o.SellerID, string(o.PaymentTerms), o.Notes, o.Total, string(o.State), o.CreatedAt,
	).Scan(&o.ID)
}

func (t *txRepository) InsertItems(ctx context.Context, orderID int64, items []LineItem) error {
	for i := range items {
		items[i].OrderID = orderID
		err := t.tx.QueryRow(ctx, `INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal, line_order)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
			orderID, items[i].ProductID, items[i].Quantity, items[i].UnitPrice, items[i].Subtotal, items[i].LineOrder,
		).Scan(&items[i].ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepository) DeleteItems(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, orderID)
	return err
}

// GetForUpdate locks the order row for the remainder of the transaction
// and loads its items.
func (t *txRepository) GetForUpdate(ctx context.Context, number string) (Order, error) {
	var o Order
	row := t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number=$1 FOR UPDATE`, number)
	if err := scanOrder(row, &o); err != nil {
		return Order{}, err
	}
	items, err := loadItems(ctx, t.tx, o.ID)
	if err != nil {
		return Order{}, err
	}
	o.Items = items
	return o, nil
}

// UpdateHeader rewrites the mutable order fields, including state and the
// approval/finalization metadata, from the given snapshot.
func (t *txRepository) UpdateHeader(ctx context.Context, o Order) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET client_id=$2, payment_terms=$3, notes=$4, total=$5, state=$6,
approved_at=$7, approved_by=$8, finalized_at=$9, finalized_by=$10
WHERE id=$1`,
		o.ID, o.ClientID, string(o.PaymentTerms), o.Notes, o.Total, string(o.State),
		o.ApprovedAt, o.ApprovedBy, o.FinalizedAt, o.FinalizedBy,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionState performs the guarded state flip. The WHERE clause keeps
// the check-and-set atomic: a stale caller affects zero rows and gets false.
func (t *txRepository) TransitionState(ctx context.Context, id int64, from, to OrderState, actorID int64, at time.Time) (bool, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch to {
	case StateApproved:
		tag, err = t.tx.Exec(ctx, `UPDATE orders SET state=$3, approved_at=$4, approved_by=$5 WHERE id=$1 AND state=$2`,
			id, string(from), string(to), at, actorID)
	case StateFinalized:
		tag, err = t.tx.Exec(ctx, `UPDATE orders SET state=$3, finalized_at=$4, finalized_by=$5 WHERE id=$1 AND state=$2`,
			id, string(from), string(to), at, actorID)
	default:
		tag, err = t.tx.Exec(ctx, `UPDATE orders SET state=$3 WHERE id=$1 AND state=$2`,
			id, string(from), string(to))
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepository) UpsertClient(ctx context.Context, input clients.UpsertInput) (int64, error) {
	return t.registry.Upsert(ctx, t.tx, input)
}

func (t *txRepository) DecrementStock(ctx context.Context, productID, qty int64, ref string, actorID int64) error {
	return t.ledger.Decrement(ctx, t.tx, productID, qty, ref, actorID)
}

func (t *txRepository) CreditStock(ctx context.Context, productID, qty int64, reason, ref string, actorID int64) error {
	return t.ledger.Credit(ctx, t.tx, productID, qty, reason, ref, actorID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, orderID int64) ([]LineItem, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_price, subtotal, line_order
FROM order_items WHERE order_id=$1 ORDER BY line_order ASC, id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.Subtotal, &it.LineOrder); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row, o *Order) error {
	var terms, state string
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ClientID, &o.SellerID, &terms, &o.Notes, &o.Total, &state,
		&o.CreatedAt, &o.ApprovedAt, &o.ApprovedBy, &o.FinalizedAt, &o.FinalizedBy)
	if err != nil {
		return err
	}
	o.PaymentTerms = PaymentTerms(terms)
	o.State = OrderState(state)
	return nil
}

// classify maps storage failures onto the package sentinels so callers
// never inspect pgx types themselves.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) ||
		errors.Is(err, stock.ErrInsufficientStock) || errors.Is(err, stock.ErrUnknownProduct) ||
		errors.Is(err, clients.ErrInvalidTaxID) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, clients.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "40001":
			// RepeatableRead serialization failure; the transaction as a
			// whole is retryable.
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case "57014":
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
