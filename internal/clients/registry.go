package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal query surface the registry needs. Both a pool and a
// pgx.Tx satisfy it, so upserts can run on the caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Registry resolves or creates client records.
type Registry struct{}

// NewRegistry constructs a Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Upsert resolves the client by normalized tax id, overwriting its mutable
// fields with the supplied values, or inserts a new record. The conflict
// clause makes it race-safe under concurrent creation of the same tax id.
func (r *Registry) Upsert(ctx context.Context, q DBTX, input UpsertInput) (int64, error) {
	taxID := NormalizeTaxID(input.TaxID)
	if taxID == "" {
		return 0, ErrInvalidTaxID
	}

	var id int64
	err := q.QueryRow(ctx, `INSERT INTO clients (tax_id, legal_name, phone, address, search_name)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (tax_id) DO UPDATE SET
    legal_name = EXCLUDED.legal_name,
    phone = EXCLUDED.phone,
    address = EXCLUDED.address,
    search_name = EXCLUDED.search_name,
    updated_at = NOW()
RETURNING id`, taxID, input.LegalName, input.Phone, input.Address, foldName(input.LegalName)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("clients: upsert: %w", err)
	}
	return id, nil
}

// Get returns the client with the given internal id.
func (r *Registry) Get(ctx context.Context, q DBTX, id int64) (Client, error) {
	return r.scanOne(ctx, q, `SELECT id, tax_id, legal_name, phone, address, created_at, updated_at
FROM clients WHERE id = $1`, id)
}

// GetByTaxID returns the client keyed by the normalized tax id.
func (r *Registry) GetByTaxID(ctx context.Context, q DBTX, taxID string) (Client, error) {
	normalized := NormalizeTaxID(taxID)
	if normalized == "" {
		return Client{}, ErrInvalidTaxID
	}
	return r.scanOne(ctx, q, `SELECT id, tax_id, legal_name, phone, address, created_at, updated_at
FROM clients WHERE tax_id = $1`, normalized)
}

// Search lists clients whose folded legal name contains the query, newest
// first. An empty query lists the most recently updated clients.
func (r *Registry) Search(ctx context.Context, q DBTX, query string, limit int) ([]Client, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := q.Query(ctx, `SELECT id, tax_id, legal_name, phone, address, created_at, updated_at
FROM clients
WHERE $1 = '' OR search_name LIKE '%' || $1 || '%'
ORDER BY updated_at DESC, id DESC
LIMIT $2`, foldName(query), limit)
	if err != nil {
		return nil, fmt.Errorf("clients: search: %w", err)
	}
	defer rows.Close()

	var result []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.TaxID, &c.LegalName, &c.Phone, &c.Address, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *Registry) scanOne(ctx context.Context, q DBTX, sql string, arg any) (Client, error) {
	var c Client
	err := q.QueryRow(ctx, sql, arg).Scan(&c.ID, &c.TaxID, &c.LegalName, &c.Phone, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, ErrNotFound
		}
		return Client{}, err
	}
	return c, nil
}
