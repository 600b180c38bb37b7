package stock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/profarm-erp/profarm-erp/internal/platform/db"
	"github.com/profarm-erp/profarm-erp/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates restock postings and availability reads.
type Service struct {
	pool        *pgxpool.Pool
	ledger      *Ledger
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService builds a Service.
func NewService(pool *pgxpool.Pool, ledger *Ledger, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{pool: pool, ledger: ledger, audit: audit, idempotency: idem}
}

// PostRestock credits an inbound quantity. Postings with a reference are
// idempotent: replaying the same ref for a product is rejected instead of
// double-crediting.
func (s *Service) PostRestock(ctx context.Context, input RestockInput) (Balance, error) {
	if input.ProductID <= 0 || input.Quantity <= 0 {
		return Balance{}, ErrInvalidQuantity
	}

	key := fmt.Sprintf("restock:%d:%s", input.ProductID, input.Ref)
	insertedKey := false
	if s.idempotency != nil && input.Ref != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
			return Balance{}, err
		}
		insertedKey = true
	}

	var balance Balance
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.ledger.Credit(ctx, tx, input.ProductID, input.Quantity, ReasonRestock, input.Ref, input.ActorID); err != nil {
			return err
		}
		// Read the balance on the same transaction so a concurrent
		// posting cannot leak into this posting's reported result.
		var err error
		balance, err = s.ledger.Available(ctx, tx, input.ProductID)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Balance{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "stock:restock",
			Entity:   "product_stock",
			EntityID: fmt.Sprintf("%d", input.ProductID),
			Meta: map[string]any{
				"qty": input.Quantity,
				"ref": input.Ref,
			},
		})
	}
	return balance, nil
}

// Availability returns the balance and recent movements for a product.
func (s *Service) Availability(ctx context.Context, productID int64) (Balance, []Movement, error) {
	balance, err := s.ledger.Available(ctx, s.pool, productID)
	if err != nil {
		return Balance{}, nil, err
	}
	movements, err := s.ledger.Movements(ctx, s.pool, productID, 50)
	if err != nil {
		return Balance{}, nil, err
	}
	return balance, movements, nil
}
