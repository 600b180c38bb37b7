package orders

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/profarm-erp/profarm-erp/internal/stock"
)

func TestClassifyMapsStorageErrors(t *testing.T) {
	require.NoError(t, classify(nil))

	err := classify(&pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key"})
	require.ErrorIs(t, err, ErrConflict)

	// Serialization failures under RepeatableRead are retryable conflicts,
	// not internal errors.
	err = classify(&pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"})
	require.ErrorIs(t, err, ErrConflict)

	err = classify(&pgconn.PgError{Code: "57014"})
	require.ErrorIs(t, err, ErrTimeout)

	require.ErrorIs(t, classify(pgx.ErrNoRows), ErrNotFound)
	require.ErrorIs(t, classify(context.DeadlineExceeded), ErrTimeout)

	// Wrapped driver errors still classify.
	err = classify(fmt.Errorf("commit tx: %w", &pgconn.PgError{Code: "40001"}))
	require.ErrorIs(t, err, ErrConflict)

	// Domain sentinels pass through unchanged.
	require.ErrorIs(t, classify(ErrInvalidTransition), ErrInvalidTransition)
	require.ErrorIs(t, classify(stock.ErrInsufficientStock), stock.ErrInsufficientStock)
}

func TestRespondErrorStatuses(t *testing.T) {
	h := NewHandler(slog.Default(), nil)
	cases := map[int]error{
		400: fmt.Errorf("%w: bad", ErrValidation),
		404: ErrNotFound,
		409: fmt.Errorf("%w: stale", ErrInvalidTransition),
		422: stock.ErrInsufficientStock,
		504: fmt.Errorf("%w: slow", ErrTimeout),
		503: ErrUnavailable,
	}
	for want, err := range cases {
		rec := httptest.NewRecorder()
		h.respondError(rec, err)
		require.Equal(t, want, rec.Code, "error %v", err)
	}

	// A serialization conflict surfaces as 409, never 500.
	rec := httptest.NewRecorder()
	h.respondError(rec, classify(&pgconn.PgError{Code: "40001"}))
	require.Equal(t, 409, rec.Code)
}
