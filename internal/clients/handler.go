package clients

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/profarm-erp/profarm-erp/internal/platform/httpx"
)

// Handler exposes read-only client directory endpoints.
type Handler struct {
	logger   *slog.Logger
	registry *Registry
	pool     *pgxpool.Pool
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, registry *Registry, pool *pgxpool.Pool) *Handler {
	return &Handler{logger: logger, registry: registry, pool: pool}
}

// MountRoutes attaches client routes to the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/clients", h.Search)
	r.Get("/clients/{taxID}", h.Show)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	client, err := h.registry.GetByTaxID(r.Context(), h.pool, chi.URLParam(r, "taxID"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", "no client with that tax id")
		case errors.Is(err, ErrInvalidTaxID):
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "tax id must contain digits")
		default:
			h.logger.Error("client lookup failed", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}
	httpx.JSON(w, http.StatusOK, client)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	result, err := h.registry.Search(r.Context(), h.pool, r.URL.Query().Get("q"), 50)
	if err != nil {
		h.logger.Error("client search failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if result == nil {
		result = []Client{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"clients": result})
}
