package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/profarm-erp/profarm-erp/internal/platform/httpx"
	"github.com/profarm-erp/profarm-erp/internal/shared"
)

// Handler exposes the stock ledger over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes attaches stock routes to the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock/{productID}", h.Show)
	r.Post("/stock/restock", h.Restock)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product id must be a positive integer")
		return
	}

	balance, movements, err := h.service.Availability(r.Context(), productID)
	if err != nil {
		if errors.Is(err, ErrUnknownProduct) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "no stock record for that product")
			return
		}
		h.logger.Error("stock availability failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	if movements == nil {
		movements = []Movement{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"balance":   balance,
		"movements": movements,
	})
}

func (h *Handler) Restock(w http.ResponseWriter, r *http.Request) {
	var input RestockInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	balance, err := h.service.PostRestock(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrIdempotencyConflict):
			httpx.Problem(w, http.StatusConflict, "Duplicate", "restock with that reference was already posted")
		case errors.Is(err, ErrInvalidQuantity):
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		default:
			h.logger.Error("restock failed", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, balance)
}
