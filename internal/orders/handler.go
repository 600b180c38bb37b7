package orders

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/profarm-erp/profarm-erp/internal/platform/httpx"
	"github.com/profarm-erp/profarm-erp/internal/stock"
)

// Handler exposes the order workflow over HTTP.
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

// MountRoutes attaches order routes to the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{number}", func(r chi.Router) {
			r.Get("/", h.Show)
			r.Put("/", h.Edit)
			r.Post("/approve", h.Approve)
			r.Post("/reject", h.Reject)
			r.Post("/finalize", h.Finalize)
			r.Get("/approvals", h.Approvals)
		})
	})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var filter ListFilter
	if raw := r.URL.Query().Get("state"); raw != "" {
		state := OrderState(raw)
		switch state {
		case StatePending, StateApproved, StateRejected, StateFinalized:
			filter.State = &state
		default:
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown state filter")
			return
		}
	}
	if raw := r.URL.Query().Get("seller_id"); raw != "" {
		sellerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || sellerID <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "seller_id must be a positive integer")
			return
		}
		filter.SellerID = &sellerID
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	summaries, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": summaries})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Get(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	var req EditOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.Edit(r.Context(), chi.URLParam(r, "number"), req, actorID(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type transitionRequest struct {
	ActorID int64  `json:"actor_id" validate:"required,gt=0"`
	Note    string `json:"note" validate:"max=500"`
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, number string, req transitionRequest) (TransitionResult, error) {
		return h.service.Approve(r.Context(), number, req.ActorID)
	})
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, number string, req transitionRequest) (TransitionResult, error) {
		return h.service.Reject(r.Context(), number, req.ActorID, req.Note)
	})
}

func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, number string, req transitionRequest) (TransitionResult, error) {
		return h.service.Finalize(r.Context(), number, req.ActorID)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(*http.Request, string, transitionRequest) (TransitionResult, error)) {
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := fn(r, chi.URLParam(r, "number"), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) Approvals(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if _, err := h.service.Get(r.Context(), number); err != nil {
		h.respondError(w, err)
		return
	}
	logs, err := h.service.Approvals(r.Context(), number)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approvals": logs})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no order with that number")
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, stock.ErrInsufficientStock), errors.Is(err, stock.ErrUnknownProduct):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "the operation collided with a concurrent change")
	case errors.Is(err, ErrTimeout):
		httpx.Problem(w, http.StatusGatewayTimeout, "Store Timeout", "the operation exceeded the storage deadline")
	case errors.Is(err, ErrUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "storage is temporarily unavailable")
	default:
		h.logger.Error("order request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// actorID reads the acting user from the X-Actor-ID header. Order edits
// carry no body field for it because the header travels with every call.
func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
