package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/profarm-erp/profarm-erp/internal/clients"
	"github.com/profarm-erp/profarm-erp/internal/observability"
	"github.com/profarm-erp/profarm-erp/internal/orders"
	"github.com/profarm-erp/profarm-erp/internal/platform/httpx"
	"github.com/profarm-erp/profarm-erp/internal/stock"
	"github.com/profarm-erp/profarm-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	OrdersHandler  *orders.Handler
	ClientsHandler *clients.Handler
	StockHandler   *stock.Handler
	JobsHandler    *jobs.Handler
	Pool           *pgxpool.Pool
	Redis          *redis.Client
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", healthz(params))

	r.Route("/api", func(r chi.Router) {
		if params.OrdersHandler != nil {
			params.OrdersHandler.MountRoutes(r)
		}
		if params.ClientsHandler != nil {
			params.ClientsHandler.MountRoutes(r)
		}
		if params.StockHandler != nil {
			params.StockHandler.MountRoutes(r)
		}
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

// healthz probes the database and redis with a short deadline so load
// balancers see degradation before request traffic does.
func healthz(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		if params.Pool != nil {
			if err := params.Pool.Ping(ctx); err != nil {
				status["status"] = "degraded"
				status["postgres"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		if params.Redis != nil {
			if err := params.Redis.Ping(ctx).Err(); err != nil {
				status["status"] = "degraded"
				status["redis"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		httpx.JSON(w, code, status)
	}
}
