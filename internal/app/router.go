package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/categories"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/locations"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/products"
	"github.com/meridian-erp/meridian-erp/internal/masterdata/units"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	LedgerHandler     *ledger.Handler
	ProductsHandler   *products.Handler
	UnitsHandler      *units.Handler
	LocationsHandler  *locations.Handler
	CategoriesHandler *categories.Handler
	JobsHandler       *jobs.Handler
	Pool              *pgxpool.Pool
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
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

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Error("healthz db ping", slog.Any("error", err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.LedgerHandler != nil {
		r.Route("/ledger", params.LedgerHandler.MountRoutes)
	}
	r.Route("/masterdata", func(r chi.Router) {
		if params.ProductsHandler != nil {
			r.Route("/products", params.ProductsHandler.MountRoutes)
		}
		if params.UnitsHandler != nil {
			r.Route("/units", params.UnitsHandler.MountRoutes)
		}
		if params.LocationsHandler != nil {
			r.Route("/locations", params.LocationsHandler.MountRoutes)
		}
		if params.CategoriesHandler != nil {
			r.Route("/categories", params.CategoriesHandler.MountRoutes)
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
