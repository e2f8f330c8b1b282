package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/batchline-erp/batchline-erp/internal/auth"
	"github.com/batchline-erp/batchline-erp/internal/formula"
	"github.com/batchline-erp/batchline-erp/internal/masterdata/materials"
	"github.com/batchline-erp/batchline-erp/internal/masterdata/packaging"
	"github.com/batchline-erp/batchline-erp/internal/masterdata/products"
	"github.com/batchline-erp/batchline-erp/internal/masterdata/suppliers"
	"github.com/batchline-erp/batchline-erp/internal/observability"
	"github.com/batchline-erp/batchline-erp/internal/stock"
	"github.com/batchline-erp/batchline-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger      *slog.Logger
	Config      *Config
	AuthService *auth.Service

	AuthHandler      *auth.Handler
	StockHandler     *stock.Handler
	FormulaHandler   *formula.Handler
	SuppliersHandler *suppliers.Handler
	MaterialsHandler *materials.Handler
	PackagingHandler *packaging.Handler
	ProductsHandler  *products.Handler
	JobsHandler      *jobs.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
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
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		if params.AuthService != nil {
			r.Use(params.AuthService.RequireToken)
		}
		r.Route("/stock", params.StockHandler.MountRoutes)
		r.Route("/formulas", params.FormulaHandler.MountRoutes)
		r.Route("/masterdata", func(r chi.Router) {
			r.Route("/suppliers", params.SuppliersHandler.MountRoutes)
			r.Route("/materials", params.MaterialsHandler.MountRoutes)
			r.Route("/packaging", params.PackagingHandler.MountRoutes)
			r.Route("/products", params.ProductsHandler.MountRoutes)
		})
		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	return r
}
