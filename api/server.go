/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in internal error logs
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the web client

ROUTE GROUPS:
  /api/products/*       Catalog
  /api/intake/*         Intake transactions
  /api/outtake/*        Outtake transactions
  /api/transactions/*   Lock / unlock
  /api/inventory        Units on hand
  /api/history          Transaction history
  /api/reports/*        CSV exports
  /api/audit            Negative-balance audit
  /api/scenarios/*      Demo data
  /metrics              Prometheus (when a metrics handler is given)
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/stock-ledger/ledger"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// AllowedOrigins for CORS. Empty means any origin.
	AllowedOrigins []string

	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Put("/{id}", h.UpdateProduct)
		})

		for _, kind := range []ledger.Kind{ledger.KindIntake, ledger.KindOuttake} {
			r.Route("/"+string(kind), func(r chi.Router) {
				r.Post("/", h.CreateTransaction(kind))
				r.Get("/{id}", h.GetTransaction(kind))
				r.Put("/{id}", h.UpdateTransaction(kind))
				r.Patch("/{id}", h.UpdateTransaction(kind))
			})
		}

		r.Route("/transactions/{type}/{id}", func(r chi.Router) {
			r.Post("/lock", h.LockTransaction)
			r.Post("/unlock", h.UnlockTransaction)
		})

		r.Get("/inventory", h.GetInventory)
		r.Get("/history", h.GetHistory)
		r.Get("/reports/inventory", h.GetInventoryReport)
		r.Get("/audit", h.GetAudit)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/{id}", h.LoadScenario)
		})
	})

	return r
}
