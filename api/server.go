/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the operator dashboard
  5. Auth:       Principal resolution (device token / bearer token)
  6. Metrics:    Request counters by route pattern

ROUTE GROUPS:
  /api/distributor/*   Machine-facing endpoints (device token)
  /api/customer/*      Customer endpoints (bearer token)
  /api/monitor/*       Monitor reconciliation (staff)
  /api/distributors/*  Fleet reporting (staff)
  /api/maintainer/*    Maintenance operations (staff)
  /api/admin/*         Fleet administration (manager)
  /metrics             Prometheus scrape endpoint
  /health              Liveness probe

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Principal resolution and guards
  - cmd/vendingd/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brewnet/vendcore/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", deviceAuthHeader},
		AllowCredentials: true,
	}))
	r.Use(auth.Middleware)
	r.Use(countRequests)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Machine-facing routes
		r.Route("/distributor", func(r chi.Router) {
			r.Post("/boot", h.BootDistributor)
			r.Post("/reset", requireDevice(h.ResetDistributor))
			r.Get("/poll", requireDevice(h.PollDistributor))
			r.Get("/beverages", requireDevice(h.ListBeverages))
			r.Post("/purchase", requireDevice(h.Purchase))
		})

		// Customer routes
		r.Route("/customer", func(r chi.Router) {
			r.Get("/me", requireUser(h.Profile))
			r.Post("/connect", requireUser(h.Connect))
			r.Post("/disconnect", requireUser(h.Disconnect))
			r.Get("/current-connection", requireUser(h.CurrentConnection))
			r.Post("/topup", requireUser(h.TopUp))
		})

		// Monitor reconciliation routes
		r.Route("/monitor", func(r chi.Router) {
			r.Post("/sync", requireStaff(h.SyncMonitor))
			r.Post("/push", requireStaff(h.PushMonitor))
		})

		// Fleet reporting
		r.Get("/distributors/state", requireStaff(h.FleetState))

		// Maintenance routes
		r.Route("/maintainer/distributors", func(r chi.Router) {
			r.Post("/refill", requireStaff(h.RefillDistributor))
			r.Post("/status", requireStaff(h.SetDistributorStatus))
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/distributors", requireManager(h.CreateDistributor))
		})
	})

	// Observability
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, OKResponse{OK: true})
	})

	return r
}

// countRequests records one counter increment per request, labelled by
// the chi route pattern (not the raw path, to keep cardinality flat).
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(route, statusClass(ww.Status())).Inc()
	})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
