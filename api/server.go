/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests, origins from config

ROUTE GROUPS:
  /health                            Liveness and database ping
  /api/tenants/{tenantID}/*          Every engine operation, scoped per tenant

SECURITY NOTE:
  No authentication middleware. Tenant isolation is by URL only.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/leave-engine/config"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg config.ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/tenants/{tenantID}", func(r chi.Router) {
		// Catalog
		r.Route("/leave-types", func(r chi.Router) {
			r.Get("/", h.ListLeaveTypes)
			r.Post("/", h.CreateLeaveType)
			r.Get("/{id}", h.GetLeaveType)
		})
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
			r.Post("/{id}/default", h.SetDefaultPolicy)
			r.Get("/{id}/rules", h.ListRules)
			r.Post("/{id}/rules", h.CreateRules)
			r.Put("/{id}/rules/{rulesID}", h.UpdateRules)
			r.Delete("/{id}/rules/{rulesID}", h.DeleteRules)
		})

		// Directory and calendar
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.SaveEmployee)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/policy", h.GetEffectivePolicy)
			r.Get("/{id}/balances/{leaveTypeID}", h.GetBalance)
			r.Get("/{id}/balances/{leaveTypeID}/transactions", h.GetTransactions)
		})
		r.Post("/roles", h.AssignRole)
		r.Get("/holidays", h.ListHolidays)
		r.Post("/holidays", h.AddHoliday)
		r.Put("/weekly-offs", h.SetWeeklyOffs)

		// Requests
		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.SubmitRequest)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
			r.Post("/{id}/decisions", h.RecordDecision)
		})

		// Batch
		r.Post("/year-end/{year}", h.RunYearEnd)
		r.Post("/carry-forward/expire", h.ExpireCarryForward)
		r.Post("/accruals/apply", h.ApplyAccruals)
		r.Get("/payroll/{year}", h.ListPayroll)
		r.Get("/payroll/{year}/workbook", h.ExportPayroll)
	})

	return r
}
