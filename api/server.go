/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RealIP:        Client address from X-Forwarded-For / X-Real-IP
  3. RequestLogger: zap access log + Prometheus request metrics
  4. Recoverer:     Panic recovery (500 instead of crash)
  5. CORS:          Cross-origin requests for the web front end

ROUTE GROUPS:
  /healthz                  Liveness + store ping
  /metrics                  Prometheus exposition
  /api/amortization/*       Calculator (public, rate-limited)
  /api/public/*             Borrower lookup (public, rate-limited)
  /api/*                    Staff routes behind RequireActor
  /api/admin/*              Admins and subadmins only (RequireRole)

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Request logging and actor resolution
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/loan-engine/servicing"
)

// RouterConfig carries the optional pieces of the router.
type RouterConfig struct {
	Logger      *zap.Logger
	CORSOrigins []string
	// Limiter guards the public routes; nil disables rate limiting.
	Limiter *RateLimiter
	// Scheduler exposes its last sweep at GET /api/admin/overdue.
	Scheduler *OverdueScheduler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", UserHeader, "Idempotency-Key"},
		ExposedHeaders: []string{"Location", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	limited := func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Middleware)
		}
	}

	r.Route("/api", func(r chi.Router) {
		// Calculator routes
		r.Route("/amortization", func(r chi.Router) {
			limited(r)
			r.Post("/schedule", h.PreviewSchedule)
			r.Post("/rounding", h.SuggestRounding)
		})

		// Borrower self-service
		r.Route("/public", func(r chi.Router) {
			limited(r)
			r.Get("/loans", h.LookupLoans)
		})

		// Staff routes
		r.Group(func(r chi.Router) {
			r.Use(h.RequireActor)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.ListUsers)
				r.Post("/", h.CreateUser)
			})

			r.Route("/clients", func(r chi.Router) {
				r.Get("/", h.ListClients)
				r.Post("/", h.CreateClient)
				r.Get("/{id}", h.GetClient)
			})

			r.Route("/loans", func(r chi.Router) {
				r.Get("/", h.ListLoans)
				r.Post("/", h.CreateLoan)
				r.Get("/{id}", h.GetLoan)
				r.Post("/{id}/payments", h.RecordPayment)
				r.Post("/{id}/status", h.ChangeLoanStatus)
			})

			r.Route("/closures", func(r chi.Router) {
				r.Get("/", h.ListClosures)
				r.Post("/", h.CloseDay)
			})

			r.Route("/portfolio", func(r chi.Router) {
				r.Get("/summary", h.PortfolioSummary)
				r.Get("/hierarchy", h.PortfolioHierarchy)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.RequireRole(servicing.RoleAdmin, servicing.RoleSubadmin))
				r.Post("/overdue", h.MarkOverdue)
				if cfg.Scheduler != nil {
					r.Get("/overdue", cfg.Scheduler.Status)
				}
			})

			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
