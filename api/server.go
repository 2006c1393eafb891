/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:      Unique ID per request for tracing
  2. RealIP:         Client address behind proxies
  3. RequestLogging: slog request log keyed by request id
  4. Recoverer:      Panic recovery (500 instead of crash)
  5. Timeout:        Per-request deadline propagated through ctx
  6. CORS:           Cross-origin requests for the dashboard
  7. Content-Type:   JSON bodies only on POST/PUT
  8. Actors:         Caller identity from X-Actor-* headers

ROUTE GROUPS:
  /bookings/*       Booking lifecycle, availability, remarks
  /manpower/*       Leave dates and roster
  /notifications    Remarks approval queue
  /reports/*        Cost reports
  /scenarios/*      Demo scenarios (dev only)
  /healthz          Liveness + store ping

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Request logging and actor resolution
  - cmd/server/main.go: Server startup
*/
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Options configures the router.
type Options struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts Options) *chi.Mux {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogging(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(ContentTypeValidation(h.Logger))
	r.Use(Actors)

	r.Get("/healthz", h.Health)

	// Booking routes
	r.Route("/bookings", func(r chi.Router) {
		r.Get("/", h.ListBookings)
		r.Post("/", h.CreateBooking)
		r.Get("/check", h.CheckAvailability)
		r.Get("/{id}", h.GetBooking)
		r.Put("/{id}", h.UpdateBooking)
		r.Delete("/{id}", h.CancelBooking)
		r.Put("/{id}/remarks", h.SubmitRemarks)
		r.Put("/{id}/approval", h.SetApproval)
	})

	// Manpower routes
	r.Route("/manpower", func(r chi.Router) {
		r.Put("/leave", h.SetLeave)
		r.Get("/leave", h.GetLeave)
		r.Get("/leave/affected", h.GetAffectedBookings)
		r.Post("/assignments", h.CreateAssignment)
	})

	r.Get("/notifications", h.ListNotifications)
	r.Get("/reports/costs", h.CostReport)

	// Scenario routes
	r.Route("/scenarios", func(r chi.Router) {
		r.Get("/", h.ListScenarios)
		r.Get("/current", h.GetCurrentScenario)
		r.Post("/load", h.LoadScenario)
	})

	return r
}
