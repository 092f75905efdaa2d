package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/batepapo/internal/api/middleware"
	"github.com/eldtechnologies/batepapo/internal/handlers"
)

const defaultMaxBodyBytes = 8 * 1024

// Options tunes the router. A nil Limiter disables rate limiting.
type Options struct {
	MaxBodyBytes int64
	Limiter      *middleware.RateLimiter
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, opts Options) *chi.Mux {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Identity)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	if opts.Limiter != nil {
		r.Use(opts.Limiter.Middleware)
	}

	// CORS - browser clients call from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.UserHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	r.Route("/participants", func(r chi.Router) {
		r.Post("/", h.Register)
		r.Get("/", h.ListParticipants)
		r.Get("/{name}", h.Who)
	})
	r.Post("/status", h.Status)

	r.Route("/messages", func(r chi.Router) {
		r.Post("/", h.PostMessage)
		r.Get("/", h.ListMessages)
		r.Put("/{id}", h.EditMessage)
		r.Delete("/{id}", h.DeleteMessage)
	})

	return r
}
