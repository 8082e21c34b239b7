// Package api provides the HTTP API for RoadWatch.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/roadwatch/roadwatch/internal/api/handler"
	"github.com/roadwatch/roadwatch/internal/api/middleware"
	"github.com/roadwatch/roadwatch/internal/images"
	"github.com/roadwatch/roadwatch/internal/incident"
	"github.com/roadwatch/roadwatch/internal/location"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Controller  *incident.Controller
	Images      *images.Cache
	Locations   *location.Service
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "roadwatch-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS)           // TLS enforcement (enabled via REQUIRE_TLS=true)
	r.Use(middleware.ContentTypeJSON)      // JSON content type
	r.Use(middleware.RequireJSON)          // 415 for non-JSON request bodies

	incidentsHandler := handler.NewIncidentsHandler(cfg.Controller, cfg.Images)
	eventsHandler := handler.NewEventsHandler(cfg.Controller, cfg.Logger)
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Controller, cfg.Images, cfg.Locations)

	// Rate limit tiers per endpoint category
	strictRateLimit := middleware.RateLimitByIP(middleware.StrictRateLimit)       // 10 req/min
	expensiveRateLimit := middleware.RateLimitByIP(middleware.ExpensiveRateLimit) // 30 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)   // 100 req/min

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		r.Route("/incidents", func(r chi.Router) {
			r.With(standardRateLimit).Get("/", incidentsHandler.List)

			// Fetch triggers hit the upstream feed, keep them strict
			r.With(strictRateLimit).Post("/load", incidentsHandler.Load)
			r.With(strictRateLimit).Post("/refresh", incidentsHandler.Refresh)

			r.With(standardRateLimit).Put("/sort-policy", incidentsHandler.SetSortPolicy)

			// Image fan-out downloads from the sign servers
			r.With(expensiveRateLimit).Post("/images", incidentsHandler.RequestImages)
			r.With(standardRateLimit).Get("/{incidentId}/image", incidentsHandler.GetImage)
		})

		// Event stream (long-lived, limited by connection count not rate)
		r.Get("/events", eventsHandler.Stream)

		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})
	})

	return r
}
