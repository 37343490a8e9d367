// Package api provides the HTTP API for the generation proxy.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/nevisai/aiproxy/internal/api/handler"
	"github.com/nevisai/aiproxy/internal/api/middleware"
	"github.com/nevisai/aiproxy/internal/api/response"
	"github.com/nevisai/aiproxy/internal/breaker"
	"github.com/nevisai/aiproxy/internal/cache"
	"github.com/nevisai/aiproxy/internal/generation"
	"github.com/nevisai/aiproxy/internal/health"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Generation  *generation.Service
	Health      *health.Aggregator
	Breakers    *breaker.Registry
	Cache       *cache.Cache
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "aiproxy"
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

	generateHandler := handler.NewGenerateHandler(cfg.Generation, cfg.Logger)
	healthHandler := handler.NewHealthHandler(cfg.Health, cfg.Breakers, cfg.Cache, cfg.Logger)
	quotaHandler := handler.NewQuotaHandler(cfg.Generation)

	generateRateLimit := middleware.RateLimitByIP(middleware.GenerateRateLimit) // 30 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 100 req/min

	// Generation endpoints trigger paid upstream calls and require a JSON body.
	r.Group(func(r chi.Router) {
		r.Use(generateRateLimit)
		r.Use(middleware.RequireJSON)
		r.Post("/generate-text", generateHandler.GenerateText)
		r.Post("/generate-image", generateHandler.GenerateImage)
	})

	// Health report plus operator maintenance actions.
	r.Get("/health", healthHandler.Report)
	r.Post("/health", healthHandler.Action)

	r.With(standardRateLimit).Get("/quota/{userId}", quotaHandler.Get)

	// Unknown routes get problem responses like everything else.
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		response.NotFound(w, req, "no route for this path")
	})

	return r
}
