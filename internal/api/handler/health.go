package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nevisai/aiproxy/internal/api/models"
	"github.com/nevisai/aiproxy/internal/api/response"
	"github.com/nevisai/aiproxy/internal/breaker"
	"github.com/nevisai/aiproxy/internal/cache"
	"github.com/nevisai/aiproxy/internal/health"
)

// HealthHandler serves the health report and maintenance actions.
type HealthHandler struct {
	aggregator *health.Aggregator
	breakers   *breaker.Registry
	cache      *cache.Cache
	logger     zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(aggregator *health.Aggregator, breakers *breaker.Registry, store *cache.Cache, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		aggregator: aggregator,
		breakers:   breakers,
		cache:      store,
		logger:     logger,
	}
}

// Report handles GET /health.
func (h *HealthHandler) Report(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.aggregator.Report(r.Context()))
}

// Action handles POST /health?action=... maintenance operations.
func (h *HealthHandler) Action(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")

	var message string
	switch action {
	case models.HealthActionResetBreakers:
		h.breakers.ResetAll()
		message = "all circuit breakers reset to closed"
	case models.HealthActionClearCaches:
		h.cache.ClearAll()
		message = "all cache namespaces cleared"
	case models.HealthActionFullReset:
		h.breakers.ResetAll()
		h.cache.ClearAll()
		message = "circuit breakers reset and caches cleared"
	default:
		response.BadRequest(w, r, "unknown maintenance action", []models.FieldError{
			{Field: "action", Message: "must be one of reset-circuit-breakers, clear-caches, full-reset", Code: "INVALID"},
		})
		return
	}

	h.logger.Info().Str("action", action).Msg("maintenance action executed")
	response.JSON(w, r, http.StatusOK, models.HealthActionResponse{Message: message})
}
