package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nevisai/aiproxy/internal/api/models"
	"github.com/nevisai/aiproxy/internal/api/response"
	"github.com/nevisai/aiproxy/internal/generation"
)

// QuotaHandler serves per-user quota lookups.
type QuotaHandler struct {
	service *generation.Service
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(service *generation.Service) *QuotaHandler {
	return &QuotaHandler{service: service}
}

// Get handles GET /quota/{userId}. The optional tier query parameter selects
// the ceiling to report against.
func (h *QuotaHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userId"))
	if userID == "" {
		response.BadRequest(w, r, "userId is required", nil)
		return
	}

	rec, err := h.service.Usage(r.Context(), userID, r.URL.Query().Get("tier"))
	if err != nil {
		response.InternalError(w, r, "failed to load quota record")
		return
	}

	response.JSON(w, r, http.StatusOK, models.QuotaResponse{
		UserID:       rec.UserID,
		Month:        rec.PeriodKey,
		CurrentUsage: rec.Used,
		MonthlyLimit: rec.Limit,
		Remaining:    rec.Remaining(),
	})
}
