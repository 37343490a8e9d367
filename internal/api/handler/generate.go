// Package handler provides HTTP handlers for the generation proxy API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nevisai/aiproxy/internal/api/models"
	"github.com/nevisai/aiproxy/internal/api/response"
	"github.com/nevisai/aiproxy/internal/generation"
	"github.com/nevisai/aiproxy/internal/provider"
)

// GenerateHandler handles the text and image generation endpoints.
type GenerateHandler struct {
	service *generation.Service
	logger  zerolog.Logger
}

// NewGenerateHandler creates a new GenerateHandler.
func NewGenerateHandler(service *generation.Service, logger zerolog.Logger) *GenerateHandler {
	return &GenerateHandler{service: service, logger: logger}
}

// GenerateText handles POST /generate-text.
func (h *GenerateHandler) GenerateText(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, false)
}

// GenerateImage handles POST /generate-image.
func (h *GenerateHandler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, true)
}

func (h *GenerateHandler) generate(w http.ResponseWriter, r *http.Request, image bool) {
	var req models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "request body is not valid JSON", nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid generation request", errs)
		return
	}

	result, err := h.service.Generate(r.Context(), generation.Request{
		Prompt:      req.Prompt,
		Model:       req.Model,
		Image:       image,
		UserID:      req.UserID,
		UserTier:    req.UserTier,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, models.GenerateResponse{
		Success:      true,
		Data:         result.Data,
		ModelUsed:    result.ModelUsed,
		ProviderUsed: result.ProviderUsed,
		EndpointUsed: result.EndpointUsed,
		UserCredits:  h.credits(r.Context(), req.UserID, req.UserTier),
	})
}

// credits fetches the caller's quota position for the response envelope. A
// lookup failure is logged rather than failing a generation that already
// succeeded.
func (h *GenerateHandler) credits(ctx context.Context, userID, tier string) models.UserCredits {
	rec, err := h.service.Usage(ctx, userID, tier)
	if err != nil {
		h.logger.Warn().
			Str("user_id", userID).
			Err(err).
			Msg("failed to fetch quota for response")
		return models.UserCredits{}
	}
	return models.UserCredits{
		Month:        rec.PeriodKey,
		CurrentUsage: rec.Used,
		MonthlyLimit: rec.Limit,
		Remaining:    rec.Remaining(),
	}
}

// writeError maps orchestration failures onto the API error contract.
func (h *GenerateHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var provErr *provider.Error
	var exhausted *generation.ExhaustedError

	switch {
	case errors.Is(err, generation.ErrQuotaExceeded):
		response.QuotaExceeded(w, r, err.Error())

	case errors.Is(err, generation.ErrModelNotAllowed):
		response.BadRequest(w, r, err.Error(), nil)

	case errors.Is(err, generation.ErrNoFallback):
		response.ServiceUnavailable(w, r, "the primary provider failed and no fallback is available for the requested model")

	case errors.As(err, &exhausted):
		response.ServiceUnavailable(w, r, "all generation providers are currently unavailable")

	case errors.Is(err, generation.ErrCircuitOpen):
		response.ServiceUnavailable(w, r, "generation is temporarily suspended while the provider recovers")

	case errors.As(err, &provErr):
		switch provErr.Kind {
		case provider.KindInvalidRequest:
			response.BadRequest(w, r, provErr.Message, nil)
		case provider.KindRateLimited:
			response.TooManyRequests(w, r, "the generation provider is rate limiting requests")
		default:
			response.ServiceUnavailable(w, r, "the generation provider is unavailable")
		}

	default:
		h.logger.Error().Err(err).Msg("generation failed")
		response.InternalError(w, r, "generation failed")
	}
}
