package models

import (
	"encoding/json"
	"strings"
)

// GenerateRequest is the request body for POST /generate-text and
// POST /generate-image.
type GenerateRequest struct {
	// Prompt is the generation prompt (required).
	Prompt string `json:"prompt"`

	// UserID identifies the caller for quota accounting (required).
	UserID string `json:"user_id"`

	// Model selects the primary-provider model. Empty picks the default for
	// the capability.
	Model string `json:"model,omitempty"`

	// Temperature is the sampling temperature (optional).
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens bounds the response length (optional).
	MaxTokens int `json:"max_tokens,omitempty"`

	// UserTier selects the quota ceiling (optional).
	UserTier string `json:"user_tier,omitempty"`
}

// Validate checks required fields and returns field errors for a 400.
func (r *GenerateRequest) Validate() []FieldError {
	var errs []FieldError
	if strings.TrimSpace(r.Prompt) == "" {
		errs = append(errs, FieldError{Field: "prompt", Message: "is required", Code: "REQUIRED"})
	}
	if strings.TrimSpace(r.UserID) == "" {
		errs = append(errs, FieldError{Field: "user_id", Message: "is required", Code: "REQUIRED"})
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		errs = append(errs, FieldError{Field: "temperature", Message: "must be between 0 and 2", Code: "OUT_OF_RANGE"})
	}
	if r.MaxTokens < 0 {
		errs = append(errs, FieldError{Field: "max_tokens", Message: "must not be negative", Code: "OUT_OF_RANGE"})
	}
	return errs
}

// UserCredits reports the caller's quota position after the request.
type UserCredits struct {
	Month        string `json:"month"`
	CurrentUsage int    `json:"current_usage"`
	MonthlyLimit int    `json:"monthly_limit"`
	Remaining    int    `json:"remaining"`
}

// QuotaResponse is the response body for GET /quota/{userId}.
type QuotaResponse struct {
	UserID       string `json:"user_id"`
	Month        string `json:"month"`
	CurrentUsage int    `json:"current_usage"`
	MonthlyLimit int    `json:"monthly_limit"`
	Remaining    int    `json:"remaining"`
}

// GenerateResponse is the response body for successful generations.
type GenerateResponse struct {
	Success bool `json:"success"`

	// Data is the response payload in the Gemini candidates format.
	Data json.RawMessage `json:"data"`

	// ModelUsed is the model that served the request.
	ModelUsed string `json:"model_used"`

	// ProviderUsed is "google", "openrouter", or "cache".
	ProviderUsed string `json:"provider_used"`

	// EndpointUsed is the upstream URL the serving call went to.
	EndpointUsed string `json:"endpoint_used"`

	// UserCredits is the caller's quota position.
	UserCredits UserCredits `json:"user_credits"`
}
