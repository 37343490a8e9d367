// Package provider defines the domain types shared by AI provider clients:
// the generation request/response shapes, the failure taxonomy used for
// breaker and fallback decisions, and the model allow-list with its
// secondary-provider mapping table.
package provider

import (
	"context"
	"encoding/json"
)

// Provider names as they appear in the provider_used wire field.
const (
	NameGoogle     = "google"
	NameOpenRouter = "openrouter"
)

// Request is one opaque generation call, already validated and normalized.
type Request struct {
	Prompt      string
	Model       string
	Image       bool
	Temperature float64
	MaxTokens   int
}

// Response is a successful provider response. Data carries the provider
// payload in the Gemini candidates shape regardless of which backend served
// the call, so callers see one format.
type Response struct {
	Data     json.RawMessage
	Model    string
	Endpoint string
}

// Caller executes generation requests against one backend.
type Caller interface {
	// Name returns the provider identifier ("google", "openrouter").
	Name() string

	// Generate executes the request. Failures are returned as *Error so the
	// orchestrator can classify them; any other error is treated as
	// non-retryable.
	Generate(ctx context.Context, req Request) (*Response, error)
}
