package generation

import (
	"errors"
	"fmt"
)

// Predefined errors surfaced to callers.
var (
	// ErrQuotaExceeded means the user is over their monthly limit. Never
	// retried; no provider is contacted.
	ErrQuotaExceeded = errors.New("monthly quota exceeded")

	// ErrModelNotAllowed means the requested model is not on the allow-list
	// or does not match the requested capability.
	ErrModelNotAllowed = errors.New("model not allowed")

	// ErrNoFallback means the primary failed and no secondary mapping exists
	// for the requested model.
	ErrNoFallback = errors.New("no fallback available for model")

	// ErrCircuitOpen means a provider's breaker rejected the call without
	// contacting the provider.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// ExhaustedError is returned when both the primary and the mapped secondary
// provider failed. It carries both failures so the caller can render an
// actionable message.
type ExhaustedError struct {
	Primary   error
	Secondary error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers failed: primary: %v; secondary: %v", e.Primary, e.Secondary)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{e.Primary, e.Secondary}
}
