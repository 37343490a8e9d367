package provider

import (
	"fmt"
	"net/http"
)

// Kind classifies a provider failure for breaker and fallback decisions.
type Kind string

const (
	// KindUnavailable covers 5xx responses, timeouts, and connection errors.
	// Retryable; drives breaker failures and fallback.
	KindUnavailable Kind = "provider_unavailable"

	// KindRateLimited covers 429 responses. Retryable; drives fallback.
	KindRateLimited Kind = "provider_rate_limited"

	// KindInvalidRequest covers other 4xx responses. These are caller errors,
	// not provider-health signals: never retried and never counted against
	// the breaker.
	KindInvalidRequest Kind = "provider_request_invalid"
)

// Error is a classified provider failure. The message never carries
// credentials or raw transport errors; it is safe to surface to callers.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Retryable reports whether the failure should drive a retry or fallback.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable || e.Kind == KindRateLimited
}

// Classify maps an HTTP status code from a provider to a typed failure.
func Classify(providerName string, statusCode int, message string) *Error {
	kind := KindInvalidRequest
	switch {
	case statusCode == http.StatusTooManyRequests:
		kind = KindRateLimited
	case statusCode >= 500:
		kind = KindUnavailable
	}
	return &Error{
		Provider:   providerName,
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
	}
}

// Unavailable builds the failure used for timeouts and connection errors.
func Unavailable(providerName, message string) *Error {
	return &Error{
		Provider: providerName,
		Kind:     KindUnavailable,
		Message:  message,
	}
}
