package models

// Health maintenance actions accepted by POST /health?action=...
const (
	HealthActionResetBreakers = "reset-circuit-breakers"
	HealthActionClearCaches   = "clear-caches"
	HealthActionFullReset     = "full-reset"
)

// HealthActionResponse acknowledges a maintenance action.
type HealthActionResponse struct {
	Message string `json:"message"`
}
