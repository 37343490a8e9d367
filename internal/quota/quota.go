// Package quota tracks per-user monthly generation quotas. A record counts
// accepted calls within a year-month period; the count resets when the period
// key rolls over.
package quota

import (
	"context"
	"time"
)

// DefaultMonthlyLimit is the per-user ceiling applied when no tier limit matches.
const DefaultMonthlyLimit = 40

// Record is a user's usage within one period.
type Record struct {
	UserID    string `json:"user_id"`
	PeriodKey string `json:"month"`
	Used      int    `json:"current_usage"`
	Limit     int    `json:"monthly_limit"`
}

// Remaining returns how many accepted calls the user has left this period.
func (r Record) Remaining() int {
	remaining := r.Limit - r.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Exhausted reports whether the user has reached their limit.
func (r Record) Exhausted() bool {
	return r.Used >= r.Limit
}

// PeriodKey returns the year-month bucket for the given time, in UTC.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Store is the quota ledger consulted and incremented by the orchestrator.
type Store interface {
	// Usage returns the user's record for the current period without mutating it.
	Usage(ctx context.Context, userID string, limit int) (Record, error)

	// Increment records one accepted call and returns the updated record.
	// Called exactly once per accepted call, after an eventual success.
	Increment(ctx context.Context, userID string, limit int) (Record, error)

	// IncrementIfBelow records one accepted call only while the count is
	// below the limit, atomically with the check, and reports whether the
	// increment was applied. The ledger can never exceed the limit even
	// under concurrent callers.
	IncrementIfBelow(ctx context.Context, userID string, limit int) (Record, bool, error)
}

// Limits resolves a user tier to its monthly ceiling.
type Limits map[string]int

// ForTier returns the limit for the tier, falling back to DefaultMonthlyLimit.
func (l Limits) ForTier(tier string) int {
	if limit, ok := l[tier]; ok && limit > 0 {
		return limit
	}
	return DefaultMonthlyLimit
}
