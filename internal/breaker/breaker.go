// Package breaker implements per-service circuit breakers for AI provider
// calls. The unit of protection is one (provider, capability) pair such as
// "google-text" or "openrouter-image".
package breaker

import (
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	// StateClosed indicates normal operation; calls flow through.
	StateClosed State = "CLOSED"
	// StateOpen indicates the breaker is rejecting calls until the cooldown elapses.
	StateOpen State = "OPEN"
	// StateHalfOpen indicates a limited number of trial calls are permitted.
	StateHalfOpen State = "HALF_OPEN"
)

// Config holds the thresholds for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before permitting trial calls.
	Cooldown time.Duration

	// HalfOpenTrials is the number of trial calls permitted in half-open state.
	// The breaker closes again after this many consecutive successes.
	HalfOpenTrials int
}

// DefaultConfig returns the thresholds used by the registry for new breakers.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenTrials:   1,
	}
}

// CircuitBreaker is a consecutive-failure circuit breaker for one service.
//
// State machine: CLOSED --FailureThreshold consecutive failures--> OPEN
// --Cooldown elapsed--> HALF_OPEN --HalfOpenTrials successes--> CLOSED.
// Any failure in HALF_OPEN reopens the breaker and restarts the cooldown.
//
// All methods are safe for concurrent use; counter updates are guarded by a
// mutex so interleaved requests cannot under-count failures.
type CircuitBreaker struct {
	service string
	cfg     Config
	now     func() time.Time

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInFlight     int
	lastTransition       time.Time
}

// New creates a circuit breaker for the given service identity in the closed state.
func New(service string, cfg Config) *CircuitBreaker {
	return newWithClock(service, cfg, time.Now)
}

func newWithClock(service string, cfg Config, now func() time.Time) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = DefaultConfig().HalfOpenTrials
	}
	return &CircuitBreaker{
		service:        service,
		cfg:            cfg,
		now:            now,
		state:          StateClosed,
		lastTransition: now(),
	}
}

// Service returns the service identity this breaker protects.
func (cb *CircuitBreaker) Service() string {
	return cb.service
}

// CanExecute reports whether a call may be attempted right now.
//
// CLOSED always permits. OPEN permits only once the cooldown has elapsed, in
// which case the breaker moves to HALF_OPEN and the call counts as a trial.
// HALF_OPEN permits while fewer than HalfOpenTrials trials are outstanding.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastTransition) < cb.cfg.Cooldown {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenInFlight = 1
		return true
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenTrials {
			return false
		}
		cb.halfOpenInFlight++
		return true
	}
	return false
}

// RecordSuccess records a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0

	switch cb.state {
	case StateClosed:
		// Nothing further; the failure streak is broken.
	case StateHalfOpen:
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.cfg.HalfOpenTrials {
			cb.transition(StateClosed)
			cb.consecutiveSuccesses = 0
			cb.halfOpenInFlight = 0
		}
	case StateOpen:
		// A success while open (e.g. a call that was already in flight when the
		// breaker tripped) does not close the breaker early.
	}
}

// RecordFailure records a failed call outcome.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveSuccesses = 0

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		// Any trial failure reopens the breaker and restarts the cooldown.
		cb.halfOpenInFlight = 0
		cb.transition(StateOpen)
	case StateOpen:
		// Already open; keep the failure streak for stats.
		cb.consecutiveFailures++
	}
}

// ReleaseTrial hands back a trial slot claimed by CanExecute when the call
// ended in an outcome that is neither a provider success nor a provider
// failure, such as a request the provider rejected as invalid. Without the
// release, a half-open breaker would wait forever for a verdict that is
// never coming. No-op outside HALF_OPEN.
func (cb *CircuitBreaker) ReleaseTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// Reset forces the breaker back to closed with zeroed counters.
// Operator escape hatch, not part of normal request flow.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenInFlight = 0
	cb.transition(StateClosed)
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Service              string    `json:"service"`
	State                State     `json:"state"`
	ConsecutiveFailures  int       `json:"consecutiveFailures"`
	ConsecutiveSuccesses int       `json:"consecutiveSuccesses"`
	LastTransition       time.Time `json:"lastTransition"`
}

// Stats returns a snapshot of the breaker's current state and counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Service:              cb.service,
		State:                cb.state,
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		LastTransition:       cb.lastTransition,
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition moves to a new state and stamps the transition time.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) transition(to State) {
	cb.state = to
	cb.lastTransition = cb.now()
}
