package breaker

import (
	"sort"
	"sync"
	"time"
)

// Health classifies the aggregate state of all breakers in a registry.
type Health string

const (
	// HealthHealthy means every breaker is closed.
	HealthHealthy Health = "HEALTHY"
	// HealthDegraded means at least one breaker is half-open and none are open.
	HealthDegraded Health = "DEGRADED"
	// HealthCritical means at least one breaker is open.
	HealthCritical Health = "CRITICAL"
)

// SystemHealth summarizes the registry for health reporting.
type SystemHealth struct {
	Overall           Health   `json:"overallHealth"`
	UnhealthyServices []string `json:"unhealthyServices"`
}

// Registry holds one circuit breaker per service identity for the process
// lifetime. Breakers are created lazily with default thresholds on first
// reference.
type Registry struct {
	cfg Config
	now func() time.Time

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry that hands out breakers with the given config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		now:      time.Now,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// NewRegistryWithClock creates a registry whose breakers use the supplied
// clock. Intended for tests.
func NewRegistryWithClock(cfg Config, now func() time.Time) *Registry {
	r := NewRegistry(cfg)
	r.now = now
	return r
}

// Get returns the breaker for the given service identity, creating it on first
// reference. Subsequent calls return the same instance.
func (r *Registry) Get(service string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[service]; ok {
		return cb
	}
	cb = newWithClock(service, r.cfg, r.now)
	r.breakers[service] = cb
	return cb
}

// AllStats returns a read-only snapshot of every registered breaker.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for service, cb := range r.breakers {
		stats[service] = cb.Stats()
	}
	return stats
}

// SystemHealth reports the aggregate breaker health: CRITICAL if any breaker
// is open, DEGRADED if any is half-open, HEALTHY otherwise. Services not in
// the closed state are listed as unhealthy.
func (r *Registry) SystemHealth() SystemHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	health := SystemHealth{
		Overall:           HealthHealthy,
		UnhealthyServices: []string{},
	}

	for service, cb := range r.breakers {
		switch cb.State() {
		case StateOpen:
			health.Overall = HealthCritical
			health.UnhealthyServices = append(health.UnhealthyServices, service)
		case StateHalfOpen:
			if health.Overall != HealthCritical {
				health.Overall = HealthDegraded
			}
			health.UnhealthyServices = append(health.UnhealthyServices, service)
		case StateClosed:
		}
	}

	sort.Strings(health.UnhealthyServices)
	return health
}

// ResetAll forces every breaker back to closed with zeroed counters.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// Count returns the number of registered breakers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.breakers)
}
