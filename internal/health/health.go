// Package health computes the weighted system health report from breaker
// state, cache effectiveness, and auxiliary dependency checks. Reports are
// recomputed on every query and never persisted.
package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/nevisai/aiproxy/internal/breaker"
	"github.com/nevisai/aiproxy/internal/cache"
)

// Score weights. The four components sum to 100.
const (
	breakerWeight = 40
	cacheWeight   = 30
	auxWeight     = 20
	baseWeight    = 10
)

// Status thresholds on the 0-100 score.
const (
	healthyFloor  = 80
	degradedFloor = 50
)

// DefaultCheckTimeout bounds each auxiliary dependency check.
const DefaultCheckTimeout = 5 * time.Second

// Check is an auxiliary dependency probe (database ping, feed reachability).
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to the Check interface.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// DependencyStatus is the outcome of one auxiliary check.
type DependencyStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Report is the full health snapshot returned to callers.
type Report struct {
	Status          breaker.Health           `json:"status"`
	Score           int                      `json:"score"`
	Breakers        breaker.SystemHealth     `json:"circuitBreakers"`
	Services        map[string]breaker.Stats `json:"services"`
	Cache           map[string]cache.Stats   `json:"cache"`
	CacheHitRatio   float64                  `json:"cacheHitRatio"`
	Dependencies    []DependencyStatus       `json:"dependencies"`
	Recommendations []string                 `json:"recommendations"`
	CheckedAt       time.Time                `json:"checkedAt"`
}

// Aggregator assembles health reports.
type Aggregator struct {
	breakers     *breaker.Registry
	cache        *cache.Cache
	checks       []Check
	checkTimeout time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

// Config holds the aggregator's inputs.
type Config struct {
	Breakers     *breaker.Registry
	Cache        *cache.Cache
	Checks       []Check
	CheckTimeout time.Duration
	Logger       zerolog.Logger
}

// NewAggregator creates an aggregator over the given registry and cache.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultCheckTimeout
	}
	return &Aggregator{
		breakers:     cfg.Breakers,
		cache:        cfg.Cache,
		checks:       cfg.Checks,
		checkTimeout: cfg.CheckTimeout,
		now:          time.Now,
		logger:       cfg.Logger,
	}
}

// Report computes the current health snapshot.
//
// The score sums four components: breaker health (40: HEALTHY=40,
// DEGRADED=20, CRITICAL=0), cache hit ratio (30: >=80% -> 30, >=60% -> 20,
// >=40% -> 10, else 0), auxiliary checks (20, proportional to the healthy
// fraction), and base availability (10, for completing the computation).
func (a *Aggregator) Report(ctx context.Context) Report {
	system := a.breakers.SystemHealth()
	ratio := a.cache.TotalStats().HitRatio()
	deps := a.runChecks(ctx)

	score := breakerScore(system.Overall) + cacheScore(ratio) + auxScore(deps) + baseWeight

	report := Report{
		Status:          statusFor(score),
		Score:           score,
		Breakers:        system,
		Services:        a.breakers.AllStats(),
		Cache:           a.cache.AllStats(),
		CacheHitRatio:   ratio,
		Dependencies:    deps,
		Recommendations: a.recommend(system, ratio, deps),
		CheckedAt:       a.now().UTC(),
	}

	a.logger.Debug().
		Int("score", score).
		Str("status", string(report.Status)).
		Msg("computed health report")
	return report
}

func (a *Aggregator) runChecks(ctx context.Context) []DependencyStatus {
	deps := make([]DependencyStatus, 0, len(a.checks))
	for _, check := range a.checks {
		checkCtx, cancel := context.WithTimeout(ctx, a.checkTimeout)
		err := check.Check(checkCtx)
		cancel()

		status := DependencyStatus{Name: check.Name(), Healthy: err == nil}
		if err != nil {
			status.Detail = err.Error()
			a.logger.Warn().
				Str("check", check.Name()).
				Err(err).
				Msg("dependency check failed")
		}
		deps = append(deps, status)
	}

	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return deps
}

func breakerScore(overall breaker.Health) int {
	switch overall {
	case breaker.HealthHealthy:
		return breakerWeight
	case breaker.HealthDegraded:
		return breakerWeight / 2
	default:
		return 0
	}
}

func cacheScore(ratio float64) int {
	switch {
	case ratio >= 0.8:
		return cacheWeight
	case ratio >= 0.6:
		return 20
	case ratio >= 0.4:
		return 10
	default:
		return 0
	}
}

func auxScore(deps []DependencyStatus) int {
	if len(deps) == 0 {
		// Nothing to check counts as fully healthy rather than penalizing
		// minimal deployments.
		return auxWeight
	}
	healthy := 0
	for _, d := range deps {
		if d.Healthy {
			healthy++
		}
	}
	return auxWeight * healthy / len(deps)
}

func statusFor(score int) breaker.Health {
	switch {
	case score >= healthyFloor:
		return breaker.HealthHealthy
	case score >= degradedFloor:
		return breaker.HealthDegraded
	default:
		return breaker.HealthCritical
	}
}

func (a *Aggregator) recommend(system breaker.SystemHealth, ratio float64, deps []DependencyStatus) []string {
	recs := []string{}

	for _, service := range system.UnhealthyServices {
		recs = append(recs, fmt.Sprintf(
			"circuit breaker for %s is not closed — investigate the upstream provider", service))
	}
	if ratio < 0.4 {
		recs = append(recs,
			"cache hit rate is low — consider longer TTLs or normalizing prompts before submission")
	}
	for _, d := range deps {
		if !d.Healthy {
			recs = append(recs, fmt.Sprintf("dependency %s is unhealthy: %s", d.Name, d.Detail))
		}
	}
	return recs
}
