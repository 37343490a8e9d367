// Package generation orchestrates text and image generation across the
// primary and secondary providers: cache lookup, quota enforcement, circuit
// breaker checks, retry with backoff, and model-mapped fallback.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/nevisai/aiproxy/internal/breaker"
	"github.com/nevisai/aiproxy/internal/cache"
	"github.com/nevisai/aiproxy/internal/provider"
	"github.com/nevisai/aiproxy/internal/quota"
)

// Cache namespaces double as the capability half of breaker identities
// ("google-text", "openrouter-image").
const (
	NamespaceText  = "text"
	NamespaceImage = "image"
)

// Default TTLs for cached responses. Image payloads are much larger and much
// more expensive to regenerate, so they live longer.
const (
	DefaultTextTTL  = 5 * time.Minute
	DefaultImageTTL = time.Hour
)

const (
	// DefaultMaxAttempts bounds total provider calls per request across both
	// providers.
	DefaultMaxAttempts = 3

	// DefaultRetryInterval is the initial backoff between same-provider retries.
	DefaultRetryInterval = 500 * time.Millisecond
)

// ProviderCache is the provider name reported when a response is served from
// the cache rather than a live call.
const ProviderCache = "cache"

// Request is one generation request after transport-level decoding.
type Request struct {
	Prompt      string
	Model       string
	Image       bool
	UserID      string
	UserTier    string
	Temperature float64
	MaxTokens   int
}

// Result is a successful generation outcome.
type Result struct {
	// Data is the response payload in the Gemini candidates format,
	// regardless of which provider produced it.
	Data json.RawMessage

	// ModelUsed is the model that actually served the request, which differs
	// from the requested model when the fallback engaged.
	ModelUsed string

	// ProviderUsed is "google", "openrouter", or "cache".
	ProviderUsed string

	// EndpointUsed is the upstream URL the serving call went to.
	EndpointUsed string
}

// Config holds the orchestrator's collaborators and tuning knobs.
type Config struct {
	// Primary is the Google provider (required).
	Primary provider.Caller

	// Secondary is the OpenRouter provider. May be nil when no fallback is
	// configured.
	Secondary provider.Caller

	// FallbackEnabled gates the secondary provider at runtime without
	// removing its configuration.
	FallbackEnabled bool

	// Breakers tracks per-(provider, capability) circuit breakers (required).
	Breakers *breaker.Registry

	// Cache stores responses keyed by request fingerprint (required).
	Cache *cache.Cache

	// Quota is the per-user monthly ledger (required).
	Quota quota.Store

	// Limits maps user tiers to monthly ceilings.
	Limits quota.Limits

	// AllowedModels restricts which models callers may request. Empty means
	// every known model is allowed.
	AllowedModels []string

	// TextTTL and ImageTTL override the cache lifetimes (optional).
	TextTTL  time.Duration
	ImageTTL time.Duration

	// MaxAttempts bounds total provider calls per request (optional).
	MaxAttempts int

	// RetryInterval is the initial same-provider backoff (optional).
	RetryInterval time.Duration

	// Metrics records pipeline instruments. May be nil.
	Metrics *Metrics

	// Logger for orchestration decisions.
	Logger zerolog.Logger
}

// Service routes generation requests through the resilience pipeline.
type Service struct {
	primary         provider.Caller
	secondary       provider.Caller
	fallbackEnabled bool
	breakers        *breaker.Registry
	cache           *cache.Cache
	quota           quota.Store
	limits          quota.Limits
	allowed         map[string]bool
	allowedOrder    []string
	textTTL         time.Duration
	imageTTL        time.Duration
	maxAttempts     int
	retryInterval   time.Duration
	metrics         *Metrics
	logger          zerolog.Logger

	flights singleflight.Group
}

// NewService creates the orchestrator. Zero-valued tuning fields take the
// package defaults.
func NewService(cfg Config) *Service {
	if cfg.TextTTL <= 0 {
		cfg.TextTTL = DefaultTextTTL
	}
	if cfg.ImageTTL <= 0 {
		cfg.ImageTTL = DefaultImageTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}

	var allowed map[string]bool
	if len(cfg.AllowedModels) > 0 {
		allowed = make(map[string]bool, len(cfg.AllowedModels))
		for _, m := range cfg.AllowedModels {
			allowed[m] = true
		}
	}

	return &Service{
		primary:         cfg.Primary,
		secondary:       cfg.Secondary,
		fallbackEnabled: cfg.FallbackEnabled,
		breakers:        cfg.Breakers,
		cache:           cfg.Cache,
		quota:           cfg.Quota,
		limits:          cfg.Limits,
		allowed:         allowed,
		allowedOrder:    cfg.AllowedModels,
		textTTL:         cfg.TextTTL,
		imageTTL:        cfg.ImageTTL,
		maxAttempts:     cfg.MaxAttempts,
		retryInterval:   cfg.RetryInterval,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
	}
}

// cachedResult is the envelope stored in the cache so hits can report which
// model and endpoint originally served the response.
type cachedResult struct {
	Data     json.RawMessage `json:"data"`
	Model    string          `json:"model"`
	Endpoint string          `json:"endpoint"`
}

// Generate runs one request through the pipeline: cache, quota, primary with
// breaker and retry, then the mapped fallback. Quota is charged only when a
// provider call ultimately succeeds; cache hits are free.
//
// Identical in-flight requests are collapsed so a burst of the same prompt
// results in a single upstream call.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	model, err := s.resolveModel(req)
	if err != nil {
		return nil, err
	}

	ns := NamespaceText
	if req.Image {
		ns = NamespaceImage
	}
	fingerprint := cache.Fingerprint(req.Prompt, string(model), req.Temperature, req.MaxTokens, req.Image)

	if res, ok := s.fromCache(ns, fingerprint); ok {
		s.metrics.recordCacheHit(ns)
		return res, nil
	}
	s.metrics.recordCacheMiss(ns)

	// Quota is checked per caller, before joining a flight, so an exhausted
	// user is turned away even when someone else is already generating the
	// same response.
	limit := s.limits.ForTier(req.UserTier)
	rec, err := s.quota.Usage(ctx, req.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("checking quota for user %s: %w", req.UserID, err)
	}
	if rec.Exhausted() {
		s.metrics.recordQuotaRejection(req.UserTier)
		return nil, fmt.Errorf("user %s at %d/%d for %s: %w",
			req.UserID, rec.Used, rec.Limit, rec.PeriodKey, ErrQuotaExceeded)
	}

	v, err, shared := s.flights.Do(ns+":"+fingerprint, func() (any, error) {
		return s.generate(ctx, req, model, ns, fingerprint, limit)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug().
			Str("namespace", ns).
			Msg("request joined an in-flight generation")
	}
	return v.(*Result), nil
}

// Usage returns the caller's current quota record without mutating it.
func (s *Service) Usage(ctx context.Context, userID, tier string) (quota.Record, error) {
	return s.quota.Usage(ctx, userID, s.limits.ForTier(tier))
}

func (s *Service) resolveModel(req Request) (provider.Model, error) {
	name := strings.TrimSpace(req.Model)
	if name == "" {
		return s.defaultModel(req.Image)
	}

	model, ok := provider.ParseModel(name)
	if !ok {
		return "", fmt.Errorf("model %q is not supported: %w", name, ErrModelNotAllowed)
	}
	if model.IsImage() != req.Image {
		return "", fmt.Errorf("model %q does not support this operation: %w", name, ErrModelNotAllowed)
	}
	if s.allowed != nil && !s.allowed[string(model)] {
		return "", fmt.Errorf("model %q is not enabled: %w", name, ErrModelNotAllowed)
	}
	return model, nil
}

// defaultModel picks the model for requests that name none. The capability
// default is subject to the same allow-list as an explicit model; when the
// allow-list excludes it, the first allowed model with the right capability
// serves instead.
func (s *Service) defaultModel(image bool) (provider.Model, error) {
	def := provider.DefaultModel(image)
	if s.allowed == nil || s.allowed[string(def)] {
		return def, nil
	}
	for _, name := range s.allowedOrder {
		if m, ok := provider.ParseModel(name); ok && m.IsImage() == image {
			return m, nil
		}
	}
	return "", fmt.Errorf("no allowed model supports this operation: %w", ErrModelNotAllowed)
}

func (s *Service) fromCache(ns, fingerprint string) (*Result, bool) {
	payload, ok := s.cache.Get(ns, fingerprint)
	if !ok {
		return nil, false
	}

	var cached cachedResult
	if err := json.Unmarshal(payload, &cached); err != nil {
		// A corrupt entry is dropped and regenerated rather than served.
		s.cache.Invalidate(ns, fingerprint)
		s.logger.Warn().
			Str("namespace", ns).
			Err(err).
			Msg("dropping undecodable cache entry")
		return nil, false
	}

	return &Result{
		Data:         cached.Data,
		ModelUsed:    cached.Model,
		ProviderUsed: ProviderCache,
		EndpointUsed: cached.Endpoint,
	}, true
}

// generate is the single-flight body: primary with retry, classify, fallback,
// then cache fill and quota charge on success.
func (s *Service) generate(ctx context.Context, req Request, model provider.Model, ns, fingerprint string, limit int) (*Result, error) {
	attempts := 0

	// When a fallback exists, the primary may not spend the whole attempt
	// budget; the secondary always gets at least one call.
	primaryBudget := s.maxAttempts
	fallbackModel, haveFallback := model.FallbackModel()
	haveFallback = haveFallback && s.fallbackEnabled && s.secondary != nil
	if haveFallback && s.maxAttempts > 1 {
		primaryBudget = s.maxAttempts - 1
	}

	preq := provider.Request{
		Prompt:      req.Prompt,
		Model:       string(model),
		Image:       req.Image,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	resp, primaryErr := s.callWithRetry(ctx, s.primary, ns, preq, &attempts, primaryBudget)
	if primaryErr == nil {
		return s.finish(ctx, req, ns, fingerprint, limit, resp, s.primary.Name())
	}

	var provErr *provider.Error
	if errors.As(primaryErr, &provErr) && !provErr.Retryable() {
		// The request itself is bad; a different provider will not fix it.
		return nil, primaryErr
	}
	if ctx.Err() != nil {
		return nil, primaryErr
	}

	if !s.fallbackEnabled || s.secondary == nil {
		return nil, primaryErr
	}
	if !haveFallback {
		return nil, fmt.Errorf("primary failed (%v), model %q: %w", primaryErr, model, ErrNoFallback)
	}

	s.metrics.recordFallback(ns)
	s.logger.Info().
		Str("model", string(model)).
		Str("fallback_model", fallbackModel).
		Str("namespace", ns).
		Err(primaryErr).
		Msg("primary provider failed, engaging fallback")

	preq.Model = fallbackModel
	resp, secondaryErr := s.callWithRetry(ctx, s.secondary, ns, preq, &attempts, s.maxAttempts)
	if secondaryErr == nil {
		return s.finish(ctx, req, ns, fingerprint, limit, resp, s.secondary.Name())
	}

	return nil, &ExhaustedError{Primary: primaryErr, Secondary: secondaryErr}
}

// callWithRetry executes calls against one provider until success, a
// non-retryable failure, an open breaker, or the attempt budget is spent.
// Only retryable failures count against the provider's breaker.
func (s *Service) callWithRetry(ctx context.Context, caller provider.Caller, ns string, preq provider.Request, attempts *int, budget int) (*provider.Response, error) {
	cb := s.breakers.Get(caller.Name() + "-" + ns)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInterval
	bo.RandomizationFactor = 0
	bo.Multiplier = 2

	var lastErr error
	for *attempts < budget {
		if !cb.CanExecute() {
			if lastErr != nil {
				return nil, lastErr
			}
			s.logger.Warn().
				Str("service", cb.Service()).
				Msg("circuit breaker rejected call")
			return nil, fmt.Errorf("%s: %w", cb.Service(), ErrCircuitOpen)
		}

		*attempts++
		callStart := time.Now()
		resp, err := caller.Generate(ctx, preq)
		s.metrics.recordProviderCall(caller.Name(), ns, time.Since(callStart), err)
		if err == nil {
			cb.RecordSuccess()
			return resp, nil
		}

		var provErr *provider.Error
		if !errors.As(err, &provErr) {
			// Unclassified transport failure; penalize and give up on this
			// provider.
			cb.RecordFailure()
			return nil, err
		}
		if !provErr.Retryable() {
			// Invalid requests are the caller's fault, not the provider's;
			// the breaker is not penalized, but a half-open trial slot must
			// be handed back or the breaker never sees another verdict.
			cb.ReleaseTrial()
			return nil, err
		}

		cb.RecordFailure()
		lastErr = err

		if provErr.Kind == provider.KindRateLimited {
			// Hammering a rate-limited provider again just burns budget;
			// move on to the fallback instead.
			return nil, err
		}
		if *attempts >= budget {
			return nil, err
		}

		wait := bo.NextBackOff()
		s.logger.Debug().
			Str("service", cb.Service()).
			Dur("backoff", wait).
			Int("attempts", *attempts).
			Msg("retrying provider after transient failure")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%s: %w", cb.Service(), ErrCircuitOpen)
}

// finish caches the response and charges quota, then assembles the result.
func (s *Service) finish(ctx context.Context, req Request, ns, fingerprint string, limit int, resp *provider.Response, providerName string) (*Result, error) {
	envelope, err := json.Marshal(cachedResult{
		Data:     resp.Data,
		Model:    resp.Model,
		Endpoint: resp.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding cache entry: %w", err)
	}

	ttl := s.textTTL
	if req.Image {
		ttl = s.imageTTL
	}
	s.cache.Set(ns, fingerprint, envelope, ttl)

	// The conditional increment keeps the ledger at or below the limit even
	// when concurrent distinct requests raced past the quota gate together.
	rec, applied, err := s.quota.IncrementIfBelow(ctx, req.UserID, limit)
	switch {
	case err != nil:
		// The response was generated; losing one quota tick is better than
		// failing the request after the fact.
		s.logger.Error().
			Str("user_id", req.UserID).
			Err(err).
			Msg("failed to record quota usage")
	case !applied:
		s.logger.Warn().
			Str("user_id", req.UserID).
			Int("used", rec.Used).
			Int("limit", rec.Limit).
			Msg("quota already at limit, charge not recorded")
	}

	return &Result{
		Data:         resp.Data,
		ModelUsed:    resp.Model,
		ProviderUsed: providerName,
		EndpointUsed: resp.Endpoint,
	}, nil
}
