// Package config loads runtime configuration from the environment. The
// process owns no config files; everything arrives as flat environment
// variables suitable for container deployment.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config is the full runtime configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int `koanf:"app_port"`

	// Environment names the deployment environment (development, production).
	Environment string `koanf:"app_env"`

	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`

	// GoogleAPIKey authenticates against the primary provider. Required.
	GoogleAPIKey string `koanf:"google_api_key"`

	// OpenRouterAPIKey authenticates against the secondary provider.
	OpenRouterAPIKey string `koanf:"openrouter_api_key"`

	// FallbackEnabled gates the secondary provider.
	FallbackEnabled bool `koanf:"fallback_enabled"`

	// AllowedModels is the comma-separated model allow-list. Empty allows
	// every known model.
	AllowedModels []string `koanf:"allowed_models"`

	// DatabaseURL enables the Postgres quota store when set; quotas are kept
	// in memory otherwise.
	DatabaseURL string `koanf:"database_url"`

	// FeedHealthURL, when set, adds a content-feed reachability check to the
	// health report.
	FeedHealthURL string `koanf:"feed_health_url"`

	// TextCacheTTLSeconds and ImageCacheTTLSeconds override the response
	// cache lifetimes.
	TextCacheTTLSeconds  int `koanf:"text_cache_ttl_seconds"`
	ImageCacheTTLSeconds int `koanf:"image_cache_ttl_seconds"`

	// CacheMaxEntries bounds each cache namespace.
	CacheMaxEntries int `koanf:"cache_max_entries"`

	// CacheSweepSchedule is the cron expression for the expired-entry sweep.
	CacheSweepSchedule string `koanf:"cache_sweep_schedule"`

	// BreakerFailureThreshold and BreakerCooldownSeconds tune the provider
	// circuit breakers.
	BreakerFailureThreshold int `koanf:"breaker_failure_threshold"`
	BreakerCooldownSeconds  int `koanf:"breaker_cooldown_seconds"`

	// QuotaLimitDefault, QuotaLimitPro and QuotaLimitEnterprise are the
	// monthly ceilings per user tier.
	QuotaLimitDefault    int `koanf:"quota_limit_default"`
	QuotaLimitPro        int `koanf:"quota_limit_pro"`
	QuotaLimitEnterprise int `koanf:"quota_limit_enterprise"`

	// RolloutPercentages maps business types to 0-100 rollout values, parsed
	// from "type:percent" pairs ("blog:100,ecommerce:25"). Consumed by
	// upstream callers deciding whether to route into this service; carried
	// here opaquely and surfaced on the health endpoint.
	RolloutPercentages map[string]int `koanf:"-"`

	// Telemetry settings.
	TelemetryEnabled bool   `koanf:"telemetry_enabled"`
	OTLPEndpoint     string `koanf:"otel_exporter_otlp_endpoint"`
	ServiceName      string `koanf:"service_name"`
	ServiceVersion   string `koanf:"service_version"`
}

// Defaults applied when the environment leaves a value unset.
const (
	DefaultPort               = 8080
	DefaultLogLevel           = "info"
	DefaultTextCacheTTL       = 300
	DefaultImageCacheTTL      = 3600
	DefaultCacheSweepSchedule = "*/5 * * * *"
	DefaultServiceName        = "aiproxy"
)

// Load reads configuration from the environment.
func Load() (*Config, error) {
	return load(env.Provider("", ".", strings.ToLower))
}

// load is the provider-injectable core, used by tests.
func load(provider koanf.Provider) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	applyDefaults(k)

	// Comma-separated lists arrive as plain strings from the environment.
	if raw := strings.TrimSpace(k.String("allowed_models")); raw != "" {
		k.Set("allowed_models", splitList(raw))
	} else {
		k.Set("allowed_models", []string{})
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	rollout, err := parseRollout(k.String("rollout_percentages"))
	if err != nil {
		return nil, err
	}
	cfg.RolloutPercentages = rollout

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"app_port":                DefaultPort,
		"app_env":                 "development",
		"log_level":               DefaultLogLevel,
		"fallback_enabled":        true,
		"text_cache_ttl_seconds":  DefaultTextCacheTTL,
		"image_cache_ttl_seconds": DefaultImageCacheTTL,
		"cache_sweep_schedule":    DefaultCacheSweepSchedule,
		"service_name":            DefaultServiceName,
		"service_version":         "dev",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.GoogleAPIKey) == "" {
		return fmt.Errorf("GOOGLE_API_KEY is required")
	}
	if c.FallbackEnabled && strings.TrimSpace(c.OpenRouterAPIKey) == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required when FALLBACK_ENABLED is true")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("APP_PORT %d is out of range", c.Port)
	}
	return nil
}

// TextCacheTTL returns the text cache lifetime as a duration.
func (c *Config) TextCacheTTL() time.Duration {
	return time.Duration(c.TextCacheTTLSeconds) * time.Second
}

// ImageCacheTTL returns the image cache lifetime as a duration.
func (c *Config) ImageCacheTTL() time.Duration {
	return time.Duration(c.ImageCacheTTLSeconds) * time.Second
}

// BreakerCooldown returns the breaker cooldown as a duration; zero means use
// the breaker package default.
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSeconds) * time.Second
}

// TierLimits assembles the per-tier quota table from the configured values.
// Unset tiers fall back to the quota package default at lookup time.
func (c *Config) TierLimits() map[string]int {
	limits := make(map[string]int)
	if c.QuotaLimitDefault > 0 {
		limits["free"] = c.QuotaLimitDefault
	}
	if c.QuotaLimitPro > 0 {
		limits["pro"] = c.QuotaLimitPro
	}
	if c.QuotaLimitEnterprise > 0 {
		limits["enterprise"] = c.QuotaLimitEnterprise
	}
	return limits
}

// RolloutFor returns the rollout percentage for a business type, defaulting
// to fully rolled out when the type is not configured.
func (c *Config) RolloutFor(businessType string) int {
	if pct, ok := c.RolloutPercentages[businessType]; ok {
		return pct
	}
	return 100
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseRollout(raw string) (map[string]int, error) {
	rollout := make(map[string]int)
	for _, pair := range splitList(raw) {
		name, value, found := strings.Cut(pair, ":")
		if !found {
			return nil, fmt.Errorf("ROLLOUT_PERCENTAGES entry %q is not type:percent", pair)
		}
		pct, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || pct < 0 || pct > 100 {
			return nil, fmt.Errorf("ROLLOUT_PERCENTAGES entry %q must be an integer 0-100", pair)
		}
		rollout[strings.TrimSpace(name)] = pct
	}
	return rollout, nil
}
