// Package main provides the entrypoint for the generation proxy API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/nevisai/aiproxy/internal/api"
	"github.com/nevisai/aiproxy/internal/api/middleware"
	"github.com/nevisai/aiproxy/internal/breaker"
	"github.com/nevisai/aiproxy/internal/cache"
	"github.com/nevisai/aiproxy/internal/config"
	"github.com/nevisai/aiproxy/internal/database"
	"github.com/nevisai/aiproxy/internal/generation"
	"github.com/nevisai/aiproxy/internal/health"
	"github.com/nevisai/aiproxy/internal/provider/google"
	"github.com/nevisai/aiproxy/internal/provider/openrouter"
	"github.com/nevisai/aiproxy/internal/quota"
	"github.com/nevisai/aiproxy/internal/resilience"
	"github.com/nevisai/aiproxy/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}

	logLevel, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	log := zerolog.New(os.Stdout).
		Level(logLevel).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Str("environment", cfg.Environment).
		Msg("starting generation proxy")

	ctx := context.Background()

	// Initialize OpenTelemetry
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TelemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	generationMetrics, err := generation.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize generation metrics")
		os.Exit(1)
	}

	// Core resilience state: one registry, one cache, one quota ledger for
	// the process lifetime, handed to every collaborator by reference.
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown(),
	})
	responseCache := cache.New(cfg.CacheMaxEntries)

	var checks []health.Check

	quotaStore, quotaSweep, pool := buildQuotaStore(ctx, cfg, log, &checks)
	if pool != nil {
		defer pool.Close()
	}

	if cfg.FeedHealthURL != "" {
		feedClient := resilience.NewClient(resilience.Config{
			Name:   "content-feed",
			Logger: log,
		})
		checks = append(checks, health.CheckFunc{
			CheckName: "content-feed",
			Fn: func(ctx context.Context) error {
				return feedClient.Ping(ctx, cfg.FeedHealthURL)
			},
		})
	}

	service := generation.NewService(generation.Config{
		Primary: google.NewClient(google.ClientConfig{
			APIKey: cfg.GoogleAPIKey,
			Logger: log,
		}),
		Secondary: openrouter.NewClient(openrouter.ClientConfig{
			APIKey: cfg.OpenRouterAPIKey,
			Logger: log,
		}),
		FallbackEnabled: cfg.FallbackEnabled,
		Breakers:        breakers,
		Cache:           responseCache,
		Quota:           quotaStore,
		Limits:          cfg.TierLimits(),
		AllowedModels:   cfg.AllowedModels,
		TextTTL:         cfg.TextCacheTTL(),
		ImageTTL:        cfg.ImageCacheTTL(),
		Metrics:         generationMetrics,
		Logger:          log,
	})

	aggregator := health.NewAggregator(health.Config{
		Breakers: breakers,
		Cache:    responseCache,
		Checks:   checks,
		Logger:   log,
	})

	// Periodic sweeps keep expired cache entries and stale quota periods
	// from accumulating between reads.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CacheSweepSchedule, func() {
		if removed := responseCache.Sweep(); removed > 0 {
			log.Debug().Int("removed", removed).Msg("swept expired cache entries")
		}
		if quotaSweep != nil {
			quotaSweep()
		}
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.CacheSweepSchedule).Msg("invalid sweep schedule")
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := api.NewRouter(api.RouterConfig{
		Logger:      log,
		ServiceName: cfg.ServiceName,
		Metrics:     metrics,
		Generation:  service,
		Health:      aggregator,
		Breakers:    breakers,
		Cache:       responseCache,
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // image generation is slow
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Bool("fallback_enabled", cfg.FallbackEnabled).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

// buildQuotaStore selects the quota backend: Postgres when DATABASE_URL is
// configured (with a DB ping health check), process-local memory otherwise.
func buildQuotaStore(ctx context.Context, cfg *config.Config, log zerolog.Logger, checks *[]health.Check) (quota.Store, func(), *pgxpool.Pool) {
	if cfg.DatabaseURL == "" {
		log.Info().Msg("no DATABASE_URL configured, keeping quotas in memory")
		store := quota.NewMemoryStore()
		return store, func() { store.Sweep() }, nil
	}

	pool, err := database.Connect(ctx, database.Config{DSN: cfg.DatabaseURL})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	log.Info().Msg("database connected, using persistent quota store")

	*checks = append(*checks, health.CheckFunc{
		CheckName: "database",
		Fn:        pool.Ping,
	})

	return quota.NewPostgresStore(pool), nil, pool
}
