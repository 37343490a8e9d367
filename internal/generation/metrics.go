package generation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/nevisai/aiproxy/internal/generation"

// Metrics holds the OpenTelemetry instruments for the generation pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	providerDuration metric.Float64Histogram
	providerTotal    metric.Int64Counter
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	fallbacks        metric.Int64Counter
	quotaRejections  metric.Int64Counter
}

// NewMetrics creates the generation pipeline instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	providerDuration, err := meter.Float64Histogram(
		"generation.provider.duration",
		metric.WithDescription("Duration of upstream provider calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	providerTotal, err := meter.Int64Counter(
		"generation.provider.total",
		metric.WithDescription("Total number of upstream provider calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"generation.cache.hit",
		metric.WithDescription("Responses served from the cache"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"generation.cache.miss",
		metric.WithDescription("Requests that missed the cache"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, err
	}

	fallbacks, err := meter.Int64Counter(
		"generation.fallback.total",
		metric.WithDescription("Requests rerouted to the secondary provider"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	quotaRejections, err := meter.Int64Counter(
		"generation.quota.rejected",
		metric.WithDescription("Requests rejected for an exhausted monthly quota"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		providerDuration: providerDuration,
		providerTotal:    providerTotal,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		fallbacks:        fallbacks,
		quotaRejections:  quotaRejections,
	}, nil
}

func (m *Metrics) recordProviderCall(providerName, capability string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider.name", providerName),
		attribute.String("capability", capability),
	}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	// Metrics outlive the request, so the request context is not used here.
	ctx := context.Background()
	m.providerDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.providerTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) recordCacheHit(capability string) {
	if m == nil {
		return
	}
	m.cacheHits.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("capability", capability)))
}

func (m *Metrics) recordCacheMiss(capability string) {
	if m == nil {
		return
	}
	m.cacheMisses.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("capability", capability)))
}

func (m *Metrics) recordFallback(capability string) {
	if m == nil {
		return
	}
	m.fallbacks.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("capability", capability)))
}

func (m *Metrics) recordQuotaRejection(tier string) {
	if m == nil {
		return
	}
	if tier == "" {
		tier = "free"
	}
	m.quotaRejections.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("tier", tier)))
}
