package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SuspensionOutcome labels how a suspension ended.
type SuspensionOutcome string

// Suspension outcome constants.
const (
	OutcomeResolved  SuspensionOutcome = "resolved"
	OutcomeTimedOut  SuspensionOutcome = "timed_out"
	OutcomeCancelled SuspensionOutcome = "cancelled"
)

// MetricsRecorder records eventkit metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records a publish with its duration and error status.
	RecordPublish(ctx context.Context, eventType string, duration time.Duration, err error)

	// RecordDelivery records a delivery of an event to one subscriber.
	RecordDelivery(ctx context.Context, eventType string)

	// RecordCacheAccess records a cache read as a hit or a miss.
	RecordCacheAccess(ctx context.Context, hit bool)

	// RecordEviction records an LRU eviction from the cache.
	RecordEviction(ctx context.Context)

	// RecordSuspension records a settled suspension and its wait time.
	RecordSuspension(ctx context.Context, outcome SuspensionOutcome, wait time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	publishes      metric.Int64Counter
	publishLatency metric.Float64Histogram
	publishErrors  metric.Int64Counter
	deliveries     metric.Int64Counter
	cacheAccesses  metric.Int64Counter
	evictions      metric.Int64Counter
	suspensions    metric.Int64Counter
	suspensionWait metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventkit")

	publishes, err := meter.Int64Counter("eventkit.bus.publishes",
		metric.WithDescription("Number of published events"),
	)
	if err != nil {
		return nil, err
	}

	publishLatency, err := meter.Float64Histogram("eventkit.bus.publish_latency_ms",
		metric.WithDescription("Publish latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	publishErrors, err := meter.Int64Counter("eventkit.bus.publish_errors",
		metric.WithDescription("Number of failed publishes"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("eventkit.bus.deliveries",
		metric.WithDescription("Number of events delivered to subscribers"),
	)
	if err != nil {
		return nil, err
	}

	cacheAccesses, err := meter.Int64Counter("eventkit.cache.accesses",
		metric.WithDescription("Number of cache reads, labeled hit or miss"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter("eventkit.cache.evictions",
		metric.WithDescription("Number of LRU evictions"),
	)
	if err != nil {
		return nil, err
	}

	suspensions, err := meter.Int64Counter("eventkit.suspend.settled",
		metric.WithDescription("Number of settled suspensions, labeled by outcome"),
	)
	if err != nil {
		return nil, err
	}

	suspensionWait, err := meter.Float64Histogram("eventkit.suspend.wait_ms",
		metric.WithDescription("Suspension wait time in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		publishes:      publishes,
		publishLatency: publishLatency,
		publishErrors:  publishErrors,
		deliveries:     deliveries,
		cacheAccesses:  cacheAccesses,
		evictions:      evictions,
		suspensions:    suspensions,
		suspensionWait: suspensionWait,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records a publish.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventType string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("event.type", eventType))
	m.publishes.Add(ctx, 1, attrs)
	m.publishLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.publishErrors.Add(ctx, 1, attrs)
	}
}

// RecordDelivery records a delivery to one subscriber.
func (m *otelMetrics) RecordDelivery(ctx context.Context, eventType string) {
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("event.type", eventType)))
}

// RecordCacheAccess records a cache read.
func (m *otelMetrics) RecordCacheAccess(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheAccesses.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordEviction records an LRU eviction.
func (m *otelMetrics) RecordEviction(ctx context.Context) {
	m.evictions.Add(ctx, 1)
}

// RecordSuspension records a settled suspension.
func (m *otelMetrics) RecordSuspension(ctx context.Context, outcome SuspensionOutcome, wait time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	m.suspensions.Add(ctx, 1, attrs)
	m.suspensionWait.Record(ctx, float64(wait.Milliseconds()), attrs)
}
