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

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEnqueue records an enqueue attempt and its outcome.
	RecordEnqueue(ctx context.Context, accepted bool)

	// RecordDequeue records events handed to the dispatch worker.
	RecordDequeue(ctx context.Context, events int)

	// RecordDelivery records one delivery attempt cycle for a destination,
	// including its duration and final error status.
	RecordDelivery(ctx context.Context, destination string, events int, duration time.Duration, err error)

	// RecordBatchLost records a batch discarded for a backlogged destination.
	RecordBatchLost(ctx context.Context, destination string, events int)

	// RecordCacheAccess records an enrichment cache access.
	RecordCacheAccess(ctx context.Context, hit bool, errored bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	eventsEnqueued  metric.Int64Counter
	eventsDropped   metric.Int64Counter
	eventsDequeued  metric.Int64Counter
	queueDepth      metric.Int64UpDownCounter
	deliveries      metric.Int64Counter
	deliveryErrors  metric.Int64Counter
	deliveryLatency metric.Float64Histogram
	batchesLost     metric.Int64Counter
	cacheAccesses   metric.Int64Counter
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
	meter := otel.Meter("logflume")

	eventsEnqueued, err := meter.Int64Counter("logflume.queue.enqueued",
		metric.WithDescription("Number of events accepted into the queue"),
	)
	if err != nil {
		return nil, err
	}

	eventsDropped, err := meter.Int64Counter("logflume.queue.dropped",
		metric.WithDescription("Number of events rejected by the overflow policy"),
	)
	if err != nil {
		return nil, err
	}

	eventsDequeued, err := meter.Int64Counter("logflume.queue.dequeued",
		metric.WithDescription("Number of events handed to the dispatch worker"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64UpDownCounter("logflume.queue.depth",
		metric.WithDescription("Current queue occupancy"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter("logflume.destination.deliveries",
		metric.WithDescription("Number of delivery cycles per destination"),
	)
	if err != nil {
		return nil, err
	}

	deliveryErrors, err := meter.Int64Counter("logflume.destination.errors",
		metric.WithDescription("Number of delivery cycles that exhausted retries"),
	)
	if err != nil {
		return nil, err
	}

	deliveryLatency, err := meter.Float64Histogram("logflume.destination.latency_ms",
		metric.WithDescription("Delivery cycle latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	batchesLost, err := meter.Int64Counter("logflume.destination.batches_lost",
		metric.WithDescription("Batches discarded because a destination was backlogged"),
	)
	if err != nil {
		return nil, err
	}

	cacheAccesses, err := meter.Int64Counter("logflume.cache.accesses",
		metric.WithDescription("Enrichment cache accesses by result"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		eventsEnqueued:  eventsEnqueued,
		eventsDropped:   eventsDropped,
		eventsDequeued:  eventsDequeued,
		queueDepth:      queueDepth,
		deliveries:      deliveries,
		deliveryErrors:  deliveryErrors,
		deliveryLatency: deliveryLatency,
		batchesLost:     batchesLost,
		cacheAccesses:   cacheAccesses,
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

// RecordEnqueue records an enqueue attempt.
func (m *otelMetrics) RecordEnqueue(ctx context.Context, accepted bool) {
	if accepted {
		m.eventsEnqueued.Add(ctx, 1)
		m.queueDepth.Add(ctx, 1)
		return
	}
	m.eventsDropped.Add(ctx, 1)
}

// RecordDequeue records events handed to the worker.
func (m *otelMetrics) RecordDequeue(ctx context.Context, events int) {
	m.eventsDequeued.Add(ctx, int64(events))
	m.queueDepth.Add(ctx, -int64(events))
}

// RecordDelivery records a delivery cycle.
func (m *otelMetrics) RecordDelivery(ctx context.Context, destination string, events int, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("destination", destination),
	}

	m.deliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.deliveryLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.deliveryErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordBatchLost records a discarded batch.
func (m *otelMetrics) RecordBatchLost(ctx context.Context, destination string, events int) {
	m.batchesLost.Add(ctx, 1, metric.WithAttributes(
		attribute.String("destination", destination),
	))
}

// RecordCacheAccess records an enrichment cache access.
func (m *otelMetrics) RecordCacheAccess(ctx context.Context, hit bool, errored bool) {
	result := "miss"
	switch {
	case errored:
		result = "error"
	case hit:
		result = "hit"
	}
	m.cacheAccesses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}
