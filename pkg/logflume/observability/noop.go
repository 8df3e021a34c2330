package observability

import (
	"context"
	"time"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordEnqueue does nothing.
func (NoopMetrics) RecordEnqueue(_ context.Context, _ bool) {}

// RecordDequeue does nothing.
func (NoopMetrics) RecordDequeue(_ context.Context, _ int) {}

// RecordDelivery does nothing.
func (NoopMetrics) RecordDelivery(_ context.Context, _ string, _ int, _ time.Duration, _ error) {}

// RecordBatchLost does nothing.
func (NoopMetrics) RecordBatchLost(_ context.Context, _ string, _ int) {}

// RecordCacheAccess does nothing.
func (NoopMetrics) RecordCacheAccess(_ context.Context, _ bool, _ bool) {}
