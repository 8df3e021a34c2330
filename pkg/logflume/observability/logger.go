// Package observability provides structured logging and metrics for the
// pipeline: logging via slog (Go stdlib), metrics via OpenTelemetry.
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// PipelineLogger adds pipeline identity to a logger.
// Returns a new logger with a pipeline field attached.
func PipelineLogger(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("pipeline", name))
}

// LogPipelineStart logs pipeline startup.
func LogPipelineStart(logger *slog.Logger, capacity int, policy string, destinations int) {
	if logger == nil {
		return
	}
	logger.Info("pipeline starting",
		slog.Int("queue_capacity", capacity),
		slog.String("overflow_policy", policy),
		slog.Int("destinations", destinations),
	)
}

// LogPipelineStop logs the completion of a shutdown, with drain outcome.
func LogPipelineStop(logger *slog.Logger, drained bool, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("pipeline stopped",
		slog.Bool("fully_drained", drained),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogBatchDispatched logs a batch handed to the dispatcher.
func LogBatchDispatched(logger *slog.Logger, size int) {
	if logger == nil {
		return
	}
	logger.Debug("batch dispatched",
		slog.Int("batch_size", size),
	)
}

// LogDeliverySuccess logs a successful destination write.
func LogDeliverySuccess(logger *slog.Logger, destination string, events int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("batch delivered",
		slog.String("destination", destination),
		slog.Int("events", events),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDeliveryExhausted logs a batch lost after exhausting retries.
// Recorded per destination; never propagated to producers.
func LogDeliveryExhausted(logger *slog.Logger, destination string, events, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("batch lost after retries",
		slog.String("destination", destination),
		slog.Int("events", events),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogBatchLost logs a batch discarded because a destination's delivery
// channel was full.
func LogBatchLost(logger *slog.Logger, destination string, events int) {
	if logger == nil {
		return
	}
	logger.Warn("batch lost: destination backlogged",
		slog.String("destination", destination),
		slog.Int("events", events),
	)
}

// LogWorkerPanic logs a recovered panic inside the worker or dispatcher.
// Runtime faults are recorded and never terminate the pipeline.
func LogWorkerPanic(logger *slog.Logger, component string, value any) {
	if logger == nil {
		return
	}
	logger.Error("recovered panic",
		slog.String("component", component),
		slog.Any("panic", value),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
