package logflume

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/logflume/logflume/pkg/logflume/config"
	"github.com/logflume/logflume/pkg/logflume/observability"
	"github.com/logflume/logflume/pkg/logflume/queue"
)

// Options configures a Pipeline. The zero value is not usable; start from
// DefaultOptions or OptionsFromConfig and adjust.
type Options struct {
	// Name identifies the pipeline in log output. Default: "logflume".
	Name string

	// QueueCapacity is the fixed event queue capacity. Default: 1024.
	QueueCapacity int

	// OverflowPolicy decides what happens to an event arriving at a full
	// queue. Default: queue.Drop.
	OverflowPolicy queue.Policy

	// SamplingRate is the acceptance probability under queue.Sample,
	// in [0.0, 1.0]. Default: 0.1.
	SamplingRate float64

	// BatchSize is the maximum events per dispatched batch. Default: 100.
	BatchSize int

	// BatchTimeout bounds how long a partial batch waits before being
	// dispatched anyway. Default: 1 second.
	BatchTimeout time.Duration

	// RetryMax is the number of delivery retries after the first failed
	// write. Default: 3.
	RetryMax int

	// RetryBaseDelay is the first retry backoff; it doubles per attempt.
	// Default: 500 milliseconds.
	RetryBaseDelay time.Duration

	// CacheMaxEntries bounds the enrichment cache. Default: 1024.
	CacheMaxEntries int

	// CacheTTL is how long successful enrichment results stay fresh.
	// Default: 5 minutes.
	CacheTTL time.Duration

	// CacheErrorRetryInterval is how long a failed enrichment result is
	// served from cache before recomputation. Default: 30 seconds.
	CacheErrorRetryInterval time.Duration

	// ShutdownTimeout bounds Close's drain. Default: 5 seconds.
	ShutdownTimeout time.Duration

	// Logger receives pipeline diagnostics. Nil disables logging.
	Logger *slog.Logger

	// Metrics receives pipeline metrics. Nil means no metrics; use
	// observability.NewMetricsRecorder for OpenTelemetry.
	Metrics observability.MetricsRecorder
}

// DefaultOptions returns the standard pipeline configuration.
func DefaultOptions() Options {
	return Options{
		Name:                    "logflume",
		QueueCapacity:           1024,
		OverflowPolicy:          queue.Drop,
		SamplingRate:            0.1,
		BatchSize:               100,
		BatchTimeout:            time.Second,
		RetryMax:                3,
		RetryBaseDelay:          500 * time.Millisecond,
		CacheMaxEntries:         1024,
		CacheTTL:                5 * time.Minute,
		CacheErrorRetryInterval: 30 * time.Second,
		ShutdownTimeout:         5 * time.Second,
	}
}

// OptionsFromConfig builds Options from a loaded configuration, falling
// back to DefaultOptions for anything the file does not set.
//
// Recognized keys: name, queue_maxsize, overflow_policy, sampling_rate,
// batch_size, batch_timeout, retry_max, retry_base_delay,
// cache_max_entries, cache_ttl, cache_error_retry_interval,
// shutdown_timeout.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	opts := DefaultOptions()

	opts.Name = cfg.String("name", opts.Name)
	opts.QueueCapacity = cfg.Int("queue_maxsize", opts.QueueCapacity)
	opts.SamplingRate = cfg.Float("sampling_rate", opts.SamplingRate)
	opts.BatchSize = cfg.Int("batch_size", opts.BatchSize)
	opts.BatchTimeout = cfg.Duration("batch_timeout", opts.BatchTimeout)
	opts.RetryMax = cfg.Int("retry_max", opts.RetryMax)
	opts.RetryBaseDelay = cfg.Duration("retry_base_delay", opts.RetryBaseDelay)
	opts.CacheMaxEntries = cfg.Int("cache_max_entries", opts.CacheMaxEntries)
	opts.CacheTTL = cfg.Duration("cache_ttl", opts.CacheTTL)
	opts.CacheErrorRetryInterval = cfg.Duration("cache_error_retry_interval", opts.CacheErrorRetryInterval)
	opts.ShutdownTimeout = cfg.Duration("shutdown_timeout", opts.ShutdownTimeout)

	if cfg.Has("overflow_policy") {
		policy, err := queue.ParsePolicy(cfg.String("overflow_policy", ""))
		if err != nil {
			return Options{}, fmt.Errorf("%w: %v", ErrInvalidOption, err)
		}
		opts.OverflowPolicy = policy
	}

	return opts, nil
}

// Validate checks the options, wrapping failures in ErrInvalidOption.
func (o Options) Validate() error {
	if o.QueueCapacity <= 0 {
		return fmt.Errorf("%w: queue capacity must be positive, got %d", ErrInvalidOption, o.QueueCapacity)
	}
	if o.SamplingRate < 0 || o.SamplingRate > 1 {
		return fmt.Errorf("%w: sampling rate must be in [0.0, 1.0], got %g", ErrInvalidOption, o.SamplingRate)
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidOption, o.BatchSize)
	}
	if o.BatchTimeout <= 0 {
		return fmt.Errorf("%w: batch timeout must be positive, got %s", ErrInvalidOption, o.BatchTimeout)
	}
	if o.RetryMax < 0 {
		return fmt.Errorf("%w: retry max must not be negative, got %d", ErrInvalidOption, o.RetryMax)
	}
	if o.RetryBaseDelay <= 0 {
		return fmt.Errorf("%w: retry base delay must be positive, got %s", ErrInvalidOption, o.RetryBaseDelay)
	}
	if o.CacheMaxEntries <= 0 {
		return fmt.Errorf("%w: cache max entries must be positive, got %d", ErrInvalidOption, o.CacheMaxEntries)
	}
	if o.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache TTL must be positive, got %s", ErrInvalidOption, o.CacheTTL)
	}
	if o.CacheErrorRetryInterval <= 0 {
		return fmt.Errorf("%w: cache error retry interval must be positive, got %s", ErrInvalidOption, o.CacheErrorRetryInterval)
	}
	if o.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive, got %s", ErrInvalidOption, o.ShutdownTimeout)
	}
	return nil
}
