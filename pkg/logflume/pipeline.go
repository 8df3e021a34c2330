package logflume

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/logflume/logflume/pkg/logflume/config"
	"github.com/logflume/logflume/pkg/logflume/destination"
	"github.com/logflume/logflume/pkg/logflume/dispatch"
	"github.com/logflume/logflume/pkg/logflume/event"
	"github.com/logflume/logflume/pkg/logflume/memo"
	"github.com/logflume/logflume/pkg/logflume/observability"
	"github.com/logflume/logflume/pkg/logflume/queue"
)

// Pipeline is the assembled logging pipeline: a bounded event queue fed by
// producers, a background worker that drains it into batches, a dispatcher
// delivering each batch to every destination with per-destination retries,
// and a memoizing cache for enrichment lookups.
//
// Producers only ever touch the queue; destination failures are retried,
// recorded, and never surface on the enqueue path.
//
// All methods are safe for concurrent use.
type Pipeline struct {
	opts       Options
	queue      *queue.BoundedQueue
	cache      *memo.Cache[string, any]
	dispatcher *dispatch.Dispatcher
	worker     *dispatch.Worker

	started time.Time
	closed  atomic.Bool
}

// Stats is a point-in-time snapshot of the whole pipeline.
type Stats struct {
	// Queue holds the acceptance counters and occupancy.
	Queue queue.Stats

	// Cache holds the enrichment cache counters.
	Cache memo.Stats

	// Destinations holds per-destination delivery records.
	Destinations []dispatch.Record

	// Uptime is the time since New.
	Uptime time.Duration
}

// New creates and starts a pipeline delivering to the given destinations.
// The pipeline takes ownership of them: they are closed during Shutdown.
func New(opts Options, destinations ...dispatch.Destination) (*Pipeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := observability.PipelineLogger(opts.Logger, opts.Name)

	q, err := queue.New(queue.Config{
		Capacity:     opts.QueueCapacity,
		Policy:       opts.OverflowPolicy,
		SamplingRate: opts.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}

	cache, err := memo.New[string, any](memo.Config{
		MaxEntries:         opts.CacheMaxEntries,
		TTL:                opts.CacheTTL,
		ErrorRetryInterval: opts.CacheErrorRetryInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}

	d, err := dispatch.NewDispatcher(dispatch.DispatcherConfig{
		RetryMax:       opts.RetryMax,
		RetryBaseDelay: opts.RetryBaseDelay,
		Logger:         logger,
		Metrics:        opts.Metrics,
	}, destinations)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}

	w, err := dispatch.NewWorker(dispatch.WorkerConfig{
		BatchSize:    opts.BatchSize,
		BatchTimeout: opts.BatchTimeout,
		Logger:       logger,
		Metrics:      opts.Metrics,
	}, q, d)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}

	p := &Pipeline{
		opts:       opts,
		queue:      q,
		cache:      cache,
		dispatcher: d,
		worker:     w,
		started:    time.Now(),
	}
	p.opts.Logger = logger

	d.Start()
	w.Start()
	observability.LogPipelineStart(logger, opts.QueueCapacity, opts.OverflowPolicy.String(), len(destinations))
	return p, nil
}

// NewFromConfig builds a pipeline from a loaded configuration: Options from
// the top-level keys and destinations from the "destinations" list via the
// registry. A nil registry means destination.DefaultRegistry.
func NewFromConfig(cfg config.Config, reg *destination.Registry) (*Pipeline, error) {
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	if reg == nil {
		reg = destination.DefaultRegistry()
	}
	dests, err := reg.BuildAll(cfg.SectionSlice("destinations"))
	if err != nil {
		return nil, err
	}

	p, err := New(opts, dests...)
	if err != nil {
		for _, d := range dests {
			d.Close()
		}
		return nil, err
	}
	return p, nil
}

// Enqueue offers an event to the queue and reports the outcome decided by
// the overflow policy. It never waits on destinations and never reports
// their failures; once an event is Accepted, delivery is the background
// worker's problem.
//
// Under the Block policy, ctx bounds the wait for space.
func (p *Pipeline) Enqueue(ctx context.Context, evt *event.Event) (queue.Outcome, error) {
	if ctx == nil {
		return queue.Dropped, ErrNilContext
	}
	if p.closed.Load() {
		return queue.Dropped, ErrPipelineClosed
	}

	outcome := p.queue.Enqueue(ctx, evt)
	if p.opts.Metrics != nil {
		p.opts.Metrics.RecordEnqueue(ctx, outcome == queue.Accepted)
	}
	return outcome, nil
}

// Emit builds an event from the fields and enqueues it.
func (p *Pipeline) Emit(ctx context.Context, fields ...event.Field) (queue.Outcome, error) {
	return p.Enqueue(ctx, event.New(fields))
}

// Enrich returns the cached enrichment value for key, computing it at most
// once concurrently. Successful results are served from cache until the
// TTL passes; failed results are served as errors until the error retry
// interval passes, so a struggling lookup backend is not hammered.
//
// A caller whose ctx ends while another caller's computation is in flight
// gets its ctx error; the computation itself continues for the others.
func (p *Pipeline) Enrich(ctx context.Context, key string, compute func(context.Context) (any, error)) (any, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if p.closed.Load() {
		return nil, ErrPipelineClosed
	}

	ctx, span := observability.StartEnrichSpan(ctx, key)

	var invoked atomic.Bool
	value, err := p.cache.GetOrCompute(ctx, key, func(ctx context.Context) (any, error) {
		invoked.Store(true)
		return compute(ctx)
	})
	observability.EndSpanWithError(span, err)

	if p.opts.Metrics != nil {
		hit := !invoked.Load() && err == nil
		p.opts.Metrics.RecordCacheAccess(ctx, hit, err != nil)
	}
	return value, err
}

// InvalidateEnrichment drops the cached value for key, if any.
func (p *Pipeline) InvalidateEnrichment(key string) {
	p.cache.Invalidate(key)
}

// Stats returns a snapshot of the queue, cache, and destination records.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Queue:        p.queue.Stats(),
		Cache:        p.cache.Stats(),
		Destinations: p.dispatcher.Records(),
		Uptime:       time.Since(p.started),
	}
}

// Shutdown drains and stops the pipeline: the queue closes so producers
// stop being accepted, buffered events are flushed into final batches, and
// pending deliveries get until ctx ends to finish. After ctx expires,
// remaining deliveries are abandoned and recorded as failures.
//
// Shutdown is idempotent; only the first call drains. It returns ctx's
// error if the grace period expired, nil otherwise.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	done := observability.TimedOperation()

	p.queue.Close()
	p.worker.Stop()
	p.dispatcher.Drain(ctx)

	drained := p.queue.Len() == 0
	observability.LogPipelineStop(p.opts.Logger, drained, done())
	return ctx.Err()
}

// Close shuts the pipeline down with the configured ShutdownTimeout.
func (p *Pipeline) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.ShutdownTimeout)
	defer cancel()
	return p.Shutdown(ctx)
}
