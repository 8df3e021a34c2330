package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/logflume/logflume/pkg/logflume/errors"
	"github.com/logflume/logflume/pkg/logflume/event"
	"github.com/logflume/logflume/pkg/logflume/observability"
)

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// RetryMax is the number of retry attempts after the first failed
	// write. Must be >= 0.
	RetryMax int

	// RetryBaseDelay is the backoff before the first retry; it doubles on
	// each subsequent attempt. Must be > 0.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the exponential backoff.
	// Default: 30 seconds.
	RetryMaxDelay time.Duration

	// ChannelDepth is how many pending batches each destination may have
	// queued before further batches are counted lost for it.
	// Default: 16.
	ChannelDepth int

	// Logger receives delivery diagnostics. Nil disables logging.
	Logger *slog.Logger

	// Metrics receives delivery metrics. Nil means NoopMetrics.
	Metrics observability.MetricsRecorder
}

// DefaultDispatcherConfig provides reasonable defaults.
var DefaultDispatcherConfig = DispatcherConfig{
	RetryMax:       3,
	RetryBaseDelay: 500 * time.Millisecond,
	RetryMaxDelay:  30 * time.Second,
	ChannelDepth:   16,
}

// Dispatcher fans batches out to every configured destination concurrently
// and independently. Each destination gets its own delivery goroutine and a
// bounded channel of pending batches, so per-destination order is preserved
// while one destination's stall can never delay another. A stalled
// destination whose channel overflows loses batches for itself only.
//
// Delivery failures are retried with exponential backoff and, once retries
// are exhausted, recorded; nothing is ever raised back to producers.
type Dispatcher struct {
	cfg     DispatcherConfig
	runners []*runner

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	// lanesMu orders Dispatch sends against Drain closing the lanes: Drain
	// sets drained, then takes the write lock before closing, so a Dispatch
	// holding the read lock either sees drained or finishes its sends first.
	lanesMu sync.RWMutex
	drained atomic.Bool
}

// runner is one destination's delivery lane.
type runner struct {
	dest  Destination
	ch    chan []*event.Event
	state *destState
}

// NewDispatcher creates a dispatcher for the given destinations. The
// dispatcher takes ownership of them: Close is called on each during Drain.
func NewDispatcher(cfg DispatcherConfig, destinations []Destination) (*Dispatcher, error) {
	if cfg.RetryMax < 0 {
		return nil, fmt.Errorf("retry max must not be negative, got %d", cfg.RetryMax)
	}
	if cfg.RetryBaseDelay <= 0 {
		return nil, fmt.Errorf("retry base delay must be positive, got %s", cfg.RetryBaseDelay)
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultDispatcherConfig.RetryMaxDelay
	}
	if cfg.ChannelDepth <= 0 {
		cfg.ChannelDepth = DefaultDispatcherConfig.ChannelDepth
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}

	seen := make(map[string]bool, len(destinations))
	runners := make([]*runner, 0, len(destinations))
	for _, dest := range destinations {
		if dest == nil {
			return nil, fmt.Errorf("nil destination")
		}
		name := dest.Name()
		if seen[name] {
			return nil, fmt.Errorf("duplicate destination name %q", name)
		}
		seen[name] = true
		runners = append(runners, &runner{
			dest:  dest,
			ch:    make(chan []*event.Event, cfg.ChannelDepth),
			state: newDestState(name),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		runners: runners,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the per-destination delivery goroutines. Start is
// idempotent.
func (d *Dispatcher) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	for _, r := range d.runners {
		d.wg.Add(1)
		go func(r *runner) {
			defer d.wg.Done()
			for batch := range r.ch {
				d.deliver(d.ctx, r, batch)
			}
		}(r)
	}
}

// Dispatch hands a batch to every destination's delivery lane. It never
// blocks: if a destination's lane is full the batch is counted lost for
// that destination only. After Drain the lanes are gone, so the batch is
// counted lost for every destination. Empty batches are ignored.
func (d *Dispatcher) Dispatch(batch []*event.Event) {
	if len(batch) == 0 {
		return
	}

	d.lanesMu.RLock()
	defer d.lanesMu.RUnlock()

	if d.drained.Load() {
		for _, r := range d.runners {
			d.loseBatch(r, batch, "dispatcher drained")
		}
		return
	}

	for _, r := range d.runners {
		select {
		case r.ch <- batch:
		default:
			d.loseBatch(r, batch, "delivery channel full")
		}
	}
}

// loseBatch records a batch that never reached a destination's lane.
func (d *Dispatcher) loseBatch(r *runner, batch []*event.Event, reason string) {
	r.state.recordFailure(len(batch),
		errors.Permanent(fmt.Errorf("%s", reason), r.dest.Name()),
		time.Time{})
	d.cfg.Metrics.RecordBatchLost(context.Background(), r.dest.Name(), len(batch))
	observability.LogBatchLost(d.cfg.Logger, r.dest.Name(), len(batch))
}

// deliver runs one delivery cycle: write with bounded retries and
// exponential backoff, then record the outcome. Panics from destination
// code are caught and recorded as permanent failures.
func (d *Dispatcher) deliver(ctx context.Context, r *runner, batch []*event.Event) {
	start := time.Now()
	ctx, span := observability.StartDeliverySpan(ctx, r.dest.Name(), len(batch))

	retryCfg := errors.RetryConfig{
		MaxAttempts:    d.cfg.RetryMax + 1,
		InitialBackoff: d.cfg.RetryBaseDelay,
		MaxBackoff:     d.cfg.RetryMaxDelay,
		BackoffFactor:  2.0,
	}

	result := errors.WithRetryContext(ctx, retryCfg, func(ctx context.Context) error {
		return d.write(ctx, r.dest, batch)
	})

	duration := time.Since(start)
	d.cfg.Metrics.RecordDelivery(context.Background(), r.dest.Name(), len(batch), duration, result.Err)

	if result.Err == nil {
		r.state.recordSuccess(len(batch))
		observability.LogDeliverySuccess(d.cfg.Logger, r.dest.Name(), len(batch),
			float64(duration.Milliseconds()))
		observability.EndSpanWithError(span, nil)
		return
	}

	exhausted := &errors.ExhaustedError{
		Destination: r.dest.Name(),
		Attempts:    result.Attempts,
		Err:         result.Err,
	}
	r.state.recordFailure(len(batch), exhausted, time.Now().Add(d.cfg.RetryBaseDelay))
	observability.LogDeliveryExhausted(d.cfg.Logger, r.dest.Name(), len(batch), result.Attempts, exhausted)
	observability.EndSpanWithError(span, exhausted)
}

// write performs a single panic-safe write attempt.
func (d *Dispatcher) write(ctx context.Context, dest Destination, batch []*event.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			observability.LogWorkerPanic(d.cfg.Logger, "destination "+dest.Name(), p)
			err = errors.Permanent(fmt.Errorf("destination panicked: %v", p), dest.Name())
		}
	}()

	if werr := dest.Write(ctx, batch); werr != nil {
		return &errors.DestinationError{
			Destination: dest.Name(),
			BatchSize:   len(batch),
			Err:         werr,
		}
	}
	return nil
}

// Drain stops accepting batches, waits for pending deliveries, then closes
// the destinations. Batches dispatched after Drain are counted lost, never
// delivered. If ctx expires first, in-progress backoff waits and writes are
// cancelled and remaining pending batches are recorded as failures. Drain
// is idempotent.
func (d *Dispatcher) Drain(ctx context.Context) {
	if !d.drained.CompareAndSwap(false, true) {
		return
	}

	// The write lock waits out any Dispatch already sending; every later
	// Dispatch observes drained before touching the lanes.
	d.lanesMu.Lock()
	for _, r := range d.runners {
		close(r.ch)
	}
	d.lanesMu.Unlock()

	if d.started.Load() {
		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			// Grace period over: abort backoffs and in-flight writes.
			d.cancel()
			<-done
		}
	}
	d.cancel()

	for _, r := range d.runners {
		if err := r.dest.Close(); err != nil && d.cfg.Logger != nil {
			d.cfg.Logger.Warn("destination close failed",
				slog.String("destination", r.dest.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Records returns a snapshot of every destination's delivery bookkeeping.
func (d *Dispatcher) Records() []Record {
	records := make([]Record, 0, len(d.runners))
	for _, r := range d.runners {
		records = append(records, r.state.snapshot())
	}
	return records
}
