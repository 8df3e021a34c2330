package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/logflume/logflume/pkg/logflume/observability"
	"github.com/logflume/logflume/pkg/logflume/queue"
)

// WorkerConfig configures the batching worker.
type WorkerConfig struct {
	// BatchSize is the maximum events per dispatched batch. Must be > 0.
	BatchSize int

	// BatchTimeout bounds how long a partial batch waits for more events
	// before being dispatched anyway. Must be > 0.
	BatchTimeout time.Duration

	// Logger receives worker diagnostics. Nil disables logging.
	Logger *slog.Logger

	// Metrics receives dequeue metrics. Nil means NoopMetrics.
	Metrics observability.MetricsRecorder
}

// Worker is the single background goroutine that drains the queue into
// batches and hands them to the dispatcher. A batch is cut when it reaches
// BatchSize or when BatchTimeout elapses after its first event, whichever
// comes first.
type Worker struct {
	cfg        WorkerConfig
	queue      *queue.BoundedQueue
	dispatcher *Dispatcher

	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
}

// NewWorker creates a worker draining q into d.
func NewWorker(cfg WorkerConfig, q *queue.BoundedQueue, d *Dispatcher) (*Worker, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.BatchTimeout <= 0 {
		return nil, fmt.Errorf("batch timeout must be positive, got %s", cfg.BatchTimeout)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NoopMetrics{}
	}
	return &Worker{
		cfg:        cfg,
		queue:      q,
		dispatcher: d,
		done:       make(chan struct{}),
	}, nil
}

// Start launches the worker goroutine. Start is idempotent.
func (w *Worker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	go func() {
		defer close(w.done)
		for ctx.Err() == nil {
			w.cycle(ctx)
		}
	}()
}

// cycle collects and dispatches one batch. Panics are contained so a fault
// in one cycle never terminates the worker.
func (w *Worker) cycle(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			observability.LogWorkerPanic(w.cfg.Logger, "worker", p)
		}
	}()

	batch := w.queue.DequeueBatch(ctx, w.cfg.BatchSize, w.cfg.BatchTimeout)
	if len(batch) == 0 {
		return
	}

	w.cfg.Metrics.RecordDequeue(context.Background(), len(batch))
	observability.LogBatchDispatched(w.cfg.Logger, len(batch))
	w.dispatcher.Dispatch(batch)
}

// Stop halts the worker goroutine, then synchronously drains whatever the
// queue still buffers into final batches. The caller closes the queue first
// so no new events arrive during the drain. Stop is idempotent; the second
// and later calls return immediately.
func (w *Worker) Stop() {
	if !w.stopped.CompareAndSwap(false, true) {
		return
	}
	if w.started.Load() {
		w.cancel()
		<-w.done
	}

	for {
		batch := w.queue.TryDequeueBatch(w.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}
		w.cfg.Metrics.RecordDequeue(context.Background(), len(batch))
		observability.LogBatchDispatched(w.cfg.Logger, len(batch))
		w.dispatcher.Dispatch(batch)
	}
}
