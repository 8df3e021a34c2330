// Package dispatch contains the background delivery side of the pipeline:
// a worker that drains the queue into batches and a dispatcher that fans
// each batch out to every configured destination concurrently, retrying
// failures per destination with exponential backoff.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/logflume/logflume/pkg/logflume/event"
)

// Destination is an output that durably receives delivered batches, such as
// the console, a file, or a remote aggregator. Implementations must tolerate
// being called with an empty batch and must be safe for use from a single
// delivery goroutine.
type Destination interface {
	// Name identifies the destination in records, logs and metrics.
	Name() string

	// Write delivers a batch. A nil return acknowledges every event in it.
	Write(ctx context.Context, batch []*event.Event) error

	// Close releases resources. Write is not called after Close.
	Close() error
}

// Record is a snapshot of one destination's delivery bookkeeping.
type Record struct {
	// Name is the destination identity.
	Name string

	// DeliveredBatches and DeliveredEvents count acknowledged deliveries.
	DeliveredBatches int64
	DeliveredEvents  int64

	// FailedBatches and FailedEvents count batches lost for this
	// destination, whether by retry exhaustion or a full delivery channel.
	FailedBatches int64
	FailedEvents  int64

	// ConsecutiveFailures counts delivery cycles failed in a row; reset on
	// success.
	ConsecutiveFailures int

	// LastError is the most recent failure, nil if the last cycle succeeded.
	LastError error

	// LastAttempt is when the most recent delivery cycle finished.
	LastAttempt time.Time

	// NextRetry is when the destination's backoff allows the next attempt,
	// zero when the destination is healthy.
	NextRetry time.Time
}

// destState is the mutable bookkeeping behind a Record.
type destState struct {
	mu  sync.Mutex
	rec Record
}

func newDestState(name string) *destState {
	return &destState{rec: Record{Name: name}}
}

func (s *destState) recordSuccess(events int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.DeliveredBatches++
	s.rec.DeliveredEvents += int64(events)
	s.rec.ConsecutiveFailures = 0
	s.rec.LastError = nil
	s.rec.LastAttempt = time.Now()
	s.rec.NextRetry = time.Time{}
}

func (s *destState) recordFailure(events int, err error, nextRetry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.FailedBatches++
	s.rec.FailedEvents += int64(events)
	s.rec.ConsecutiveFailures++
	s.rec.LastError = err
	s.rec.LastAttempt = time.Now()
	s.rec.NextRetry = nextRetry
}

func (s *destState) snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}
