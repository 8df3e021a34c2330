// Package queue provides the bounded buffer between producers and the
// dispatch worker.
//
// Producers enqueue events; a single worker drains them in batches. When the
// queue is full the configured overflow policy decides what happens to the
// incoming event: reject it (Drop), suspend the producer until a slot frees
// up (Block), or accept it probabilistically without ever blocking (Sample).
package queue

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/logflume/logflume/pkg/logflume/event"
)

// Policy determines producer-visible behavior when the queue is at capacity.
type Policy int

const (
	// Drop rejects the incoming event immediately. Existing contents are
	// untouched.
	Drop Policy = iota

	// Block suspends the producer until the worker frees a slot, or until
	// the producer's context is cancelled (the event is then dropped).
	Block

	// Sample accepts the incoming event with the configured probability.
	// Acceptance only succeeds if a concurrent dequeue has freed room;
	// Sample never blocks.
	Sample
)

// String returns the policy name as used in configuration files.
func (p Policy) String() string {
	switch p {
	case Drop:
		return "drop"
	case Block:
		return "block"
	case Sample:
		return "sample"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "drop":
		return Drop, nil
	case "block":
		return Block, nil
	case "sample":
		return Sample, nil
	default:
		return Drop, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Outcome is the producer-visible result of an enqueue attempt.
type Outcome int

const (
	// Accepted means the event entered the queue.
	Accepted Outcome = iota

	// Dropped means the event was rejected by the overflow policy, by
	// cancellation, or because the queue is closed.
	Dropped
)

// String returns the outcome name.
func (o Outcome) String() string {
	if o == Accepted {
		return "accepted"
	}
	return "dropped"
}

// Config configures a BoundedQueue.
type Config struct {
	// Capacity is the fixed queue size. Must be > 0.
	Capacity int

	// Policy is the overflow policy applied when the queue is full.
	Policy Policy

	// SamplingRate is the acceptance probability under the Sample policy.
	// Must be within [0, 1]. Ignored for other policies.
	SamplingRate float64
}

// Stats is a point-in-time snapshot of the queue counters.
type Stats struct {
	Enqueued  int64 // Total events accepted
	Dequeued  int64 // Total events handed to the worker
	Dropped   int64 // Total events rejected
	Occupancy int   // Current number of buffered events
	Capacity  int   // Fixed capacity
}

// BoundedQueue is a fixed-capacity concurrent buffer. The buffered channel
// is the single synchronization point between producers and the worker, so
// occupancy can never exceed capacity.
type BoundedQueue struct {
	cfg   Config
	items chan *event.Event

	closed  atomic.Bool
	closeCh chan struct{}

	enqueued atomic.Int64
	dequeued atomic.Int64
	dropped  atomic.Int64
}

// New creates a bounded queue. Invalid configuration is rejected here so a
// misconfigured pipeline fails at construction, not at runtime.
func New(cfg Config) (*BoundedQueue, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d", cfg.Capacity)
	}
	switch cfg.Policy {
	case Drop, Block:
	case Sample:
		if cfg.SamplingRate < 0 || cfg.SamplingRate > 1 {
			return nil, fmt.Errorf("sampling rate must be within [0, 1], got %g", cfg.SamplingRate)
		}
	default:
		return nil, fmt.Errorf("unknown overflow policy %d", cfg.Policy)
	}

	return &BoundedQueue{
		cfg:     cfg,
		items:   make(chan *event.Event, cfg.Capacity),
		closeCh: make(chan struct{}),
	}, nil
}

// Enqueue offers an event to the queue and reports whether it was accepted.
// Only the Block policy may suspend; the ctx then bounds the wait. Enqueue
// never fails because of downstream destination state.
func (q *BoundedQueue) Enqueue(ctx context.Context, evt *event.Event) Outcome {
	if q.closed.Load() {
		q.dropped.Add(1)
		return Dropped
	}

	switch q.cfg.Policy {
	case Block:
		select {
		case q.items <- evt:
			q.enqueued.Add(1)
			return Accepted
		case <-ctx.Done():
			q.dropped.Add(1)
			return Dropped
		case <-q.closeCh:
			q.dropped.Add(1)
			return Dropped
		}

	case Sample:
		select {
		case q.items <- evt:
			q.enqueued.Add(1)
			return Accepted
		default:
		}
		// Full: accept with probability SamplingRate, and even then only
		// if a concurrent dequeue has made room. Never block.
		if rand.Float64() < q.cfg.SamplingRate {
			select {
			case q.items <- evt:
				q.enqueued.Add(1)
				return Accepted
			default:
			}
		}
		q.dropped.Add(1)
		return Dropped

	default: // Drop
		select {
		case q.items <- evt:
			q.enqueued.Add(1)
			return Accepted
		default:
			q.dropped.Add(1)
			return Dropped
		}
	}
}

// DequeueBatch blocks until at least one event is available, then collects
// further events until maxSize is reached or maxWait has elapsed since the
// first event entered the batch. Batch order equals acceptance order.
//
// Returns nil if ctx is cancelled before any event arrives.
func (q *BoundedQueue) DequeueBatch(ctx context.Context, maxSize int, maxWait time.Duration) []*event.Event {
	var first *event.Event
	select {
	case first = <-q.items:
	case <-ctx.Done():
		return nil
	}

	batch := make([]*event.Event, 0, maxSize)
	batch = append(batch, first)

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	for len(batch) < maxSize {
		select {
		case evt := <-q.items:
			batch = append(batch, evt)
		case <-timer.C:
			q.dequeued.Add(int64(len(batch)))
			return batch
		case <-ctx.Done():
			q.dequeued.Add(int64(len(batch)))
			return batch
		}
	}

	q.dequeued.Add(int64(len(batch)))
	return batch
}

// TryDequeueBatch collects up to maxSize already-buffered events without
// waiting. Used by the worker to drain the queue during shutdown.
func (q *BoundedQueue) TryDequeueBatch(maxSize int) []*event.Event {
	var batch []*event.Event
	for len(batch) < maxSize {
		select {
		case evt := <-q.items:
			batch = append(batch, evt)
		default:
			q.dequeued.Add(int64(len(batch)))
			return batch
		}
	}
	q.dequeued.Add(int64(len(batch)))
	return batch
}

// Len returns the current occupancy.
func (q *BoundedQueue) Len() int {
	return len(q.items)
}

// Capacity returns the fixed capacity.
func (q *BoundedQueue) Capacity() int {
	return q.cfg.Capacity
}

// Stats returns a snapshot of the queue counters.
func (q *BoundedQueue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Dequeued:  q.dequeued.Load(),
		Dropped:   q.dropped.Load(),
		Occupancy: len(q.items),
		Capacity:  q.cfg.Capacity,
	}
}

// Close marks the queue closed and wakes every producer suspended under the
// Block policy; they observe Dropped. Buffered events remain available for
// draining. Close is idempotent.
func (q *BoundedQueue) Close() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	close(q.closeCh)
}
