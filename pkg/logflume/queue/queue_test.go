package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/logflume/logflume/pkg/logflume/event"
	"github.com/logflume/logflume/pkg/logflume/queue"
)

func newEvent(msg string) *event.Event {
	return event.New([]event.Field{event.String("msg", msg)})
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  queue.Config
	}{
		{"zero capacity", queue.Config{Capacity: 0}},
		{"negative capacity", queue.Config{Capacity: -1}},
		{"sampling rate below zero", queue.Config{Capacity: 1, Policy: queue.Sample, SamplingRate: -0.1}},
		{"sampling rate above one", queue.Config{Capacity: 1, Policy: queue.Sample, SamplingRate: 1.1}},
		{"unknown policy", queue.Config{Capacity: 1, Policy: queue.Policy(42)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := queue.New(tt.cfg); err == nil {
				t.Error("expected construction to fail")
			}
		})
	}
}

func TestDropPolicy(t *testing.T) {
	// capacity=2, enqueue 3 back-to-back with no consumption:
	// 2 accepted, 1 dropped, dropped counter exactly 1.
	q, err := queue.New(queue.Config{Capacity: 2, Policy: queue.Drop})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	outcomes := []queue.Outcome{
		q.Enqueue(ctx, newEvent("a")),
		q.Enqueue(ctx, newEvent("b")),
		q.Enqueue(ctx, newEvent("c")),
	}

	accepted, dropped := 0, 0
	for _, o := range outcomes {
		if o == queue.Accepted {
			accepted++
		} else {
			dropped++
		}
	}

	if accepted != 2 || dropped != 1 {
		t.Errorf("got %d accepted, %d dropped; want 2, 1", accepted, dropped)
	}

	stats := q.Stats()
	if stats.Dropped != 1 {
		t.Errorf("dropped counter = %d, want 1", stats.Dropped)
	}
	if stats.Occupancy != 2 {
		t.Errorf("occupancy = %d, want 2", stats.Occupancy)
	}
}

func TestBlockPolicyUnblocksOnDequeue(t *testing.T) {
	q, err := queue.New(queue.Config{Capacity: 1, Policy: queue.Block})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if got := q.Enqueue(ctx, newEvent("first")); got != queue.Accepted {
		t.Fatalf("first enqueue: %v", got)
	}

	done := make(chan queue.Outcome, 1)
	go func() {
		done <- q.Enqueue(ctx, newEvent("second"))
	}()

	// Producer must be suspended while the queue is full.
	select {
	case o := <-done:
		t.Fatalf("producer returned %v before a slot was freed", o)
	case <-time.After(50 * time.Millisecond):
	}

	// Slow consumer frees a slot; the producer completes with Accepted.
	batch := q.TryDequeueBatch(1)
	if len(batch) != 1 {
		t.Fatalf("drained %d events, want 1", len(batch))
	}

	select {
	case o := <-done:
		if o != queue.Accepted {
			t.Errorf("blocked producer got %v, want Accepted", o)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked producer never completed")
	}
}

func TestBlockPolicyTimeout(t *testing.T) {
	q, err := queue.New(queue.Config{Capacity: 1, Policy: queue.Block})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q.Enqueue(context.Background(), newEvent("fill"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if got := q.Enqueue(ctx, newEvent("late")); got != queue.Dropped {
		t.Errorf("timed-out producer got %v, want Dropped", got)
	}
	if q.Stats().Dropped != 1 {
		t.Errorf("dropped counter = %d, want 1", q.Stats().Dropped)
	}
}

func TestCloseWakesBlockedProducer(t *testing.T) {
	q, err := queue.New(queue.Config{Capacity: 1, Policy: queue.Block})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q.Enqueue(context.Background(), newEvent("fill"))

	done := make(chan queue.Outcome, 1)
	go func() {
		done <- q.Enqueue(context.Background(), newEvent("blocked"))
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()
	q.Close() // idempotent

	select {
	case o := <-done:
		if o != queue.Dropped {
			t.Errorf("producer woken by Close got %v, want Dropped", o)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the blocked producer")
	}

	// Enqueue after close is a drop.
	if got := q.Enqueue(context.Background(), newEvent("after")); got != queue.Dropped {
		t.Errorf("enqueue after close got %v, want Dropped", got)
	}
}

func TestSamplePolicyNeverBlocks(t *testing.T) {
	q, err := queue.New(queue.Config{Capacity: 1, Policy: queue.Sample, SamplingRate: 1.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	q.Enqueue(ctx, newEvent("fill"))

	// Queue is full and nothing is consuming. Even with rate 1.0 the
	// acceptance attempt must not block; the event is dropped because no
	// concurrent dequeue freed a slot.
	done := make(chan queue.Outcome, 1)
	go func() {
		done <- q.Enqueue(ctx, newEvent("over"))
	}()

	select {
	case o := <-done:
		if o != queue.Dropped {
			t.Errorf("got %v, want Dropped", o)
		}
	case <-time.After(time.Second):
		t.Fatal("Sample enqueue blocked on a full queue")
	}
}

func TestSampleRateZeroDropsWhenFull(t *testing.T) {
	q, err := queue.New(queue.Config{Capacity: 1, Policy: queue.Sample, SamplingRate: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if got := q.Enqueue(ctx, newEvent("fits")); got != queue.Accepted {
		t.Fatalf("enqueue into non-full queue got %v", got)
	}
	for i := 0; i < 10; i++ {
		if got := q.Enqueue(ctx, newEvent("over")); got != queue.Dropped {
			t.Fatalf("rate-0 enqueue into full queue got %v", got)
		}
	}
	if q.Stats().Dropped != 10 {
		t.Errorf("dropped = %d, want 10", q.Stats().Dropped)
	}
}

func TestDequeueBatchCutsAtMaxSize(t *testing.T) {
	q, err := queue.New(queue.Config{Capacity: 10, Policy: queue.Drop})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		q.Enqueue(ctx, newEvent("e"))
	}

	batch := q.DequeueBatch(ctx, 3, time.Second)
	if len(batch) != 3 {
		t.Errorf("batch size = %d, want 3", len(batch))
	}
	if q.Stats().Dequeued != 3 {
		t.Errorf("dequeued = %d, want 3", q.Stats().Dequeued)
	}
}

func TestDequeueBatchCutsAtTimeout(t *testing.T) {
	q, err := queue.New(queue.Config{Capacity: 10, Policy: queue.Drop})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	q.Enqueue(ctx, newEvent("only"))

	start := time.Now()
	batch := q.DequeueBatch(ctx, 5, 80*time.Millisecond)
	elapsed := time.Since(start)

	if len(batch) != 1 {
		t.Errorf("batch size = %d, want 1", len(batch))
	}
	if elapsed < 60*time.Millisecond {
		t.Errorf("batch cut after %v, expected to wait for the timeout", elapsed)
	}
}

func TestDequeueBatchPreservesOrder(t *testing.T) {
	q, err := queue.New(queue.Config{Capacity: 16, Policy: queue.Drop})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	want := []string{"a", "b", "c", "d"}
	for _, m := range want {
		q.Enqueue(ctx, newEvent(m))
	}

	batch := q.DequeueBatch(ctx, len(want), time.Second)
	if len(batch) != len(want) {
		t.Fatalf("batch size = %d, want %d", len(batch), len(want))
	}
	for i, evt := range batch {
		v, _ := evt.Get("msg")
		if v != want[i] {
			t.Errorf("batch[%d] = %v, want %s", i, v, want[i])
		}
	}
}

func TestOccupancyNeverExceedsCapacity(t *testing.T) {
	const capacity = 8
	q, err := queue.New(queue.Config{Capacity: capacity, Policy: queue.Drop})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Concurrent producers.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				q.Enqueue(ctx, newEvent("x"))
			}
		}()
	}

	// Concurrent consumer.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			q.TryDequeueBatch(3)
		}
	}()

	// Observer checking the invariant at every instant it looks.
	violations := make(chan int, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			if n := q.Len(); n > capacity {
				select {
				case violations <- n:
				default:
				}
				return
			}
		}
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	wg.Wait()

	select {
	case n := <-violations:
		t.Errorf("observed occupancy %d > capacity %d", n, capacity)
	default:
	}

	stats := q.Stats()
	if stats.Enqueued-stats.Dequeued != int64(stats.Occupancy) {
		t.Errorf("counter drift: enqueued=%d dequeued=%d occupancy=%d",
			stats.Enqueued, stats.Dequeued, stats.Occupancy)
	}
}

func BenchmarkEnqueueDrop(b *testing.B) {
	q, err := queue.New(queue.Config{Capacity: 1024, Policy: queue.Drop})
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	evt := newEvent("bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if q.Enqueue(ctx, evt) == queue.Dropped {
			q.TryDequeueBatch(512)
		}
	}
}
