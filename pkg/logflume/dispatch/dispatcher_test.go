package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lferrors "github.com/logflume/logflume/pkg/logflume/errors"
	"github.com/logflume/logflume/pkg/logflume/event"
)

// stubDest records every delivered batch. writeFn, when set, is consulted
// with the 1-based call number before the batch is recorded; a non-nil
// return fails that attempt.
type stubDest struct {
	name    string
	writeFn func(call int) error

	mu      sync.Mutex
	calls   int
	batches [][]*event.Event
	closed  atomic.Bool
}

func (d *stubDest) Name() string { return d.name }

func (d *stubDest) Write(_ context.Context, batch []*event.Event) error {
	d.mu.Lock()
	d.calls++
	call := d.calls
	d.mu.Unlock()

	if d.writeFn != nil {
		if err := d.writeFn(call); err != nil {
			return err
		}
	}

	cp := make([]*event.Event, len(batch))
	copy(cp, batch)
	d.mu.Lock()
	d.batches = append(d.batches, cp)
	d.mu.Unlock()
	return nil
}

func (d *stubDest) Close() error {
	d.closed.Store(true)
	return nil
}

func (d *stubDest) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *stubDest) delivered() [][]*event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]*event.Event, len(d.batches))
	copy(out, d.batches)
	return out
}

func makeBatch(n int) []*event.Event {
	batch := make([]*event.Event, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, event.New([]event.Field{
			event.Int("seq", i),
		}))
	}
	return batch
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func testDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		RetryMax:       0,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  10 * time.Millisecond,
	}
}

func TestNewDispatcherValidation(t *testing.T) {
	tests := []struct {
		name  string
		cfg   DispatcherConfig
		dests []Destination
	}{
		{
			name: "negative retry max",
			cfg:  DispatcherConfig{RetryMax: -1, RetryBaseDelay: time.Millisecond},
		},
		{
			name: "zero base delay",
			cfg:  DispatcherConfig{RetryMax: 1},
		},
		{
			name: "nil destination",
			cfg:  testDispatcherConfig(),
			dests: []Destination{
				nil,
			},
		},
		{
			name: "duplicate names",
			cfg:  testDispatcherConfig(),
			dests: []Destination{
				&stubDest{name: "out"},
				&stubDest{name: "out"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDispatcher(tt.cfg, tt.dests)
			require.Error(t, err)
		})
	}
}

func TestDispatchFaultIsolation(t *testing.T) {
	healthy := &stubDest{name: "healthy"}
	broken := &stubDest{name: "broken", writeFn: func(int) error {
		return fmt.Errorf("connection refused")
	}}

	d, err := NewDispatcher(testDispatcherConfig(), []Destination{healthy, broken})
	require.NoError(t, err)
	d.Start()

	d.Dispatch(makeBatch(3))
	d.Drain(context.Background())

	records := map[string]Record{}
	for _, rec := range d.Records() {
		records[rec.Name] = rec
	}

	h := records["healthy"]
	assert.Equal(t, int64(1), h.DeliveredBatches)
	assert.Equal(t, int64(3), h.DeliveredEvents)
	assert.Equal(t, int64(0), h.FailedBatches)
	assert.Nil(t, h.LastError)

	b := records["broken"]
	assert.Equal(t, int64(0), b.DeliveredBatches)
	assert.Equal(t, int64(1), b.FailedBatches)
	assert.Equal(t, int64(3), b.FailedEvents)
	assert.Equal(t, 1, b.ConsecutiveFailures)
	require.Error(t, b.LastError)

	assert.True(t, healthy.closed.Load())
	assert.True(t, broken.closed.Load())
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	dest := &stubDest{name: "flaky", writeFn: func(call int) error {
		if call <= 2 {
			return fmt.Errorf("transient failure %d", call)
		}
		return nil
	}}

	cfg := testDispatcherConfig()
	cfg.RetryMax = 3
	d, err := NewDispatcher(cfg, []Destination{dest})
	require.NoError(t, err)
	d.Start()

	d.Dispatch(makeBatch(2))
	d.Drain(context.Background())

	assert.Equal(t, 3, dest.callCount())
	rec := d.Records()[0]
	assert.Equal(t, int64(1), rec.DeliveredBatches)
	assert.Equal(t, int64(0), rec.FailedBatches)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
}

func TestPermanentErrorStopsRetry(t *testing.T) {
	dest := &stubDest{name: "rejecting", writeFn: func(int) error {
		return &lferrors.DestinationError{
			Destination: "rejecting",
			Permanent:   true,
			Err:         fmt.Errorf("malformed payload"),
		}
	}}

	cfg := testDispatcherConfig()
	cfg.RetryMax = 5
	d, err := NewDispatcher(cfg, []Destination{dest})
	require.NoError(t, err)
	d.Start()

	d.Dispatch(makeBatch(1))
	d.Drain(context.Background())

	assert.Equal(t, 1, dest.callCount())
	rec := d.Records()[0]
	assert.Equal(t, int64(1), rec.FailedBatches)
	require.Error(t, rec.LastError)

	var exhausted *lferrors.ExhaustedError
	require.ErrorAs(t, rec.LastError, &exhausted)
	assert.Equal(t, 1, exhausted.Attempts)
}

func TestRetryExhaustionRecordsError(t *testing.T) {
	dest := &stubDest{name: "down", writeFn: func(int) error {
		return fmt.Errorf("still down")
	}}

	cfg := testDispatcherConfig()
	cfg.RetryMax = 2
	d, err := NewDispatcher(cfg, []Destination{dest})
	require.NoError(t, err)
	d.Start()

	d.Dispatch(makeBatch(4))
	d.Drain(context.Background())

	assert.Equal(t, 3, dest.callCount())
	rec := d.Records()[0]
	assert.Equal(t, int64(1), rec.FailedBatches)
	assert.Equal(t, int64(4), rec.FailedEvents)
	assert.False(t, rec.NextRetry.IsZero())

	var exhausted *lferrors.ExhaustedError
	require.ErrorAs(t, rec.LastError, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, "down", exhausted.Destination)
}

func TestDestinationPanicIsContained(t *testing.T) {
	panicking := &stubDest{name: "panicking", writeFn: func(int) error {
		panic("destination bug")
	}}
	healthy := &stubDest{name: "healthy"}

	cfg := testDispatcherConfig()
	cfg.RetryMax = 3
	d, err := NewDispatcher(cfg, []Destination{panicking, healthy})
	require.NoError(t, err)
	d.Start()

	d.Dispatch(makeBatch(1))
	d.Drain(context.Background())

	// Panics categorize as permanent, so no retries happen.
	assert.Equal(t, 1, panicking.callCount())

	records := map[string]Record{}
	for _, rec := range d.Records() {
		records[rec.Name] = rec
	}
	assert.Equal(t, int64(1), records["panicking"].FailedBatches)
	assert.Equal(t, int64(1), records["healthy"].DeliveredBatches)
}

func TestBackloggedDestinationLosesBatch(t *testing.T) {
	dest := &stubDest{name: "slow"}

	cfg := testDispatcherConfig()
	cfg.ChannelDepth = 1
	d, err := NewDispatcher(cfg, []Destination{dest})
	require.NoError(t, err)

	// Not started yet: the first batch occupies the lane, the second is lost.
	d.Dispatch(makeBatch(2))
	d.Dispatch(makeBatch(3))

	rec := d.Records()[0]
	assert.Equal(t, int64(1), rec.FailedBatches)
	assert.Equal(t, int64(3), rec.FailedEvents)

	d.Start()
	d.Drain(context.Background())

	rec = d.Records()[0]
	assert.Equal(t, int64(1), rec.DeliveredBatches)
	assert.Equal(t, int64(2), rec.DeliveredEvents)
	assert.Equal(t, int64(1), rec.FailedBatches)
}

func TestDrainDeadlineAbortsBackoff(t *testing.T) {
	dest := &stubDest{name: "stuck", writeFn: func(int) error {
		return fmt.Errorf("unreachable")
	}}

	cfg := DispatcherConfig{
		RetryMax:       5,
		RetryBaseDelay: 10 * time.Second,
		RetryMaxDelay:  10 * time.Second,
	}
	d, err := NewDispatcher(cfg, []Destination{dest})
	require.NoError(t, err)
	d.Start()

	d.Dispatch(makeBatch(1))
	waitFor(t, time.Second, func() bool { return dest.callCount() >= 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	d.Drain(ctx)
	assert.Less(t, time.Since(start), 2*time.Second)

	rec := d.Records()[0]
	assert.Equal(t, int64(1), rec.FailedBatches)
	assert.True(t, dest.closed.Load())
}

func TestDrainIsIdempotent(t *testing.T) {
	dest := &stubDest{name: "out"}
	d, err := NewDispatcher(testDispatcherConfig(), []Destination{dest})
	require.NoError(t, err)
	d.Start()

	d.Dispatch(makeBatch(1))
	d.Drain(context.Background())
	d.Drain(context.Background())

	assert.Equal(t, int64(1), d.Records()[0].DeliveredBatches)
}

func TestDispatchAfterDrainCountsBatchLost(t *testing.T) {
	dest := &stubDest{name: "out"}
	d, err := NewDispatcher(testDispatcherConfig(), []Destination{dest})
	require.NoError(t, err)
	d.Start()

	d.Dispatch(makeBatch(1))
	d.Drain(context.Background())

	// The lanes are gone: the batch must be recorded lost, not delivered,
	// and Dispatch must return normally.
	d.Dispatch(makeBatch(2))

	assert.Equal(t, 1, dest.callCount())
	rec := d.Records()[0]
	assert.Equal(t, int64(1), rec.DeliveredBatches)
	assert.Equal(t, int64(1), rec.FailedBatches)
	assert.Equal(t, int64(2), rec.FailedEvents)
	require.Error(t, rec.LastError)
}

func TestPerDestinationBatchOrdering(t *testing.T) {
	dest := &stubDest{name: "ordered"}
	d, err := NewDispatcher(testDispatcherConfig(), []Destination{dest})
	require.NoError(t, err)
	d.Start()

	const batches = 20
	for i := 0; i < batches; i++ {
		batch := []*event.Event{event.New([]event.Field{event.Int("batch", i)})}
		d.Dispatch(batch)
		// Keep the lane from overflowing; ordering is what is under test.
		waitFor(t, time.Second, func() bool { return len(dest.delivered()) > i })
	}
	d.Drain(context.Background())

	got := dest.delivered()
	require.Len(t, got, batches)
	for i, batch := range got {
		v, ok := batch[0].Get("batch")
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestDispatchEmptyBatchIgnored(t *testing.T) {
	dest := &stubDest{name: "out"}
	d, err := NewDispatcher(testDispatcherConfig(), []Destination{dest})
	require.NoError(t, err)
	d.Start()

	d.Dispatch(nil)
	d.Dispatch([]*event.Event{})
	d.Drain(context.Background())

	assert.Equal(t, 0, dest.callCount())
	rec := d.Records()[0]
	assert.Equal(t, int64(0), rec.DeliveredBatches)
	assert.Equal(t, int64(0), rec.FailedBatches)
}
