package destination

import (
	"context"
	"fmt"
	"sync"
	"time"

	lumberjack "github.com/elastic/go-lumber/client/v2"

	"github.com/logflume/logflume/pkg/logflume/event"
)

// lumberSink is the subset of the go-lumber synchronous client the
// destination uses.
type lumberSink interface {
	Send(data []interface{}) (int, error)
	Close() error
}

// Lumber ships events to a Logstash-compatible aggregator over the
// Lumberjack v2 (Beats) protocol. Each event is sent as a document built
// from its fields with an @timestamp key.
type Lumber struct {
	name     string
	endpoint string

	mu     sync.Mutex
	sink   lumberSink
	closed bool
}

// LumberOptions tunes the connection.
type LumberOptions struct {
	// Timeout bounds the dial and each send. Default: 3 seconds.
	Timeout time.Duration

	// CompressionLevel is the zlib level for window frames, 0-9.
	CompressionLevel int
}

// NewLumber dials endpoint (host:port) synchronously and returns the
// destination.
func NewLumber(name, endpoint string, opts LumberOptions) (*Lumber, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("lumber destination requires an endpoint")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}

	sink, err := lumberjack.SyncDial(endpoint,
		lumberjack.CompressionLevel(opts.CompressionLevel),
		lumberjack.Timeout(opts.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("dial beats endpoint %s: %w", endpoint, err)
	}

	return &Lumber{name: name, endpoint: endpoint, sink: sink}, nil
}

// newLumberWithSink injects a sink; used by tests.
func newLumberWithSink(name, endpoint string, sink lumberSink) *Lumber {
	return &Lumber{name: name, endpoint: endpoint, sink: sink}
}

// Name implements dispatch.Destination.
func (l *Lumber) Name() string { return l.name }

// Write implements dispatch.Destination. The whole batch goes out as one
// window; a short send is reported as an error so the dispatcher retries
// the batch.
func (l *Lumber) Write(_ context.Context, batch []*event.Event) error {
	if len(batch) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(batch))
	for _, evt := range batch {
		docs = append(docs, evt.Map())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("lumber destination %q is closed", l.name)
	}

	sent, err := l.sink.Send(docs)
	if err != nil {
		return fmt.Errorf("send to %s: %w", l.endpoint, err)
	}
	if sent < len(docs) {
		return fmt.Errorf("short send to %s: %d of %d events acknowledged",
			l.endpoint, sent, len(docs))
	}
	return nil
}

// Close implements dispatch.Destination. Close is idempotent.
func (l *Lumber) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.sink.Close()
}
