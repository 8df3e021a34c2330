// Package destination provides the built-in delivery destinations: console
// and file outputs writing JSON lines, a SQLite archive, and a Lumberjack
// (Beats protocol) client for shipping to Logstash-compatible aggregators.
//
// A Registry maps destination kinds to factories so a pipeline can be
// assembled from a configuration file.
package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/logflume/logflume/pkg/logflume/event"
)

// Console writes each event as one JSON line to an io.Writer, stdout by
// default. Events of a batch are written with a single Write call so lines
// from concurrent pipelines do not interleave mid-batch.
type Console struct {
	name string

	mu     sync.Mutex
	w      io.Writer
	closed bool
}

// NewConsole creates a console destination writing to w.
// A nil w means os.Stdout.
func NewConsole(name string, w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{name: name, w: w}
}

// Name implements dispatch.Destination.
func (c *Console) Name() string { return c.name }

// Write implements dispatch.Destination.
func (c *Console) Write(_ context.Context, batch []*event.Event) error {
	buf, err := encodeLines(batch)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("console destination %q is closed", c.name)
	}
	if _, err := c.w.Write(buf); err != nil {
		return fmt.Errorf("write console output: %w", err)
	}
	return nil
}

// Close implements dispatch.Destination. The underlying writer is not
// closed; the console does not own it.
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// encodeLines renders a batch as newline-delimited JSON.
func encodeLines(batch []*event.Event) ([]byte, error) {
	var buf bytes.Buffer
	for _, evt := range batch {
		line, err := json.Marshal(evt)
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", evt.ID(), err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
