package destination

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/logflume/logflume/pkg/logflume/event"
)

// File appends events as JSON lines to a file. The file is opened once at
// construction and synced on Close.
type File struct {
	name string
	path string

	mu     sync.Mutex
	f      *os.File
	closed bool
}

// NewFile creates a file destination appending to path, creating the file
// if it does not exist.
func NewFile(name, path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open destination file: %w", err)
	}
	return &File{name: name, path: path, f: f}, nil
}

// Name implements dispatch.Destination.
func (d *File) Name() string { return d.name }

// Path returns the file being appended to.
func (d *File) Path() string { return d.path }

// Write implements dispatch.Destination.
func (d *File) Write(_ context.Context, batch []*event.Event) error {
	buf, err := encodeLines(batch)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("file destination %q is closed", d.name)
	}
	if _, err := d.f.Write(buf); err != nil {
		return fmt.Errorf("append to %s: %w", d.path, err)
	}
	return nil
}

// Close implements dispatch.Destination. Close is idempotent.
func (d *File) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return fmt.Errorf("sync %s: %w", d.path, err)
	}
	return d.f.Close()
}
