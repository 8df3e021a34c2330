// Package event defines the immutable structured record that flows through
// the pipeline.
//
// An Event is an ordered list of fields plus an ID and a timestamp. Field
// order is the order fields were supplied at construction and is preserved
// through batching and JSON serialization, so destinations see fields exactly
// as the producer wrote them.
package event

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Field is a single name/value pair. Values are scalars or nested
// map/slice structures; they must be JSON-serializable.
type Field struct {
	Key   string
	Value any
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Float creates a float field.
func Float(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Any creates a field with an arbitrary JSON-serializable value.
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Event is an immutable structured record. Create one with New; the field
// slice is copied on construction and never mutated afterwards, so an Event
// may be shared freely between goroutines.
type Event struct {
	id     string
	time   time.Time
	fields []Field
}

// Option configures event creation.
type Option func(*eventConfig)

type eventConfig struct {
	id        string
	timestamp time.Time
}

// WithID sets a specific event ID (default: auto-generated UUID).
func WithID(id string) Option {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) Option {
	return func(cfg *eventConfig) {
		cfg.timestamp = t
	}
}

// New creates an event from the given fields.
func New(fields []Field, opts ...Option) *Event {
	cfg := &eventConfig{
		id:        uuid.New().String(),
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	copied := make([]Field, len(fields))
	copy(copied, fields)

	return &Event{
		id:     cfg.id,
		time:   cfg.timestamp,
		fields: copied,
	}
}

// ID returns the unique event identifier.
func (e *Event) ID() string {
	return e.id
}

// Time returns the event timestamp.
func (e *Event) Time() time.Time {
	return e.time
}

// Len returns the number of fields.
func (e *Event) Len() int {
	return len(e.fields)
}

// Fields returns a copy of the field list in acceptance order.
func (e *Event) Fields() []Field {
	out := make([]Field, len(e.fields))
	copy(out, e.fields)
	return out
}

// Get returns the value for a field name and whether it exists. If the same
// name was supplied more than once, the first occurrence wins.
func (e *Event) Get(key string) (any, bool) {
	for _, f := range e.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// With returns a new event with the extra fields appended. The receiver is
// unchanged.
func (e *Event) With(fields ...Field) *Event {
	combined := make([]Field, 0, len(e.fields)+len(fields))
	combined = append(combined, e.fields...)
	combined = append(combined, fields...)

	return &Event{
		id:     e.id,
		time:   e.time,
		fields: combined,
	}
}

// MarshalJSON serializes the event as a single JSON object. The "id" and
// "time" keys come first, followed by the fields in acceptance order.
func (e *Event) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writePair := func(key string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	if err := writePair("id", e.id); err != nil {
		return nil, err
	}
	if err := writePair("time", e.time.Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	for _, f := range e.fields {
		if err := writePair(f.Key, f.Value); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Map returns the fields as a map, losing order. Nested field values are
// returned as-is. Intended for destinations whose wire format is a map,
// such as the Lumberjack protocol.
func (e *Event) Map() map[string]any {
	m := make(map[string]any, len(e.fields)+2)
	m["id"] = e.id
	m["@timestamp"] = e.time
	for _, f := range e.fields {
		if _, dup := m[f.Key]; dup {
			continue
		}
		m[f.Key] = f.Value
	}
	return m
}
