// Package audit provides the append-only log trail for migration runs.
// Entries are never mutated or deleted while a run is active.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of an audit entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is one append-only audit record for a migration run.
type Entry struct {
	ID        string    `db:"id" json:"id"`
	RunID     string    `db:"run_id" json:"runId"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
	Level     Level     `db:"level" json:"level"`
	Component string    `db:"component" json:"component"`
	Message   string    `db:"message" json:"message"`
	Details   string    `db:"details" json:"details,omitempty"`
}

// NewEntry creates an entry with a fresh UUID and the current time.
func NewEntry(runID string, level Level, component, message, details string) Entry {
	return Entry{
		ID:        uuid.New().String(),
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Level:     level,
		Component: component,
		Message:   message,
		Details:   details,
	}
}

// Sink receives audit entries. Implementations must be safe for concurrent
// appends from multiple workers.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// NopSink discards every entry.
type NopSink struct{}

func (NopSink) Append(ctx context.Context, e Entry) error { return nil }

// Tee fans one entry out to every sink. The first append error wins; later
// sinks still receive the entry.
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}

type teeSink []Sink

func (t teeSink) Append(ctx context.Context, e Entry) error {
	var firstErr error
	for _, s := range t {
		if err := s.Append(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MemorySink keeps entries in memory, for tests and dry runs.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

// Append records the entry.
func (s *MemorySink) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a copy of the recorded entries in append order.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByLevel returns recorded entries with the given level.
func (s *MemorySink) ByLevel(level Level) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}
