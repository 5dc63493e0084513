// Package eventlog keeps a bounded in-memory record of application
// events for inspection and export. The log holds the most recent
// entries up to a fixed capacity; older entries are dropped first.
package eventlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEntries is the capacity used when none is configured.
const DefaultMaxEntries = 1000

// Level classifies an entry's severity.
type Level string

// Severity levels.
const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is a single recorded event.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// Filter selects a subset of entries. Zero values match everything.
type Filter struct {
	// Level keeps only entries of this severity.
	Level Level
	// Component keeps only entries from this component.
	Component string
	// Contains keeps entries whose message contains the text,
	// case-insensitively.
	Contains string
	// Since keeps entries recorded at or after this instant.
	Since time.Time
	// Limit caps the number of returned entries, newest first. Zero
	// means no cap.
	Limit int
}

// Stats summarizes the current log contents.
type Stats struct {
	Total       int            `json:"total"`
	ByLevel     map[Level]int  `json:"byLevel"`
	ByComponent map[string]int `json:"byComponent"`
	Oldest      time.Time      `json:"oldest,omitzero"`
	Newest      time.Time      `json:"newest,omitzero"`
}

// Recorder is the write side of the log, handed to components that
// should record events but never query them.
type Recorder interface {
	Record(level Level, component, message string, details map[string]any)
}

// Log is a fixed-capacity, concurrency-safe event log.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	max     int
	now     func() time.Time
}

// New creates a Log holding at most maxEntries events. A non-positive
// capacity falls back to DefaultMaxEntries.
func New(maxEntries int) *Log {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Log{
		entries: make([]Entry, 0, maxEntries),
		max:     maxEntries,
		now:     time.Now,
	}
}

// Record appends an event, evicting the oldest entry once the log is at
// capacity.
func (l *Log) Record(level Level, component, message string, details map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.max {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}

	l.entries = append(l.entries, Entry{
		ID:        uuid.NewString(),
		Timestamp: l.now(),
		Level:     level,
		Component: component,
		Message:   message,
		Details:   details,
	})
}

// Query returns entries matching the filter, newest first.
func (l *Log) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if f.Level != "" && e.Level != f.Level {
			continue
		}
		if f.Component != "" && e.Component != f.Component {
			continue
		}
		if f.Contains != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.Contains)) {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Stats summarizes the stored entries.
func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		Total:       len(l.entries),
		ByLevel:     make(map[Level]int),
		ByComponent: make(map[string]int),
	}
	for _, e := range l.entries {
		s.ByLevel[e.Level]++
		s.ByComponent[e.Component]++
	}
	if len(l.entries) > 0 {
		s.Oldest = l.entries[0].Timestamp
		s.Newest = l.entries[len(l.entries)-1].Timestamp
	}
	return s
}

// Clear discards all stored entries.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// WriteCSV exports all stored entries, oldest first, as CSV with a
// header row.
func (l *Log) WriteCSV(w io.Writer) error {
	l.mu.RLock()
	entries := make([]Entry, len(l.entries))
	copy(entries, l.entries)
	l.mu.RUnlock()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "timestamp", "level", "component", "message", "details"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, e := range entries {
		record := []string{
			e.ID,
			e.Timestamp.Format(time.RFC3339Nano),
			string(e.Level),
			e.Component,
			e.Message,
			formatDetails(e.Details),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	parts := make([]string, 0, len(details))
	for k, v := range details {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}
