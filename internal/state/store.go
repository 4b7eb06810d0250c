// Package state provides the shared windowed state store detection rules
// correlate over. The store maps a correlation key to a time-ordered sequence
// of entries with eviction on write, and carries rule suppression markers so
// that no rule holds private unsynchronized memory.
package state

import (
	"context"
	"time"
)

// Entry is a snapshot of a subset of an event's fields stored under a
// correlation key. StoredAt is ingestion wall-clock time assigned by the
// store, not the event's own timestamp.
type Entry struct {
	EventID   string            `json:"event_id,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	StoredAt  time.Time         `json:"stored_at"`
}

// Field returns a named field value, or "" when absent.
func (e Entry) Field(name string) string {
	return e.Fields[name]
}

// Stats is a diagnostic snapshot of store contents. It is eventually
// consistent with concurrent writers.
type Stats struct {
	Keys    int `json:"total_keys"`
	Entries int `json:"total_entries"`
}

// Store is the concurrency-safe windowed state shared by all rules. It is
// specified for arbitrarily many concurrent readers and writers so that
// parallel consumer workers require no redesign.
type Store interface {
	// AppendAndList appends entry (stamped with the current wall-clock
	// time), evicts everything older than the window and returns the
	// resulting in-window sequence in insertion order. The whole operation
	// is atomic with respect to other callers touching the same key.
	AppendAndList(ctx context.Context, key string, entry Entry, window time.Duration) ([]Entry, error)

	// ListInWindow returns the in-window sequence without mutating the
	// stored state. Eviction semantics are identical to AppendAndList.
	ListInWindow(ctx context.Context, key string, window time.Duration) ([]Entry, error)

	// Count returns the in-window entry count without mutating state.
	// Expired entries stay stored until the next write path runs.
	Count(ctx context.Context, key string, window time.Duration) (int, error)

	// Clear removes all windowed state for key.
	Clear(ctx context.Context, key string) error

	// MarkSuppressed records that key has alerted. A zero ttl suppresses
	// for the remainder of the store's lifetime.
	MarkSuppressed(ctx context.Context, key string, ttl time.Duration) error

	// IsSuppressed reports whether key currently holds a live suppression
	// marker.
	IsSuppressed(ctx context.Context, key string) (bool, error)

	// Stats returns a diagnostic snapshot.
	Stats(ctx context.Context) (Stats, error)
}
