package state

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// MemoryStore is the in-process Store implementation. A single coarse lock
// serializes all mutations; contention is acceptable because rule evaluation
// is CPU-bound between store calls and the lock is never held across I/O.
type MemoryStore struct {
	mu         sync.Mutex
	windows    map[string][]Entry
	suppressed map[string]time.Time // expiry; zero value means never
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:    make(map[string][]Entry),
		suppressed: make(map[string]time.Time),
	}
}

// AppendAndList implements Store.
func (s *MemoryStore) AppendAndList(_ context.Context, key string, entry Entry, window time.Duration) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry.StoredAt = now
	if entry.Fields != nil {
		entry.Fields = maps.Clone(entry.Fields)
	}

	kept := evict(append(s.windows[key], entry), now.Add(-window))
	s.windows[key] = kept

	slog.Debug("state updated",
		"key", key,
		"entries_in_window", len(kept),
		"window", window,
	)

	out := make([]Entry, len(kept))
	copy(out, kept)
	return out, nil
}

// ListInWindow implements Store. The stored sequence is not mutated.
func (s *MemoryStore) ListInWindow(_ context.Context, key string, window time.Duration) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-window)
	var out []Entry
	for _, e := range s.windows[key] {
		if e.StoredAt.After(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context, key string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-window)
	count := 0
	for _, e := range s.windows[key] {
		if e.StoredAt.After(cutoff) {
			count++
		}
	}
	return count, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.windows, key)
	return nil
}

// MarkSuppressed implements Store.
func (s *MemoryStore) MarkSuppressed(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl == 0 {
		s.suppressed[key] = time.Time{}
	} else {
		s.suppressed[key] = time.Now().Add(ttl)
	}
	return nil
}

// IsSuppressed implements Store. Expired markers are dropped lazily.
func (s *MemoryStore) IsSuppressed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.suppressed[key]
	if !ok {
		return false, nil
	}
	if !expiry.IsZero() && time.Now().After(expiry) {
		delete(s.suppressed, key)
		return false, nil
	}
	return true, nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{Keys: len(s.windows)}
	for _, entries := range s.windows {
		stats.Entries += len(entries)
	}
	return stats, nil
}

// evict drops entries with StoredAt at or before cutoff. Entries are in
// insertion order, so the survivors form a suffix.
func evict(entries []Entry, cutoff time.Time) []Entry {
	for i, e := range entries {
		if e.StoredAt.After(cutoff) {
			return entries[i:]
		}
	}
	return nil
}
