// Package store holds cached entries keyed by string and enforces the
// count and per-entry size budget with batch LRU eviction.
package store

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAccessThrottle is the minimum gap between two recorded accesses of
// the same entry.
const DefaultAccessThrottle = 15 * time.Second

// Status is an entry together with its freshness at a point in time.
type Status struct {
	Entry     Entry
	IsExpired bool
	IsStale   bool
}

// Stats represents store statistics.
type Stats struct {
	Entries    int    `json:"entries"`    // Current number of entries
	TotalBytes int64  `json:"totalBytes"` // Sum of estimated entry sizes
	Expired    int    `json:"expired"`    // Entries past expiresAt not yet reclaimed
	Valid      int    `json:"valid"`      // Entries still usable
	Evictions  uint64 `json:"evictions"`  // Total LRU evictions
	Rejected   uint64 `json:"rejected"`   // Total oversized inserts skipped
}

// Store is a mutex-guarded map of entries. The zero value is not usable; use New.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	limits   Limits
	throttle time.Duration

	evictions atomic.Uint64
	rejected  atomic.Uint64
}

// New creates a store with the given limits. A non-positive throttle means
// every access is recorded.
func New(limits Limits, throttle time.Duration) *Store {
	return &Store{
		entries:  make(map[string]*Entry),
		limits:   limits.normalize(),
		throttle: throttle,
	}
}

// Limits returns the effective eviction limits.
func (s *Store) Limits() Limits {
	return s.limits
}

// Get returns the entry for key without checking expiry.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// GetWithStatus returns the entry for key along with its freshness at now.
func (s *Store) GetWithStatus(key string, now time.Time) (Status, bool) {
	e, ok := s.Get(key)
	if !ok {
		return Status{}, false
	}
	return Status{
		Entry:     e,
		IsExpired: e.Expired(now),
		IsStale:   e.Stale(now),
	}, true
}

// Set overwrites the entry for key. It bypasses the eviction budget; use Put
// for inserts that may grow the store.
func (s *Store) Set(key string, e Entry) {
	e.Key = key
	s.mu.Lock()
	s.entries[key] = &e
	s.mu.Unlock()
}

// Touch records an access at now, unless the previous recorded access is
// younger than the throttle interval. It reports whether the entry changed.
func (s *Store) Touch(key string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if !e.LastAccessedAt.IsZero() && now.Sub(e.LastAccessedAt) < s.throttle {
		return false
	}
	e.LastAccessedAt = now
	return true
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	return true
}

// DeleteByPrefix removes every key starting with prefix and returns the keys removed.
func (s *Store) DeleteByPrefix(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
			removed = append(removed, k)
		}
	}
	return removed
}

// Clear removes all entries and returns how many were dropped.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[string]*Entry)
	return n
}

// Len returns the number of entries, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns a snapshot of the stored keys in no particular order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Stats returns store statistics evaluated at now.
func (s *Store) Stats(now time.Time) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Entries:   len(s.entries),
		Evictions: s.evictions.Load(),
		Rejected:  s.rejected.Load(),
	}
	for _, e := range s.entries {
		st.TotalBytes += e.SizeBytes
		if e.Expired(now) {
			st.Expired++
		} else {
			st.Valid++
		}
	}
	return st
}
