package store

import (
	"errors"
	"fmt"
	"sort"
)

// ErrEntryTooLarge is returned by Put when a payload exceeds MaxEntrySize.
// It is a policy decision, not a failure: the entry is simply not memoized.
var ErrEntryTooLarge = errors.New("entry exceeds max entry size")

// Default eviction limits.
const (
	DefaultMaxEntries    = 500
	DefaultTargetEntries = 400
	DefaultMaxEntrySize  = 256 * 1024
)

// Limits bounds the store.
type Limits struct {
	MaxEntries    int   // Eviction runs once this many entries are stored
	TargetEntries int   // Watermark a batch eviction shrinks the store to
	MaxEntrySize  int64 // Entries estimated larger than this are never stored
}

// DefaultLimits returns the default eviction limits.
func DefaultLimits() Limits {
	return Limits{
		MaxEntries:    DefaultMaxEntries,
		TargetEntries: DefaultTargetEntries,
		MaxEntrySize:  DefaultMaxEntrySize,
	}
}

func (l Limits) normalize() Limits {
	if l.MaxEntries <= 0 {
		l.MaxEntries = DefaultMaxEntries
	}
	if l.TargetEntries <= 0 || l.TargetEntries >= l.MaxEntries {
		l.TargetEntries = l.MaxEntries * 4 / 5
	}
	if l.MaxEntrySize <= 0 {
		l.MaxEntrySize = DefaultMaxEntrySize
	}
	return l
}

// Put inserts e under key after applying the eviction budget. Oversized
// entries are rejected with ErrEntryTooLarge and any previous entry for key
// is left untouched. The keys evicted to make room are returned.
func (s *Store) Put(key string, e Entry) ([]string, error) {
	e.Key = key
	if e.SizeBytes > s.limits.MaxEntrySize {
		s.rejected.Add(1)
		return nil, fmt.Errorf("%w: key=%s size=%d max=%d", ErrEntryTooLarge, key, e.SizeBytes, s.limits.MaxEntrySize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.limits.MaxEntries {
		evicted = s.evictLocked(len(s.entries) - s.limits.TargetEntries)
	}
	s.entries[key] = &e
	return evicted, nil
}

// evictLocked removes the n least recently used entries. Entries with equal
// access times may go in either order.
func (s *Store) evictLocked(n int) []string {
	if n <= 0 {
		return nil
	}
	all := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].lruTime().Before(all[j].lruTime())
	})
	if n > len(all) {
		n = len(all)
	}
	evicted := make([]string, 0, n)
	for _, e := range all[:n] {
		delete(s.entries, e.Key)
		evicted = append(evicted, e.Key)
	}
	s.evictions.Add(uint64(n))
	return evicted
}
