package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// persistedEntry mirrors Entry but keeps the payload undecoded, since the
// store cannot know the payload's original Go type.
type persistedEntry struct {
	Key            string          `json:"key"`
	Data           json.RawMessage `json:"data"`
	CachedAt       time.Time       `json:"cachedAt"`
	LastAccessedAt time.Time       `json:"lastAccessedAt,omitempty"`
	StaleAt        time.Time       `json:"staleAt,omitempty"`
	ExpiresAt      time.Time       `json:"expiresAt"`
	SizeBytes      int64           `json:"sizeBytes"`
}

// Snapshot serializes the raw {key: entry} map.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	m := make(map[string]Entry, len(s.entries))
	for k, e := range s.entries {
		m[k] = *e
	}
	s.mu.RUnlock()

	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return b, nil
}

// Restore loads a snapshot produced by Snapshot. Entries already expired at
// now are dropped and the eviction budget is applied. Restored payloads are
// json.RawMessage values. It returns the number of entries restored.
func (s *Store) Restore(data []byte, now time.Time) (int, error) {
	var m map[string]persistedEntry
	if err := json.Unmarshal(data, &m); err != nil {
		return 0, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	n := 0
	for k, p := range m {
		e := Entry{
			Key:            k,
			Data:           p.Data,
			CachedAt:       p.CachedAt,
			LastAccessedAt: p.LastAccessedAt,
			StaleAt:        p.StaleAt,
			ExpiresAt:      p.ExpiresAt,
			SizeBytes:      p.SizeBytes,
		}
		if e.Expired(now) {
			continue
		}
		if e.SizeBytes == 0 {
			e.SizeBytes = EstimateSize(p.Data)
		}
		if _, err := s.Put(k, e); err != nil {
			continue
		}
		n++
	}
	return n, nil
}
