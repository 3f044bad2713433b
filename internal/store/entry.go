package store

import (
	"encoding/json"
	"math"
	"time"
)

// Entry is a single cached payload with its timing metadata.
type Entry struct {
	Key            string    `json:"key"`
	Data           any       `json:"data"`
	CachedAt       time.Time `json:"cachedAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt,omitempty"`
	StaleAt        time.Time `json:"staleAt,omitempty"`
	ExpiresAt      time.Time `json:"expiresAt"`
	SizeBytes      int64     `json:"sizeBytes"`
}

// NewEntry builds an entry cached at now. A stale window larger than the
// TTL is clamped to the TTL; a non-positive stale window disables staleness.
func NewEntry(key string, data any, now time.Time, ttl, stale time.Duration) Entry {
	e := Entry{
		Key:       key,
		Data:      data,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
		SizeBytes: EstimateSize(data),
	}
	if stale > 0 {
		e.StaleAt = now.Add(EffectiveStale(ttl, stale))
	}
	return e
}

// EffectiveStale returns the staleness window actually applied for a policy.
func EffectiveStale(ttl, stale time.Duration) time.Duration {
	if stale > ttl {
		return ttl
	}
	return stale
}

// Expired reports whether the entry is past its hard expiry.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Stale reports whether the entry passed its soft refresh threshold.
func (e Entry) Stale(now time.Time) bool {
	return !e.StaleAt.IsZero() && !now.Before(e.StaleAt)
}

// lruTime is the timestamp used to order entries for eviction.
func (e Entry) lruTime() time.Time {
	if e.LastAccessedAt.IsZero() {
		return e.CachedAt
	}
	return e.LastAccessedAt
}

// EstimateSize approximates the serialized size of a payload. It only has to
// grow with the payload; values that cannot be encoded are treated as
// unboundedly large so they are never memoized.
func EstimateSize(v any) int64 {
	switch d := v.(type) {
	case nil:
		return 0
	case []byte:
		return int64(len(d))
	case json.RawMessage:
		return int64(len(d))
	case string:
		return int64(len(d))
	}
	b, err := json.Marshal(v)
	if err != nil {
		return math.MaxInt64
	}
	return int64(len(b))
}
