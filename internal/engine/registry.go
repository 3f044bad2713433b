package engine

import (
	"sync"
	"time"
)

// Record is how to refetch one key.
type Record struct {
	Key        string
	Fetcher    Fetcher
	Policy     Policy
	LastUsedAt time.Time
}

// Registry remembers the latest fetcher and policy per key. It holds no
// data and is never persisted.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register stores fetcher and policy for key and marks it used at now.
func (r *Registry) Register(key string, fetcher Fetcher, p Policy, now time.Time) {
	r.mu.Lock()
	r.records[key] = &Record{Key: key, Fetcher: fetcher, Policy: p, LastUsedAt: now}
	r.mu.Unlock()
}

// Touch marks an existing key used at now.
func (r *Registry) Touch(key string, now time.Time) {
	r.mu.Lock()
	if rec, ok := r.records[key]; ok && now.After(rec.LastUsedAt) {
		rec.LastUsedAt = now
	}
	r.mu.Unlock()
}

// Get returns a copy of the record for key.
func (r *Registry) Get(key string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Snapshot returns copies of all records.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

// Clear forgets everything.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.records = make(map[string]*Record)
	r.mu.Unlock()
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
