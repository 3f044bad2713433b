// Package blobcache stores opaque byte blobs with a TTL.
package blobcache

import (
	"sync"
	"time"
)

// Cache defines the interface for caching serialized data with TTL.
type Cache interface {
	// Get retrieves a value from the cache by key.
	// Returns the value and true if found and not expired, otherwise nil and false.
	Get(key string) ([]byte, bool)

	// Set stores a value in the cache with the given key and TTL and reports
	// whether it was stored. TTL of 0 means use the default cache TTL.
	Set(key string, value []byte, ttl time.Duration) bool

	// Delete removes a value from the cache.
	Delete(key string)

	// Stats returns cache statistics.
	Stats() Stats
}

// Stats represents cache statistics.
type Stats struct {
	Hits      uint64 // Total cache hits
	Misses    uint64 // Total cache misses
	KeysAdded uint64 // Total keys added
	Evictions uint64 // Total evictions
	Size      int64  // Approximate size in bytes
	Items     int64  // Current number of items
}

// MapCache is a mutex-guarded map implementation of Cache without eviction.
// Values never expire.
type MapCache struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMap creates an empty MapCache.
func NewMap() *MapCache {
	return &MapCache{data: make(map[string][]byte)}
}

func (m *MapCache) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, found := m.data[key]
	return val, found
}

func (m *MapCache) Set(key string, value []byte, ttl time.Duration) bool {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	m.data[key] = cp
	m.mu.Unlock()
	return true
}

func (m *MapCache) Delete(key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
}

func (m *MapCache) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var size int64
	for _, v := range m.data {
		size += int64(len(v))
	}
	return Stats{Items: int64(len(m.data)), Size: size}
}
