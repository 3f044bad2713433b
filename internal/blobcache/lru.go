package blobcache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoCache is a size-bounded cache implementation using ristretto.
// Admission is probabilistic, so a Set may be dropped under pressure.
type RistrettoCache struct {
	cache      *ristretto.Cache
	defaultTTL time.Duration
}

// blob wraps the data with expiration time.
type blob struct {
	data      []byte
	expiresAt time.Time
}

// NewRistretto creates a new ristretto-backed cache.
// maxSizeMB is the maximum size of the cache in megabytes.
// maxEntries is the expected number of entries, used to size the admission counters.
// defaultTTL is the default time-to-live for blobs.
func NewRistretto(maxSizeMB int64, maxEntries int64, defaultTTL time.Duration) (*RistrettoCache, error) {
	// NumCounters should be ~10x the number of entries for optimal performance
	numCounters := maxEntries * 10
	if numCounters < 1000 {
		numCounters = 1000
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxSizeMB * 1024 * 1024,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}

	return &RistrettoCache{
		cache:      cache,
		defaultTTL: defaultTTL,
	}, nil
}

// Get retrieves a blob by key.
func (c *RistrettoCache) Get(key string) ([]byte, bool) {
	val, found := c.cache.Get(key)
	if !found {
		return nil, false
	}

	item, ok := val.(*blob)
	if !ok {
		c.cache.Del(key)
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		c.cache.Del(key)
		return nil, false
	}

	return item.data, true
}

// Set stores a blob under key. A zero TTL uses the default. It reports
// false when ristretto dropped or refused the blob, for example when it is
// larger than the cache.
func (c *RistrettoCache) Set(key string, value []byte, ttl time.Duration) bool {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	item := &blob{
		data:      value,
		expiresAt: time.Now().Add(ttl),
	}

	if !c.cache.Set(key, item, int64(len(value))) {
		return false
	}
	// Admission is decided asynchronously; after Wait the key holds this
	// item only if the policy accepted it.
	c.cache.Wait()
	got, found := c.cache.Get(key)
	stored, _ := got.(*blob)
	return found && stored == item
}

// Delete removes a blob.
func (c *RistrettoCache) Delete(key string) {
	c.cache.Del(key)
}

// Stats returns cache statistics.
func (c *RistrettoCache) Stats() Stats {
	m := c.cache.Metrics

	return Stats{
		Hits:      m.Hits(),
		Misses:    m.Misses(),
		KeysAdded: m.KeysAdded(),
		Evictions: m.KeysEvicted(),
		Size:      int64(m.CostAdded() - m.CostEvicted()),
		Items:     int64(m.KeysAdded() - m.KeysEvicted()),
	}
}

// Close releases the ristretto goroutines.
func (c *RistrettoCache) Close() {
	c.cache.Close()
}
