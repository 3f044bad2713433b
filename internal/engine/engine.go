// Package engine is the fetch orchestrator: cache-first lookups with
// single-flight fetches, stale-while-revalidate delivery, offline fallback
// and the background revalidation scheduler.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/onnwee/swrcache/internal/bus"
	"github.com/onnwee/swrcache/internal/logger"
	"github.com/onnwee/swrcache/internal/metrics"
	"github.com/onnwee/swrcache/internal/persist"
	"github.com/onnwee/swrcache/internal/store"
)

// Config holds engine settings.
type Config struct {
	Limits                store.Limits
	AccessThrottle        time.Duration // min gap between recorded accesses of one entry
	DefaultTTL            time.Duration // used when a policy has no TTL
	RevalidateConcurrency int           // max concurrent refreshes per pass (0 = unbounded)
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Limits:                store.DefaultLimits(),
		AccessThrottle:        store.DefaultAccessThrottle,
		DefaultTTL:            5 * time.Minute,
		RevalidateConcurrency: 8,
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPersistence enables Load and Save against a.
func WithPersistence(a persist.Adapter) Option {
	return func(e *Engine) { e.persist = a }
}

// WithLifecycle shares an existing lifecycle state.
func WithLifecycle(l *Lifecycle) Option {
	return func(e *Engine) { e.lifecycle = l }
}

// Engine owns the entry store, revalidation registry, subscription bus and
// in-flight fetches. Construct it with New and release it with Close.
type Engine struct {
	store     *store.Store
	bus       *bus.Bus
	registry  *Registry
	lifecycle *Lifecycle
	persist   persist.Adapter
	now       func() time.Time
	cfg       Config
	log       *slog.Logger

	// mu guards gen, flights and closed. Writes from a fetch check gen under
	// mu so a clear can never be undone by a late result.
	mu      sync.Mutex
	gen     uint64
	flights *singleflight.Group
	closed  bool

	bg sync.WaitGroup
}

// New creates an engine.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	e := &Engine{
		store:    store.New(cfg.Limits, cfg.AccessThrottle),
		bus:      bus.New(),
		registry: NewRegistry(),
		now:      time.Now,
		cfg:      cfg,
		log:      logger.WithComponent("engine"),
		flights:  &singleflight.Group{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.lifecycle == nil {
		e.lifecycle = NewLifecycle(true, true)
	}
	return e
}

// Lifecycle returns the environment state the engine consults.
func (e *Engine) Lifecycle() *Lifecycle { return e.lifecycle }

// Registry returns the revalidation registry.
func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) normalize(p Policy) Policy {
	if p.TTL <= 0 {
		p.TTL = e.cfg.DefaultTTL
	}
	p.Stale = store.EffectiveStale(p.TTL, p.Stale)
	return p
}

// GetCached returns the payload for key if it is present and not expired.
// Expired entries are removed on the way.
func (e *Engine) GetCached(key string) (any, bool) {
	ent, ok := e.GetEntry(key)
	if !ok {
		return nil, false
	}
	return ent.Data, true
}

// GetEntry is GetCached returning the entry with its metadata.
func (e *Engine) GetEntry(key string) (store.Entry, bool) {
	now := e.now()
	st, ok := e.store.GetWithStatus(key, now)
	if !ok {
		return store.Entry{}, false
	}
	if st.IsExpired {
		e.store.Delete(key)
		return store.Entry{}, false
	}
	e.store.Touch(key, now)
	e.registry.Touch(key, now)
	return st.Entry, true
}

// SetCache writes data under key and notifies subscribers. Oversized
// payloads are not stored but are still delivered to subscribers.
func (e *Engine) SetCache(key string, data any, ttl, stale time.Duration) {
	if ttl <= 0 {
		ttl = e.cfg.DefaultTTL
	}
	now := e.now()
	e.mu.Lock()
	e.putLocked(key, store.NewEntry(key, data, now, ttl, stale))
	e.mu.Unlock()
	e.registry.Touch(key, now)
	e.bus.Publish(key, data)
}

// putLocked stores ent through the eviction budget. Caller holds e.mu.
func (e *Engine) putLocked(key string, ent store.Entry) {
	evicted, err := e.store.Put(key, ent)
	if errors.Is(err, store.ErrEntryTooLarge) {
		// The previous value for key is now outdated and must not be served.
		e.store.Delete(key)
		metrics.CacheRejected.Inc()
		e.log.Debug("Skipping memoization of oversized entry", "key", key, "size_bytes", ent.SizeBytes)
		return
	}
	if len(evicted) > 0 {
		metrics.CacheEvictions.Add(float64(len(evicted)))
		e.log.Debug("Evicted least recently used entries", "count", len(evicted), "remaining", e.store.Len())
	}
}

// Invalidate removes key from the store.
func (e *Engine) Invalidate(key string) bool {
	return e.store.Delete(key)
}

// InvalidatePrefix removes every key starting with prefix and returns how many were removed.
func (e *Engine) InvalidatePrefix(prefix string) int {
	removed := e.store.DeleteByPrefix(prefix)
	if len(removed) > 0 {
		e.log.Debug("Invalidated key family", "prefix", prefix, "count", len(removed))
	}
	return len(removed)
}

// ClearAll drops every entry and supersedes in-flight fetches: their results
// still reach their waiters but are never written or broadcast.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	e.supersedeLocked()
	n := e.store.Clear()
	e.mu.Unlock()
	e.log.Info("Cleared cache", "entries", n)
}

// ClearRegistry forgets every revalidation record and supersedes in-flight fetches.
func (e *Engine) ClearRegistry() {
	e.mu.Lock()
	e.supersedeLocked()
	e.mu.Unlock()
	e.registry.Clear()
}

func (e *Engine) supersedeLocked() {
	e.gen++
	e.flights = &singleflight.Group{}
}

// SubscribeKey registers fn for writes to key.
func (e *Engine) SubscribeKey(key string, fn bus.Listener) (unsubscribe func()) {
	return e.bus.Subscribe(key, fn)
}

// Stats extends the store statistics with engine state.
type Stats struct {
	store.Stats
	RegistryKeys int    `json:"registryKeys"`
	Subscribers  int    `json:"subscribers"`
	Generation   uint64 `json:"generation"`
	Online       bool   `json:"online"`
	Visible      bool   `json:"visible"`
}

// GetStats returns statistics for observability.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	gen := e.gen
	e.mu.Unlock()
	return Stats{
		Stats:        e.store.Stats(e.now()),
		RegistryKeys: e.registry.Len(),
		Subscribers:  e.bus.Total(),
		Generation:   gen,
		Online:       e.lifecycle.Online(),
		Visible:      e.lifecycle.Visible(),
	}
}

// MetricsSnapshot implements metrics.Source.
func (e *Engine) MetricsSnapshot() (metrics.Snapshot, error) {
	st := e.GetStats()
	return metrics.Snapshot{
		Entries:      st.Entries,
		SizeBytes:    st.TotalBytes,
		Expired:      st.Expired,
		RegistryKeys: st.RegistryKeys,
		Subscribers:  st.Subscribers,
	}, nil
}

// Load restores entries from the persistence adapter. Without an adapter,
// or with nothing saved yet, it restores nothing.
func (e *Engine) Load(ctx context.Context) (int, error) {
	if e.persist == nil {
		return 0, nil
	}
	data, err := e.persist.Load(ctx)
	if errors.Is(err, persist.ErrNoSnapshot) {
		metrics.PersistOperations.WithLabelValues("load", "empty").Inc()
		return 0, nil
	}
	if err != nil {
		metrics.PersistOperations.WithLabelValues("load", "failure").Inc()
		return 0, fmt.Errorf("load cache snapshot: %w", err)
	}
	n, err := e.store.Restore(data, e.now())
	if err != nil {
		metrics.PersistOperations.WithLabelValues("load", "failure").Inc()
		return 0, err
	}
	metrics.PersistOperations.WithLabelValues("load", "success").Inc()
	e.log.Info("Restored cache snapshot", "entries", n)
	return n, nil
}

// Save writes the current entries to the persistence adapter.
func (e *Engine) Save(ctx context.Context) error {
	if e.persist == nil {
		return nil
	}
	data, err := e.store.Snapshot()
	if err != nil {
		metrics.PersistOperations.WithLabelValues("save", "failure").Inc()
		return err
	}
	if err := e.persist.Save(ctx, data); err != nil {
		metrics.PersistOperations.WithLabelValues("save", "failure").Inc()
		return fmt.Errorf("save cache snapshot: %w", err)
	}
	metrics.PersistOperations.WithLabelValues("save", "success").Inc()
	return nil
}

// Close stops accepting background refreshes, waits for running ones and
// saves a final snapshot when persistence is configured.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.bg.Wait()
	return e.Save(ctx)
}
