// Package bus delivers the latest payload of a cache key to its subscribers.
package bus

import (
	"fmt"
	"sync"

	"github.com/onnwee/swrcache/internal/logger"
	"github.com/onnwee/swrcache/internal/metrics"
)

// Listener receives the new payload written under a key.
type Listener func(data any)

// Bus maps keys to their listener sets. The zero value is not usable; use New.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	keys   map[string]map[uint64]Listener
	total  int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{keys: make(map[string]map[uint64]Listener)}
}

// Subscribe registers fn for key. The returned function removes it; calling
// it more than once is a no-op.
func (b *Bus) Subscribe(key string, fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	set, ok := b.keys[key]
	if !ok {
		set = make(map[uint64]Listener)
		b.keys[key] = set
	}
	set[id] = fn
	b.total++
	metrics.Subscribers.Set(float64(b.total))
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(key, id) })
	}
}

func (b *Bus) remove(key string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.keys[key]
	if !ok {
		return
	}
	if _, ok := set[id]; !ok {
		return
	}
	delete(set, id)
	b.total--
	if len(set) == 0 {
		delete(b.keys, key)
	}
	metrics.Subscribers.Set(float64(b.total))
}

// Publish synchronously invokes every listener of key with data. A listener
// that panics is logged and skipped; it never affects the others.
func (b *Bus) Publish(key string, data any) {
	b.mu.RLock()
	set := b.keys[key]
	listeners := make([]Listener, 0, len(set))
	for _, fn := range set {
		listeners = append(listeners, fn)
	}
	b.mu.RUnlock()

	for _, fn := range listeners {
		b.invoke(key, fn, data)
	}
}

func (b *Bus) invoke(key string, fn Listener, data any) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerFailures.Inc()
			logger.WithComponent("bus").Warn("Listener failed", "key", key, "error", fmt.Sprint(r))
		}
	}()
	fn(data)
}

// Len returns the number of listeners subscribed to key.
func (b *Bus) Len(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.keys[key])
}

// Total returns the number of listeners across all keys.
func (b *Bus) Total() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}
