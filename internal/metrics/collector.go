package metrics

import (
	"context"
	"time"

	"github.com/onnwee/swrcache/internal/logger"
)

// Snapshot is the point-in-time state exported as gauges.
type Snapshot struct {
	Entries      int
	SizeBytes    int64
	Expired      int
	RegistryKeys int
	Subscribers  int
}

// Source provides snapshots to the collector.
type Source interface {
	MetricsSnapshot() (Snapshot, error)
}

// Collector periodically collects and updates Prometheus gauges
type Collector struct {
	source   Source
	interval time.Duration
	stop     chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	return &Collector{
		source:   source,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Collect initial metrics
	c.Collect()

	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	close(c.stop)
}

// Collect takes one snapshot and updates the gauges. On failure the gauges
// are set to -1 to signal stale data.
func (c *Collector) Collect() {
	snap, err := c.source.MetricsSnapshot()
	if err != nil {
		logger.WithComponent("metrics").Warn("Error collecting cache snapshot", "error", err)
		MetricsCollectionErrors.WithLabelValues("cache").Inc()
		CacheEntries.Set(-1)
		CacheSizeBytes.Set(-1)
		CacheExpiredEntries.Set(-1)
		RegistryKeys.Set(-1)
		return
	}
	CacheEntries.Set(float64(snap.Entries))
	CacheSizeBytes.Set(float64(snap.SizeBytes))
	CacheExpiredEntries.Set(float64(snap.Expired))
	RegistryKeys.Set(float64(snap.RegistryKeys))
	Subscribers.Set(float64(snap.Subscribers))
}
