package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Orchestrator metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swrcache_lookups_total",
			Help: "Total number of getOrFetch lookups by outcome",
		},
		[]string{"outcome"}, // outcome: fresh, stale, stale_blocking, miss, offline, offline_miss, expired
	)

	ProducerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swrcache_producer_calls_total",
			Help: "Total number of producer invocations",
		},
		[]string{"status"}, // status: success, failure
	)

	ProducerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swrcache_producer_duration_seconds",
			Help:    "Duration of producer invocations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SingleFlightShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swrcache_singleflight_shared_total",
			Help: "Total number of callers that joined an in-flight fetch",
		},
	)

	StaleFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swrcache_stale_fallbacks_total",
			Help: "Total number of producer failures answered with stale data",
		},
	)

	SupersededResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swrcache_superseded_results_total",
			Help: "Total number of fetch results discarded after a clear",
		},
	)

	// Store metrics
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swrcache_evictions_total",
			Help: "Total number of entries evicted by the LRU policy",
		},
	)

	CacheRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swrcache_rejected_total",
			Help: "Total number of oversized entries not memoized",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swrcache_entries",
			Help: "Current number of cache entries",
		},
	)

	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swrcache_size_bytes",
			Help: "Estimated total size of cache entries in bytes",
		},
	)

	CacheExpiredEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swrcache_expired_entries",
			Help: "Expired entries not yet reclaimed",
		},
	)

	RegistryKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swrcache_registry_keys",
			Help: "Number of keys in the revalidation registry",
		},
	)

	// Scheduler metrics
	RevalidationPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swrcache_revalidation_passes_total",
			Help: "Total number of revalidation passes by trigger reason",
		},
		[]string{"reason"},
	)

	RevalidationRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swrcache_revalidation_refreshes_total",
			Help: "Total number of keys refreshed by revalidation passes",
		},
		[]string{"status"}, // status: success, failure
	)

	RevalidationDebounced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swrcache_revalidation_debounced_total",
			Help: "Total number of event triggers dropped by the debounce limiter",
		},
	)

	SchedulerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swrcache_scheduler_running",
			Help: "Interval timer state (1=running, 0=stopped)",
		},
	)

	// Subscription bus metrics
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swrcache_subscribers",
			Help: "Number of active key subscriptions",
		},
	)

	ListenerFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swrcache_listener_failures_total",
			Help: "Total number of subscriber callbacks that panicked",
		},
	)

	// Persistence metrics
	PersistOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swrcache_persist_operations_total",
			Help: "Total number of persistence operations",
		},
		[]string{"operation", "status"}, // operation: load, save
	)

	// Upstream transport metrics
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swrcache_upstream_requests_total",
			Help: "Total number of HTTP requests made to the upstream API",
		},
		[]string{"status"}, // status: success, retry, failure
	)

	UpstreamRetryAfterWaits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "swrcache_upstream_retry_after_wait_seconds",
			Help:    "Duration of Retry-After waits in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	UpstreamRateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swrcache_upstream_rate_limit_waits_total",
			Help: "Total number of times an upstream request waited for the rate limiter",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"component"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"component"},
	)

	// HTTP API metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active key subscription websockets",
		},
	)

	WebSocketMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of websocket messages sent",
		},
	)

	MetricsCollectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metrics_collection_errors_total",
			Help: "Total number of errors during metrics collection",
		},
		[]string{"source"},
	)
)
