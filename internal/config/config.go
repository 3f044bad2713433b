package config

import (
	"os"
	"strings"
	"time"

	"github.com/onnwee/swrcache/internal/utils"
)

// Persistence backends accepted by PERSIST_BACKEND.
const (
	PersistNone     = "none"
	PersistFile     = "file"
	PersistMemory   = "memory"
	PersistPostgres = "postgres"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	ListenAddr string
	// Cache store limits
	MaxEntries     int
	TargetEntries  int
	MaxEntryBytes  int64
	DefaultTTL     time.Duration
	DefaultStale   time.Duration
	AccessThrottle time.Duration
	// Revalidation scheduler
	RevalidateInterval    time.Duration // period of the interval trigger
	RevalidateWindow      time.Duration // keys unused for longer are not refreshed
	RevalidateConcurrency int           // max concurrent refreshes per pass (0 = unbounded)
	EventMinGap           time.Duration // min gap between event-triggered passes (0 = no debounce)
	// Persistence
	PersistBackend      string
	PersistFile         string
	PersistSaveInterval time.Duration
	DatabaseURL         string
	// Upstream producer transport
	UpstreamBaseURL  string
	UpstreamRPS      float64
	UpstreamBurst    int
	HTTPMaxRetries   int
	HTTPRetryBase    time.Duration
	HTTPTimeout      time.Duration
	BreakerFailures  int
	BreakerOpenDelay time.Duration
	// Observability settings
	LogLevel          string  // log level: debug, info, warn, error
	OTELEnabled       bool    // enable OpenTelemetry tracing
	OTELEndpoint      string  // OpenTelemetry collector endpoint
	OTELSampleRate    float64 // trace sampling rate (0.0 to 1.0)
	SentryDSN         string  // Sentry DSN for error reporting
	SentryEnvironment string  // Sentry environment (dev, staging, production)
	SentryRelease     string  // Sentry release version
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	cached = &Config{
		ListenAddr:            utils.GetEnvAsString("LISTEN_ADDR", ":8000"),
		MaxEntries:            utils.GetEnvAsInt("CACHE_MAX_ENTRIES", 500),
		TargetEntries:         utils.GetEnvAsInt("CACHE_TARGET_ENTRIES", 400),
		MaxEntryBytes:         utils.GetEnvAsInt64("CACHE_MAX_ENTRY_BYTES", 256*1024),
		DefaultTTL:            utils.GetEnvAsMillis("CACHE_DEFAULT_TTL_MS", 5*time.Minute),
		DefaultStale:          utils.GetEnvAsMillis("CACHE_DEFAULT_STALE_MS", time.Minute),
		AccessThrottle:        utils.GetEnvAsMillis("CACHE_ACCESS_THROTTLE_MS", 15*time.Second),
		RevalidateInterval:    utils.GetEnvAsMillis("REVALIDATE_INTERVAL_MS", 30*time.Second),
		RevalidateWindow:      utils.GetEnvAsMillis("REVALIDATE_WINDOW_MS", 5*time.Minute),
		RevalidateConcurrency: utils.GetEnvAsInt("REVALIDATE_CONCURRENCY", 8),
		EventMinGap:           utils.GetEnvAsMillis("REVALIDATE_EVENT_MIN_GAP_MS", time.Second),
		PersistBackend:        strings.ToLower(utils.GetEnvAsString("PERSIST_BACKEND", PersistNone)),
		PersistFile:           utils.GetEnvAsString("PERSIST_FILE", "swrcache.json"),
		PersistSaveInterval:   utils.GetEnvAsMillis("PERSIST_SAVE_INTERVAL_MS", time.Minute),
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		UpstreamBaseURL:       strings.TrimRight(strings.TrimSpace(os.Getenv("UPSTREAM_BASE_URL")), "/"),
		UpstreamRPS:           utils.GetEnvAsFloat("UPSTREAM_RPS", 10),
		UpstreamBurst:         utils.GetEnvAsInt("UPSTREAM_BURST", 5),
		HTTPMaxRetries:        utils.GetEnvAsInt("HTTP_MAX_RETRIES", 3),
		HTTPRetryBase:         utils.GetEnvAsMillis("HTTP_RETRY_BASE_MS", 300*time.Millisecond),
		HTTPTimeout:           utils.GetEnvAsMillis("HTTP_TIMEOUT_MS", 15*time.Second),
		BreakerFailures:       utils.GetEnvAsInt("UPSTREAM_BREAKER_FAILURES", 5),
		BreakerOpenDelay:      utils.GetEnvAsMillis("UPSTREAM_BREAKER_OPEN_MS", 60*time.Second),
		// Observability settings
		LogLevel:          strings.ToLower(utils.GetEnvAsString("LOG_LEVEL", "info")),
		OTELEnabled:       utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:    utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:         strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryEnvironment: strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT")),
		SentryRelease:     strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
	}
	if cached.SentryEnvironment == "" {
		if env := os.Getenv("ENV"); env != "" {
			cached.SentryEnvironment = env
		} else {
			cached.SentryEnvironment = "development"
		}
	}
	switch cached.PersistBackend {
	case PersistFile, PersistMemory, PersistPostgres:
	default:
		cached.PersistBackend = PersistNone
	}
	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }
