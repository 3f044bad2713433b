package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/swrcache/internal/api/handlers"
	"github.com/onnwee/swrcache/internal/engine"
	"github.com/onnwee/swrcache/internal/middleware"
)

// Deps are the components the HTTP surface drives.
type Deps struct {
	Engine    *engine.Engine
	Scheduler *engine.Scheduler
	Producer  handlers.Producer // nil serves reads from the cache only
	Policy    engine.Policy
	Window    time.Duration
}

// NewRouter wires every route with the shared middleware chain.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.RecoverWithSentry, middleware.Metrics, middleware.Compress)

	cache := handlers.NewCacheHandler(d.Engine, d.Producer, d.Policy, d.Window)
	lifecycle := handlers.NewLifecycleHandler(d.Engine, d.Scheduler)
	ws := handlers.NewWebSocketHandler(d.Engine)

	// Static cache routes first so they are not captured by {key}
	r.HandleFunc("/cache/stats", cache.GetStats).Methods(http.MethodGet)
	r.HandleFunc("/cache/clear", cache.Clear).Methods(http.MethodPost)
	r.HandleFunc("/cache", cache.DeletePrefix).Methods(http.MethodDelete)

	r.Handle("/cache/{key}", middleware.ETag(http.HandlerFunc(cache.GetEntry))).Methods(http.MethodGet)
	r.HandleFunc("/cache/{key}/refresh", cache.RefreshEntry).Methods(http.MethodPost)
	r.HandleFunc("/cache/{key}", cache.DeleteEntry).Methods(http.MethodDelete)

	r.HandleFunc("/revalidate", cache.Revalidate).Methods(http.MethodPost)
	r.HandleFunc("/lifecycle/{event}", lifecycle.HandleEvent).Methods(http.MethodPost)
	r.HandleFunc("/ws/keys/{key}", ws.HandleWebSocket).Methods(http.MethodGet)

	r.HandleFunc("/health", handlers.Health(d.Engine)).Methods(http.MethodGet)
	// Compress already encodes the body
	metricsHandler := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{DisableCompression: true})
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	return r
}
