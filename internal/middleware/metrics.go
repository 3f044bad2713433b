package middleware

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/onnwee/swrcache/internal/metrics"
)

// Metrics records request duration per route template.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		metrics.APIRequestDuration.WithLabelValues(routeName(r), r.Method).Observe(time.Since(start).Seconds())
	})
}

// routeName returns the mux path template so keys do not explode label cardinality.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
