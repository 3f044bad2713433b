package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/onnwee/swrcache/internal/metrics"
)

func TestMetrics_UsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Metrics)
	r.HandleFunc("/cache/{key}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	before := testutil.CollectAndCount(metrics.APIRequestDuration)
	for _, key := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/cache/"+key, nil))
	}
	after := testutil.CollectAndCount(metrics.APIRequestDuration)

	if after-before > 1 {
		t.Errorf("expected one series for the route template, got %d new series", after-before)
	}
}
