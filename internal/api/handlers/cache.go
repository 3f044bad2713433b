package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/onnwee/swrcache/internal/apierr"
	"github.com/onnwee/swrcache/internal/circuitbreaker"
	"github.com/onnwee/swrcache/internal/engine"
	"github.com/onnwee/swrcache/internal/logger"
	"github.com/onnwee/swrcache/internal/upstream"
)

// Producer hands out fetchers for cache keys.
type Producer interface {
	Fetcher(key string) engine.Fetcher
}

// CacheEntryResponse is the body of GET /cache/{key}.
type CacheEntryResponse struct {
	Key       string `json:"key"`
	Data      any    `json:"data"`
	FromCache bool   `json:"fromCache"`
	IsStale   bool   `json:"isStale"`
	Error     string `json:"error,omitempty"`
}

// CacheHandler serves cache reads and administration.
type CacheHandler struct {
	eng      *engine.Engine
	producer Producer
	policy   engine.Policy
	window   time.Duration
}

// NewCacheHandler creates a cache handler. producer may be nil, in which
// case reads only answer from the cache.
func NewCacheHandler(eng *engine.Engine, producer Producer, policy engine.Policy, window time.Duration) *CacheHandler {
	return &CacheHandler{eng: eng, producer: producer, policy: policy, window: window}
}

// GetEntry returns the value for key, fetching it upstream on a miss.
// ?cached=true answers from the cache only.
// GET /cache/{key}
func (h *CacheHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	cachedOnly, _ := strconv.ParseBool(r.URL.Query().Get("cached"))

	if cachedOnly || h.producer == nil {
		data, ok := h.eng.GetCached(key)
		if !ok {
			apierr.WriteErrorWithContext(w, r, apierr.CacheMiss(key))
			return
		}
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, CacheEntryResponse{Key: key, Data: data, FromCache: true})
		return
	}

	res, err := h.eng.GetOrFetch(r.Context(), key, h.producer.Fetcher(key), h.policy)
	if err != nil {
		writeFetchError(w, r, key, err)
		return
	}

	resp := CacheEntryResponse{Key: key, Data: res.Data, FromCache: res.FromCache, IsStale: res.IsStale}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	w.Header().Set("X-Cache", cacheStatus(res))
	writeJSON(w, http.StatusOK, resp)
}

// RefreshEntry refetches key with its registered producer, or with the
// upstream producer when the key was never fetched. Untracked keys fail
// with 503 when no upstream is configured.
// POST /cache/{key}/refresh
func (h *CacheHandler) RefreshEntry(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	var (
		data any
		err  error
	)
	if _, tracked := h.eng.Registry().Get(key); tracked {
		data, err = h.eng.Refresh(r.Context(), key)
	} else if h.producer != nil {
		data, err = h.eng.FetchAndCache(r.Context(), key, h.producer.Fetcher(key), h.policy)
	} else {
		apierr.WriteErrorWithContext(w, r, apierr.UpstreamNotConfigured())
		return
	}
	if err != nil {
		writeFetchError(w, r, key, err)
		return
	}
	writeJSON(w, http.StatusOK, CacheEntryResponse{Key: key, Data: data})
}

// DeleteEntry invalidates one key.
// DELETE /cache/{key}
func (h *CacheHandler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	removed := h.eng.Invalidate(key)
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "removed": removed})
}

// DeletePrefix invalidates every key starting with ?prefix=.
// DELETE /cache?prefix=
func (h *CacheHandler) DeletePrefix(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("prefix"))
		return
	}
	n := h.eng.InvalidatePrefix(prefix)
	writeJSON(w, http.StatusOK, map[string]interface{}{"prefix": prefix, "removed": n})
}

// Clear drops every entry. ?registry=true also forgets registered producers.
// POST /cache/clear
func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.eng.ClearAll()
	withRegistry, _ := strconv.ParseBool(r.URL.Query().Get("registry"))
	if withRegistry {
		h.eng.ClearRegistry()
	}
	logger.InfoContext(r.Context(), "Cache cleared via API", "registry", withRegistry)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Cache cleared successfully",
	})
}

// GetStats returns engine statistics.
// GET /cache/stats
func (h *CacheHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.GetStats())
}

// RevalidateResponse is the body of POST /revalidate.
type RevalidateResponse struct {
	engine.Report
	Failed map[string]string `json:"failed"`
}

// Revalidate runs a manual pass over recently used keys. ?all=true also
// refreshes keys that are still fresh.
// POST /revalidate
func (h *CacheHandler) Revalidate(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	rep := h.eng.RevalidateActive(r.Context(), engine.ReasonManual, h.window, !all)
	writeJSON(w, http.StatusOK, newRevalidateResponse(rep))
}

func newRevalidateResponse(rep engine.Report) RevalidateResponse {
	failed := make(map[string]string, len(rep.Failed))
	for k, err := range rep.Failed {
		failed[k] = err.Error()
	}
	if rep.Refreshed == nil {
		rep.Refreshed = []string{}
	}
	return RevalidateResponse{Report: rep, Failed: failed}
}

func cacheStatus(res engine.Result) string {
	switch {
	case !res.FromCache:
		return "MISS"
	case res.IsStale:
		return "STALE"
	default:
		return "HIT"
	}
}

// writeFetchError maps engine and upstream failures to API errors.
func writeFetchError(w http.ResponseWriter, r *http.Request, key string, err error) {
	var se *upstream.StatusError
	switch {
	case errors.Is(err, engine.ErrOfflineNoData):
		apierr.WriteErrorWithContext(w, r, apierr.CacheOfflineEmpty(key))
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		apierr.WriteErrorWithContext(w, r, apierr.UpstreamUnavailable())
	case errors.As(err, &se) && se.Status == http.StatusNotFound:
		apierr.WriteErrorWithContext(w, r, apierr.UpstreamNotFound(key))
	case errors.Is(err, upstream.ErrInvalidKey):
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("key", "Key segments may not be . or .."))
	case errors.Is(err, context.DeadlineExceeded):
		apierr.WriteErrorWithContext(w, r, apierr.SystemTimeout(""))
	default:
		logger.WarnContext(r.Context(), "Fetch failed", "key", key, "error", err)
		apierr.WriteErrorWithContext(w, r, apierr.UpstreamFailed(""))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
