package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/swrcache/internal/errorreporting"
	"github.com/onnwee/swrcache/internal/metrics"
)

// DefaultActiveWindow bounds background work to recently used keys.
const DefaultActiveWindow = 5 * time.Minute

// Reason is what triggered a revalidation pass.
type Reason string

const (
	ReasonMount    Reason = "mount"
	ReasonFocus    Reason = "focus"
	ReasonVisible  Reason = "visible"
	ReasonOnline   Reason = "online"
	ReasonInterval Reason = "interval"
	ReasonManual   Reason = "manual"
)

// Report summarizes one revalidation pass.
type Report struct {
	Reason    Reason           `json:"reason"`
	Offline   bool             `json:"offline,omitempty"`
	Refreshed []string         `json:"refreshed"`
	Failed    map[string]error `json:"-"`
	Inactive  int              `json:"inactive"`
	Disabled  int              `json:"disabled"`
	Fresh     int              `json:"fresh"`
}

// FailedKeys returns the keys whose refresh failed, sorted.
func (r Report) FailedKeys() []string {
	keys := make([]string, 0, len(r.Failed))
	for k := range r.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RevalidateActive refreshes registered keys used within window whose policy
// allows reason. With onlyStale, keys whose entry is still fresh are skipped;
// keys with no entry count as stale. Refreshes run concurrently and their
// failures are collected in the report, never returned.
func (e *Engine) RevalidateActive(ctx context.Context, reason Reason, window time.Duration, onlyStale bool) Report {
	rep := Report{Reason: reason, Failed: make(map[string]error)}
	metrics.RevalidationPasses.WithLabelValues(string(reason)).Inc()

	if !e.lifecycle.Online() {
		rep.Offline = true
		return rep
	}
	if window <= 0 {
		window = DefaultActiveWindow
	}

	now := e.now()
	var due []Record
	for _, rec := range e.registry.Snapshot() {
		if now.Sub(rec.LastUsedAt) > window {
			rep.Inactive++
			continue
		}
		if !rec.Policy.allows(reason) {
			rep.Disabled++
			continue
		}
		if onlyStale {
			if st, ok := e.store.GetWithStatus(rec.Key, now); ok && !st.IsStale && !st.IsExpired {
				rep.Fresh++
				continue
			}
		}
		due = append(due, rec)
	}
	if len(due) == 0 {
		return rep
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	if e.cfg.RevalidateConcurrency > 0 {
		g.SetLimit(e.cfg.RevalidateConcurrency)
	}
	for _, rec := range due {
		rec := rec
		g.Go(func() error {
			_, err := e.fetch(ctx, rec.Key, rec.Fetcher, rec.Policy)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed[rec.Key] = err
				metrics.RevalidationRefreshes.WithLabelValues("failure").Inc()
				return nil
			}
			rep.Refreshed = append(rep.Refreshed, rec.Key)
			metrics.RevalidationRefreshes.WithLabelValues("success").Inc()
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(rep.Refreshed)
	for _, key := range rep.FailedKeys() {
		err := rep.Failed[key]
		e.log.Warn("Revalidation failed", "key", key, "reason", reason, "error", err)
		errorreporting.CaptureRevalidationFailure(err, key, string(reason))
	}
	if len(rep.Refreshed) > 0 || len(rep.Failed) > 0 {
		e.log.Debug("Revalidation pass complete",
			"reason", reason,
			"refreshed", len(rep.Refreshed),
			"failed", len(rep.Failed),
			"inactive", rep.Inactive)
	}
	return rep
}
