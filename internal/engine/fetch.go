package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/onnwee/swrcache/internal/errorreporting"
	"github.com/onnwee/swrcache/internal/logger"
	"github.com/onnwee/swrcache/internal/metrics"
	"github.com/onnwee/swrcache/internal/store"
	"github.com/onnwee/swrcache/internal/tracing"
)

// GetOrFetch returns the data for key, fetching it with fetcher when the
// cache cannot answer.
//
// Offline, it answers from whatever is cached (marked stale) or fails with
// ErrOfflineNoData without calling fetcher. Fresh hits return immediately.
// Stale hits either block on a refetch (AllowStale false) or are served as
// is with an optional background refresh. Misses fetch; if that fails and an
// expired copy was found, the copy is served with Result.Err set.
func (e *Engine) GetOrFetch(ctx context.Context, key string, fetcher Fetcher, p Policy) (Result, error) {
	if fetcher == nil {
		return Result{}, ErrNilFetcher
	}
	p = e.normalize(p)
	now := e.now()
	e.registry.Register(key, fetcher, p, now)

	st, cached := e.store.GetWithStatus(key, now)

	if !e.lifecycle.Online() {
		if cached {
			metrics.CacheLookups.WithLabelValues("offline").Inc()
			e.store.Touch(key, now)
			return Result{Data: st.Entry.Data, FromCache: true, IsStale: true}, nil
		}
		metrics.CacheLookups.WithLabelValues("offline_miss").Inc()
		return Result{}, ErrOfflineNoData
	}

	var fallback *store.Entry
	if cached && st.IsExpired {
		metrics.CacheLookups.WithLabelValues("expired").Inc()
		e.store.Delete(key)
		fallback = &st.Entry
		cached = false
	}

	if cached {
		e.store.Touch(key, now)
		switch {
		case !st.IsStale:
			metrics.CacheLookups.WithLabelValues("fresh").Inc()
			return Result{Data: st.Entry.Data, FromCache: true}, nil
		case !p.AllowStale:
			metrics.CacheLookups.WithLabelValues("stale_blocking").Inc()
			v, err := e.fetch(ctx, key, fetcher, p)
			if err != nil {
				return Result{}, err
			}
			return Result{Data: v}, nil
		default:
			metrics.CacheLookups.WithLabelValues("stale").Inc()
			res := Result{Data: st.Entry.Data, FromCache: true, IsStale: true}
			if p.Background {
				res.Revalidation = e.refreshInBackground(key, fetcher, p, "swr")
			}
			return res, nil
		}
	}

	if fallback == nil {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
	v, err := e.fetch(ctx, key, fetcher, p)
	if err != nil {
		if fallback != nil && ctx.Err() == nil {
			metrics.StaleFallbacks.Inc()
			e.log.Warn("Serving expired data after fetch failure", "key", key, "error", err)
			return Result{Data: fallback.Data, FromCache: true, IsStale: true, Err: err}, nil
		}
		return Result{}, err
	}
	return Result{Data: v}, nil
}

// FetchAndCache always runs the single-flight fetch for key and writes the
// result, bypassing the fresh/stale branching of GetOrFetch.
func (e *Engine) FetchAndCache(ctx context.Context, key string, fetcher Fetcher, p Policy) (any, error) {
	if fetcher == nil {
		return nil, ErrNilFetcher
	}
	p = e.normalize(p)
	e.registry.Register(key, fetcher, p, e.now())
	return e.fetch(ctx, key, fetcher, p)
}

// Refresh refetches a registered key with its stored fetcher and policy.
func (e *Engine) Refresh(ctx context.Context, key string) (any, error) {
	rec, ok := e.registry.Get(key)
	if !ok {
		return nil, fmt.Errorf("refresh %s: %w", key, ErrNilFetcher)
	}
	e.registry.Touch(key, e.now())
	return e.fetch(ctx, key, rec.Fetcher, rec.Policy)
}

// fetch joins or starts the in-flight fetch for key. The fetch itself runs
// detached from ctx: a caller that stops waiting does not cancel it, and its
// result is still cached and broadcast.
func (e *Engine) fetch(ctx context.Context, key string, fetcher Fetcher, p Policy) (any, error) {
	e.mu.Lock()
	group, gen := e.flights, e.gen
	e.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := group.DoChan(key, func() (any, error) {
		return e.produce(detached, key, fetcher, p, gen)
	})

	select {
	case r := <-ch:
		if r.Shared {
			metrics.SingleFlightShared.Inc()
		}
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// produce invokes the producer once and routes a success through the
// write/notify path.
func (e *Engine) produce(ctx context.Context, key string, fetcher Fetcher, p Policy, gen uint64) (any, error) {
	ctx, span := tracing.StartFetchSpan(ctx, key)
	start := time.Now()
	v, err := callProducer(ctx, fetcher)
	elapsed := time.Since(start)
	metrics.ProducerDuration.Observe(elapsed.Seconds())
	logger.DebugContext(ctx, "Producer call finished", "key", key, "duration", elapsed, "error", err)
	tracing.End(span, err)

	if err != nil {
		metrics.ProducerCalls.WithLabelValues("failure").Inc()
		return nil, &ProducerError{Key: key, Err: err}
	}
	metrics.ProducerCalls.WithLabelValues("success").Inc()

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		metrics.SupersededResults.Inc()
		e.log.Debug("Discarding result of superseded fetch", "key", key)
		return v, nil
	}
	e.putLocked(key, store.NewEntry(key, v, e.now(), p.TTL, p.Stale))
	e.mu.Unlock()

	e.bus.Publish(key, v)
	return v, nil
}

func callProducer(ctx context.Context, fetcher Fetcher) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProducerPanic, r)
		}
	}()
	return fetcher(ctx)
}

// refreshInBackground starts a tracked refresh of key. The returned channel
// yields its outcome once; it is nil when the engine is closed.
func (e *Engine) refreshInBackground(key string, fetcher Fetcher, p Policy, reason string) <-chan Outcome {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.bg.Add(1)
	e.mu.Unlock()

	out := make(chan Outcome, 1)
	go func() {
		defer e.bg.Done()
		defer close(out)
		v, err := e.fetch(context.Background(), key, fetcher, p)
		if err != nil {
			e.log.Warn("Background refresh failed", "key", key, "reason", reason, "error", err)
			errorreporting.CaptureRevalidationFailure(err, key, reason)
		}
		out <- Outcome{Data: v, Err: err}
	}()
	return out
}
