package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Fetcher produces the payload for a key. It may be re-run by the scheduler
// at any time, so it must be safe to call repeatedly.
type Fetcher func(ctx context.Context) (any, error)

// Policy controls caching and refresh for one resource family.
type Policy struct {
	TTL                  time.Duration // hard expiry; entries past it are misses
	Stale                time.Duration // soft refresh threshold, clamped to TTL; 0 disables
	AllowStale           bool          // serve stale data instead of blocking on a refetch
	Background           bool          // refresh stale data in the background when served
	RevalidateOnFocus    bool          // refresh on focus, visible and mount triggers
	RevalidateOnInterval bool          // refresh on the scheduler's timer
}

// DefaultPolicy serves stale data while revalidating on every trigger.
func DefaultPolicy(ttl, stale time.Duration) Policy {
	return Policy{
		TTL:                  ttl,
		Stale:                stale,
		AllowStale:           true,
		Background:           true,
		RevalidateOnFocus:    true,
		RevalidateOnInterval: true,
	}
}

// allows reports whether a pass triggered for reason may refresh this key.
func (p Policy) allows(reason Reason) bool {
	switch reason {
	case ReasonFocus, ReasonVisible, ReasonMount:
		return p.RevalidateOnFocus
	case ReasonInterval:
		return p.RevalidateOnInterval
	default:
		return true
	}
}

var (
	// ErrOfflineNoData means the environment is offline and nothing is cached.
	ErrOfflineNoData = errors.New("offline and no cached data")

	// ErrNilFetcher is returned when an operation needs a producer and got none.
	ErrNilFetcher = errors.New("nil fetcher")

	// ErrProducerPanic wraps a recovered producer panic.
	ErrProducerPanic = errors.New("producer panicked")
)

// ProducerError is a failed producer invocation.
type ProducerError struct {
	Key string
	Err error
}

func (e *ProducerError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *ProducerError) Unwrap() error { return e.Err }

// Outcome is the settled result of a background refresh.
type Outcome struct {
	Data any
	Err  error
}

// Result is what GetOrFetch hands back.
//
// A nil error with Err set means the producer failed and stale data was
// served in its place. Revalidation is non-nil when a background refresh was
// started; it yields exactly one Outcome and is then closed.
type Result struct {
	Data         any
	FromCache    bool
	IsStale      bool
	Err          error
	Revalidation <-chan Outcome
}
