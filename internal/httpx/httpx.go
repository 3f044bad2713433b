// Package httpx wraps outbound HTTP requests with bounded retries that honor
// Retry-After and back off with jitter between attempts.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/swrcache/internal/config"
	"github.com/onnwee/swrcache/internal/logger"
	"github.com/onnwee/swrcache/internal/metrics"
)

// ErrRetriesExhausted is returned when every attempt failed at the transport level.
var ErrRetriesExhausted = errors.New("exhausted retries")

// PreAttempt lets callers run logic (e.g., rate limiting) before each try; return an error to abort.
type PreAttempt func(ctx context.Context, attempt int) error

// AttemptInfo describes a single attempt outcome.
type AttemptInfo struct {
	Attempt int
	Method  string
	URL     string
	Status  int
	Err     error
	Wait    time.Duration
}

// Observer callback to report attempt telemetry.
type Observer func(info AttemptInfo)

// Options bounds the retry loop.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Pre         PreAttempt
	Observer    Observer
}

// OptionsFromConfig reads retry settings from the environment config.
func OptionsFromConfig() Options {
	cfg := config.Load()
	return Options{MaxAttempts: cfg.HTTPMaxRetries, BaseDelay: cfg.HTTPRetryBase}
}

// Retryable reports whether a response status is worth another attempt.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Do sends the request built by build, retrying transport errors, 429s and
// 5xx responses. The last retryable response is returned as is when
// attempts run out. Waits end early when ctx is done.
func Do(ctx context.Context, client *http.Client, build func(ctx context.Context) (*http.Request, error), opts Options) (*http.Response, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	log := logger.WithComponent("httpx")
	report := func(info AttemptInfo) {
		if opts.Observer != nil {
			opts.Observer(info)
		}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if opts.Pre != nil {
			if err := opts.Pre(ctx, attempt); err != nil {
				return nil, err
			}
		}
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		info := AttemptInfo{Attempt: attempt, Method: req.Method, URL: req.URL.String()}

		resp, err := client.Do(req)
		var wait time.Duration
		if err != nil {
			metrics.UpstreamRequests.WithLabelValues("error").Inc()
			info.Err = err
			if attempt == maxAttempts || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Debug("Giving up on request", "attempt", attempt, "method", req.Method, "url", req.URL.Redacted(), "error", err)
				report(info)
				return nil, err
			}
		} else {
			info.Status = resp.StatusCode
			if !Retryable(resp.StatusCode) {
				metrics.UpstreamRequests.WithLabelValues("success").Inc()
				if attempt > 1 {
					log.Debug("Request succeeded after retry", "attempt", attempt, "status", resp.StatusCode, "url", req.URL.Redacted())
				}
				report(info)
				return resp, nil
			}
			metrics.UpstreamRequests.WithLabelValues("retry").Inc()
			if attempt == maxAttempts {
				log.Debug("Giving up on request", "attempt", attempt, "status", resp.StatusCode, "url", req.URL.Redacted())
				report(info)
				return resp, nil
			}
			if ra, ok := RetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
				wait = ra
				metrics.UpstreamRetryAfterWaits.Observe(wait.Seconds())
			}
			resp.Body.Close()
		}

		if wait == 0 {
			jitter := time.Duration(rand.Intn(200)) * time.Millisecond
			wait = opts.BaseDelay*time.Duration(attempt) + jitter
		}
		info.Wait = wait
		report(info)
		log.Debug("Backing off before retry", "attempt", attempt, "wait", wait, "method", req.Method, "url", req.URL.Redacted())

		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, maxAttempts)
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func RetryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
