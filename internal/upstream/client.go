// Package upstream builds cache producers that fetch JSON documents over
// HTTP. Requests share one rate limiter and one circuit breaker, and each
// request goes through the retrying transport in httpx.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/swrcache/internal/circuitbreaker"
	"github.com/onnwee/swrcache/internal/config"
	"github.com/onnwee/swrcache/internal/engine"
	"github.com/onnwee/swrcache/internal/httpx"
	"github.com/onnwee/swrcache/internal/logger"
	"github.com/onnwee/swrcache/internal/metrics"
)

const maxBodyBytes = 8 << 20

var (
	// ErrNotConfigured is returned by New without a base URL.
	ErrNotConfigured = errors.New("upstream base URL not configured")

	// ErrInvalidJSON means the upstream answered 2xx with a body that is not JSON.
	ErrInvalidJSON = errors.New("upstream returned invalid JSON")

	// ErrInvalidKey means a key segment would climb out of the base path.
	ErrInvalidKey = errors.New("invalid cache key for upstream path")
)

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s: status %d", e.URL, e.Status)
}

// Options configures a Client.
type Options struct {
	BaseURL          string
	Timeout          time.Duration
	RPS              float64 // 0 disables rate limiting
	Burst            int
	Retry            httpx.Options
	BreakerFailures  int
	BreakerOpenDelay time.Duration
}

// OptionsFromConfig maps environment config onto client options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:          cfg.UpstreamBaseURL,
		Timeout:          cfg.HTTPTimeout,
		RPS:              cfg.UpstreamRPS,
		Burst:            cfg.UpstreamBurst,
		Retry:            httpx.Options{MaxAttempts: cfg.HTTPMaxRetries, BaseDelay: cfg.HTTPRetryBase},
		BreakerFailures:  cfg.BreakerFailures,
		BreakerOpenDelay: cfg.BreakerOpenDelay,
	}
}

// Client fetches JSON documents relative to a base URL.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	retry   httpx.Options
	log     *slog.Logger
}

// New validates opts and returns a client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, ErrNotConfigured
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse upstream base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream base URL must be http or https, got %q", base.Scheme)
	}

	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		base:    base,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "upstream",
			FailureThreshold: opts.BreakerFailures,
			Timeout:          opts.BreakerOpenDelay,
		}),
		retry: opts.Retry,
		log:   logger.WithComponent("upstream"),
	}, nil
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

// PathFor maps a cache key to an upstream path: segments separated by ':'
// become path segments, each escaped. "." and ".." segments are rejected
// since JoinPath would resolve them against the base path.
func PathFor(key string) (string, error) {
	parts := strings.Split(key, ":")
	for i, p := range parts {
		if p == "." || p == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
		parts[i] = url.PathEscape(p)
	}
	return "/" + strings.Join(parts, "/"), nil
}

// Fetcher returns a producer fetching the document for key. Keys PathFor
// rejects yield a producer that fails without calling the upstream.
func (c *Client) Fetcher(key string) engine.Fetcher {
	path, err := PathFor(key)
	return func(ctx context.Context) (any, error) {
		if err != nil {
			return nil, err
		}
		return c.Get(ctx, path)
	}
}

// Get fetches path and returns the body as raw JSON. 4xx responses are
// returned as *StatusError without tripping the breaker.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	target := c.base.JoinPath(path).String()

	var body json.RawMessage
	err := c.breaker.CallCounting(func() error {
		var err error
		body, err = c.get(ctx, target)
		return err
	}, countsAgainstBreaker)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		c.log.Warn("Upstream circuit open, skipping request", "url", target)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) get(ctx context.Context, target string) (json.RawMessage, error) {
	opts := c.retry
	opts.Pre = c.wait
	resp, err := httpx.Do(ctx, c.http, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{Status: resp.StatusCode, URL: target}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("%w from %s", ErrInvalidJSON, target)
	}
	return json.RawMessage(b), nil
}

// wait blocks on the shared limiter before each attempt.
func (c *Client) wait(ctx context.Context, attempt int) error {
	if c.limiter.Limit() == rate.Inf {
		return nil
	}
	if !c.limiter.Allow() {
		metrics.UpstreamRateLimitWaits.Inc()
		return c.limiter.Wait(ctx)
	}
	return nil
}

func countsAgainstBreaker(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrInvalidJSON) && !errors.Is(err, context.Canceled)
}
