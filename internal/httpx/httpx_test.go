package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/swrcache/internal/config"
)

func getter(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestDo_RespectsRetryAfterSeconds(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	start := time.Now()
	resp, err := Do(context.Background(), ts.Client(), getter(ts.URL), Options{MaxAttempts: 2, BaseDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if time.Since(start) < 900*time.Millisecond {
		t.Fatalf("expected to wait for Retry-After; waited %v", time.Since(start))
	}
}

func TestDo_StopsOnSuccess(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	resp, err := Do(context.Background(), ts.Client(), getter(ts.URL), Options{MaxAttempts: 3, BaseDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if attempts.Load() != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestDo_DoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	resp, err := Do(context.Background(), ts.Client(), getter(ts.URL), Options{MaxAttempts: 3, BaseDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound || attempts.Load() != 1 {
		t.Fatalf("expected a single 404 attempt, got status %d after %d attempts", resp.StatusCode, attempts.Load())
	}
}

func TestDo_ObserverAndBackoffOn5xx(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	var preCalls []int
	var observed []AttemptInfo
	opts := Options{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Millisecond,
		Pre: func(ctx context.Context, attempt int) error {
			preCalls = append(preCalls, attempt)
			return nil
		},
		Observer: func(info AttemptInfo) { observed = append(observed, info) },
	}

	start := time.Now()
	resp, err := Do(context.Background(), ts.Client(), getter(ts.URL), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if len(preCalls) != 3 {
		t.Fatalf("expected preAttempt called 3 times, got %d", len(preCalls))
	}
	if elapsed := time.Since(start); elapsed < 12*time.Millisecond {
		t.Fatalf("expected backoff to take effect, elapsed=%v", elapsed)
	}
	hadWait := false
	for _, oi := range observed {
		if oi.Wait > 0 {
			hadWait = true
			break
		}
	}
	if !hadWait {
		t.Fatalf("expected observer to record at least one wait > 0")
	}
}

func TestDo_MaxRetriesExceededReturnsLastResponse(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	resp, err := Do(context.Background(), ts.Client(), getter(ts.URL), Options{MaxAttempts: 2, BaseDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestDo_PreAttemptAborts(t *testing.T) {
	abort := errors.New("rate limited")
	_, err := Do(context.Background(), http.DefaultClient, getter("http://127.0.0.1:1"), Options{
		MaxAttempts: 3,
		Pre:         func(context.Context, int) error { return abort },
	})
	if !errors.Is(err, abort) {
		t.Errorf("expected pre-attempt error, got %v", err)
	}
}

func TestDo_ContextCancelDuringBackoff(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Do(ctx, ts.Client(), getter(ts.URL), Options{MaxAttempts: 5, BaseDelay: time.Hour})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in     string
		want   time.Duration
		wantOK bool
	}{
		{"", 0, false},
		{"3", 3 * time.Second, true},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second, true},
		{now.Add(-time.Second).Format(http.TimeFormat), 0, false},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, ok := RetryAfter(tt.in, now)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("RetryAfter(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	os.Setenv("HTTP_MAX_RETRIES", "7")
	os.Setenv("HTTP_RETRY_BASE_MS", "25")
	t.Cleanup(func() {
		os.Unsetenv("HTTP_MAX_RETRIES")
		os.Unsetenv("HTTP_RETRY_BASE_MS")
		config.ResetForTest()
	})
	config.ResetForTest()

	opts := OptionsFromConfig()
	if opts.MaxAttempts != 7 || opts.BaseDelay != 25*time.Millisecond {
		t.Errorf("unexpected options %+v", opts)
	}
}
