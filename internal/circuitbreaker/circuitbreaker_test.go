package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time          { return c.t }
func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(failures, successes int) (*CircuitBreaker, *stepClock) {
	clock := &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := New(Config{
		Name:             "test",
		FailureThreshold: failures,
		SuccessThreshold: successes,
		Timeout:          time.Minute,
		Now:              clock.now,
	})
	return cb, clock
}

func TestCircuitBreakerStateClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, 2)

	if err := cb.CallCounting(func() error { return nil }, nil); err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to be Closed, got %v", cb.GetState())
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, 2)
	testErr := errors.New("test error")

	for i := 0; i < 3; i++ {
		if err := cb.CallCounting(func() error { return testErr }, nil); err != testErr {
			t.Errorf("Expected test error, got: %v", err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Errorf("Expected state to be Open, got %v", cb.GetState())
	}

	called := false
	err := cb.CallCounting(func() error { called = true; return nil }, nil)
	if err != ErrCircuitOpen {
		t.Errorf("Expected ErrCircuitOpen, got: %v", err)
	}
	if called {
		t.Error("Expected open breaker not to call fn")
	}
}

func TestCircuitBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(2, 2)
	testErr := errors.New("test error")

	cb.CallCounting(func() error { return testErr }, nil)
	cb.CallCounting(func() error { return testErr }, nil)

	clock.advance(time.Minute + time.Second)

	if err := cb.CallCounting(func() error { return nil }, nil); err != nil {
		t.Errorf("Expected success in half-open state, got: %v", err)
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected state to be HalfOpen after one success, got %v", cb.GetState())
	}
}

func TestCircuitBreakerClosesAfterSuccesses(t *testing.T) {
	cb, clock := newTestBreaker(2, 2)
	testErr := errors.New("test error")

	cb.CallCounting(func() error { return testErr }, nil)
	cb.CallCounting(func() error { return testErr }, nil)
	clock.advance(2 * time.Minute)

	cb.CallCounting(func() error { return nil }, nil)
	cb.CallCounting(func() error { return nil }, nil)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to be Closed, got %v", cb.GetState())
	}
}

func TestCircuitBreakerReopensOnFailureInHalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(2, 2)
	testErr := errors.New("test error")

	cb.CallCounting(func() error { return testErr }, nil)
	cb.CallCounting(func() error { return testErr }, nil)
	clock.advance(2 * time.Minute)

	cb.CallCounting(func() error { return testErr }, nil)

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state to be Open after failure in half-open, got %v", cb.GetState())
	}
}

func TestCircuitBreakerIgnoresUncountedErrors(t *testing.T) {
	cb, _ := newTestBreaker(1, 1)
	notFound := errors.New("not found")

	err := cb.CallCounting(func() error { return notFound }, func(err error) bool { return err != notFound })
	if err != notFound {
		t.Errorf("Expected error to pass through, got %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("Expected uncounted error to leave breaker closed, got %v", cb.GetState())
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
