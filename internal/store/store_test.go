package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestStore_SetAndGet(t *testing.T) {
	s := New(DefaultLimits(), DefaultAccessThrottle)

	s.Set("user:1", NewEntry("ignored", "alice", t0, time.Minute, 0))

	e, found := s.Get("user:1")
	if !found {
		t.Fatal("Expected to find cached entry")
	}
	if e.Key != "user:1" {
		t.Errorf("Expected key to be normalized to user:1, got %s", e.Key)
	}
	if e.Data != "alice" {
		t.Errorf("Expected alice, got %v", e.Data)
	}
	if e.SizeBytes != int64(len("alice")) {
		t.Errorf("Expected size %d, got %d", len("alice"), e.SizeBytes)
	}

	if _, found := s.Get("missing"); found {
		t.Error("Expected not to find missing key")
	}
}

func TestStore_GetWithStatus(t *testing.T) {
	s := New(DefaultLimits(), DefaultAccessThrottle)
	s.Set("k", NewEntry("k", 1, t0, 10*time.Second, 5*time.Second))

	tests := []struct {
		name        string
		at          time.Time
		wantStale   bool
		wantExpired bool
	}{
		{name: "fresh", at: t0.Add(time.Second)},
		{name: "stale", at: t0.Add(6 * time.Second), wantStale: true},
		{name: "stale boundary", at: t0.Add(5 * time.Second), wantStale: true},
		{name: "expired", at: t0.Add(11 * time.Second), wantStale: true, wantExpired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := s.GetWithStatus("k", tt.at)
			if !ok {
				t.Fatal("Expected status for k")
			}
			if st.IsStale != tt.wantStale {
				t.Errorf("IsStale = %v, want %v", st.IsStale, tt.wantStale)
			}
			if st.IsExpired != tt.wantExpired {
				t.Errorf("IsExpired = %v, want %v", st.IsExpired, tt.wantExpired)
			}
		})
	}
}

func TestNewEntry_StaleClamp(t *testing.T) {
	tests := []struct {
		ttl, stale, want time.Duration
	}{
		{ttl: time.Minute, stale: 2 * time.Minute, want: time.Minute},
		{ttl: time.Minute, stale: time.Hour, want: time.Minute},
		{ttl: time.Minute, stale: 30 * time.Second, want: 30 * time.Second},
		{ttl: time.Minute, stale: time.Minute, want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("ttl=%s/stale=%s", tt.ttl, tt.stale), func(t *testing.T) {
			e := NewEntry("k", "v", t0, tt.ttl, tt.stale)
			if got := e.StaleAt.Sub(t0); got != tt.want {
				t.Errorf("effective stale window = %s, want %s", got, tt.want)
			}
			if e.StaleAt.After(e.ExpiresAt) {
				t.Errorf("staleAt %s after expiresAt %s", e.StaleAt, e.ExpiresAt)
			}
		})
	}

	if e := NewEntry("k", "v", t0, time.Minute, 0); !e.StaleAt.IsZero() {
		t.Errorf("Expected no staleAt without a stale window, got %s", e.StaleAt)
	}
}

func TestStore_DeleteByPrefix(t *testing.T) {
	s := New(DefaultLimits(), DefaultAccessThrottle)
	for _, k := range []string{"calendar:events:1", "calendar:plans:2", "stats:1"} {
		s.Set(k, NewEntry(k, k, t0, time.Minute, 0))
	}

	removed := s.DeleteByPrefix("calendar:")
	sort.Strings(removed)
	if strings.Join(removed, ",") != "calendar:events:1,calendar:plans:2" {
		t.Errorf("unexpected removed keys: %v", removed)
	}
	if _, ok := s.Get("stats:1"); !ok {
		t.Error("Expected stats:1 to survive prefix invalidation")
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 entry left, got %d", s.Len())
	}
}

func TestStore_DeleteAndClear(t *testing.T) {
	s := New(DefaultLimits(), DefaultAccessThrottle)
	s.Set("a", NewEntry("a", 1, t0, time.Minute, 0))
	s.Set("b", NewEntry("b", 2, t0, time.Minute, 0))

	if !s.Delete("a") {
		t.Error("Expected Delete to report a present key")
	}
	if s.Delete("a") {
		t.Error("Expected second Delete to report absence")
	}
	if n := s.Clear(); n != 1 {
		t.Errorf("Expected Clear to drop 1 entry, got %d", n)
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty store, got %d", s.Len())
	}
}

func TestStore_TouchIsThrottled(t *testing.T) {
	s := New(DefaultLimits(), 15*time.Second)
	s.Set("k", NewEntry("k", 1, t0, time.Hour, 0))

	if !s.Touch("k", t0.Add(time.Second)) {
		t.Fatal("Expected first touch to be recorded")
	}
	if s.Touch("k", t0.Add(10*time.Second)) {
		t.Error("Expected touch within throttle to be coalesced")
	}
	e, _ := s.Get("k")
	if !e.LastAccessedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("Expected lastAccessedAt to stay at first touch, got %s", e.LastAccessedAt)
	}
	if !s.Touch("k", t0.Add(17*time.Second)) {
		t.Error("Expected touch after throttle to be recorded")
	}
	if s.Touch("missing", t0) {
		t.Error("Expected touch on missing key to be a no-op")
	}
}

func TestStore_Stats(t *testing.T) {
	s := New(DefaultLimits(), DefaultAccessThrottle)
	s.Set("old", NewEntry("old", "xx", t0, time.Second, 0))
	s.Set("new", NewEntry("new", "yyy", t0, time.Hour, 0))

	st := s.Stats(t0.Add(time.Minute))
	if st.Entries != 2 || st.Expired != 1 || st.Valid != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if st.TotalBytes != 5 {
		t.Errorf("Expected 5 total bytes, got %d", st.TotalBytes)
	}
}

func TestStore_SnapshotRestore(t *testing.T) {
	src := New(DefaultLimits(), DefaultAccessThrottle)
	src.Set("live", NewEntry("live", map[string]int{"n": 1}, t0, time.Hour, time.Minute))
	src.Set("dead", NewEntry("dead", "gone", t0, time.Second, 0))

	b, err := src.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	dst := New(DefaultLimits(), DefaultAccessThrottle)
	n, err := dst.Restore(b, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 restored entry, got %d", n)
	}
	e, ok := dst.Get("live")
	if !ok {
		t.Fatal("Expected live entry to be restored")
	}
	raw, ok := e.Data.(json.RawMessage)
	if !ok {
		t.Fatalf("Expected raw payload, got %T", e.Data)
	}
	if string(raw) != `{"n":1}` {
		t.Errorf("unexpected payload %s", raw)
	}
	if !e.StaleAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("Expected staleAt to survive restore, got %s", e.StaleAt)
	}

	if _, err := dst.Restore([]byte("not json"), t0); err == nil {
		t.Error("Expected error for malformed snapshot")
	}
}

func TestEstimateSize(t *testing.T) {
	if got := EstimateSize([]byte("abcd")); got != 4 {
		t.Errorf("bytes: got %d", got)
	}
	if got := EstimateSize(nil); got != 0 {
		t.Errorf("nil: got %d", got)
	}
	small := EstimateSize([]int{1})
	big := EstimateSize([]int{1, 2, 3, 4, 5, 6, 7, 8})
	if small >= big {
		t.Errorf("Expected size to grow with payload: %d >= %d", small, big)
	}
	if got := EstimateSize(make(chan int)); got < DefaultMaxEntrySize {
		t.Errorf("Expected unencodable payload to be treated as oversized, got %d", got)
	}
}

func TestErrEntryTooLargeWrapping(t *testing.T) {
	s := New(Limits{MaxEntries: 10, TargetEntries: 5, MaxEntrySize: 4}, 0)
	_, err := s.Put("k", NewEntry("k", "too long", t0, time.Minute, 0))
	if !errors.Is(err, ErrEntryTooLarge) {
		t.Fatalf("Expected ErrEntryTooLarge, got %v", err)
	}
}
