package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onnwee/swrcache/internal/config"
	"github.com/onnwee/swrcache/internal/persist"
	"github.com/onnwee/swrcache/internal/secrets"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	return &config.Config{
		ListenAddr:          "127.0.0.1:0",
		MaxEntries:          100,
		TargetEntries:       80,
		MaxEntryBytes:       1 << 20,
		DefaultTTL:          time.Minute,
		DefaultStale:        30 * time.Second,
		AccessThrottle:      time.Second,
		RevalidateInterval:  time.Hour,
		RevalidateWindow:    5 * time.Minute,
		PersistBackend:      backend,
		PersistFile:         filepath.Join(t.TempDir(), "snapshot.json"),
		PersistSaveInterval: time.Hour,
	}
}

func TestOpenAdapter(t *testing.T) {
	tests := []struct {
		backend string
		wantNil bool
	}{
		{config.PersistNone, true},
		{config.PersistFile, false},
		{config.PersistMemory, false},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			a, closeFn, err := OpenAdapter(context.Background(), testConfig(t, tt.backend))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer closeFn()
			if (a == nil) != tt.wantNil {
				t.Errorf("adapter nil = %v, want %v", a == nil, tt.wantNil)
			}
		})
	}
}

func TestOpenAdapter_PostgresValidatesURL(t *testing.T) {
	for _, dsn := range []string{"", "mysql://localhost/db"} {
		cfg := testConfig(t, config.PersistPostgres)
		cfg.DatabaseURL = dsn
		_, _, err := OpenAdapter(context.Background(), cfg)
		var ve *secrets.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("DATABASE_URL %q: expected ValidationError, got %v", dsn, err)
		}
	}
}

func TestServer_SnapshotSurvivesRestart(t *testing.T) {
	cfg := testConfig(t, config.PersistFile)
	ctx := context.Background()

	s, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Engine.SetCache("profile:1", map[string]any{"name": "ada"}, time.Hour, 0)
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, err := persist.NewFile(cfg.PersistFile).Load(ctx); err != nil {
		t.Fatalf("expected snapshot on disk: %v", err)
	}

	s2, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s2.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s2.Shutdown(ctx)

	rr := httptest.NewRecorder()
	s2.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cache/profile:1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected restored entry to be served, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Cache") != "HIT" {
		t.Errorf("expected X-Cache HIT, got %q", rr.Header().Get("X-Cache"))
	}
}

func TestServer_StartsEmptyOnCorruptSnapshot(t *testing.T) {
	cfg := testConfig(t, config.PersistFile)
	if err := os.WriteFile(cfg.PersistFile, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	ctx := context.Background()
	s, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("expected Start to tolerate a corrupt snapshot, got %v", err)
	}
	defer s.Shutdown(ctx)
	if n := s.Engine.GetStats().Entries; n != 0 {
		t.Errorf("expected empty cache, got %d entries", n)
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := testConfig(t, config.PersistNone)
	ec := EngineConfig(cfg)
	if ec.Limits.MaxEntries != 100 || ec.Limits.TargetEntries != 80 || ec.Limits.MaxEntrySize != 1<<20 {
		t.Errorf("unexpected limits %+v", ec.Limits)
	}
	if ec.DefaultTTL != time.Minute {
		t.Errorf("expected default TTL 1m, got %v", ec.DefaultTTL)
	}
}

func TestMemorySnapshotMB(t *testing.T) {
	cfg := testConfig(t, config.PersistMemory)
	cfg.MaxEntries = 10
	cfg.MaxEntryBytes = 64 * 1024
	if got := memorySnapshotMB(cfg); got != 64 {
		t.Errorf("expected 64MB floor for small limits, got %d", got)
	}
	cfg.MaxEntries = 500
	cfg.MaxEntryBytes = 256 * 1024
	if got := memorySnapshotMB(cfg); got < 250 {
		t.Errorf("expected room for 500 full entries, got %dMB", got)
	}
}
