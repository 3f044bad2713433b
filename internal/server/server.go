// Package server assembles the cache daemon: persistence backend, engine,
// revalidation scheduler, gauge collector and HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/swrcache/internal/api"
	"github.com/onnwee/swrcache/internal/api/handlers"
	"github.com/onnwee/swrcache/internal/blobcache"
	"github.com/onnwee/swrcache/internal/config"
	"github.com/onnwee/swrcache/internal/engine"
	"github.com/onnwee/swrcache/internal/errorreporting"
	"github.com/onnwee/swrcache/internal/logger"
	"github.com/onnwee/swrcache/internal/metrics"
	"github.com/onnwee/swrcache/internal/persist"
	"github.com/onnwee/swrcache/internal/secrets"
	"github.com/onnwee/swrcache/internal/store"
	"github.com/onnwee/swrcache/internal/upstream"
)

// snapshotName names the snapshot in shared backends.
const snapshotName = "swrcache"

const collectInterval = 15 * time.Second

type Server struct {
	Engine    *engine.Engine
	Scheduler *engine.Scheduler

	cfg       *config.Config
	http      *http.Server
	collector *metrics.Collector
	closeDB   func() error
	log       *slog.Logger

	stopSave chan struct{}
	wg       sync.WaitGroup
}

// OpenAdapter returns the persistence adapter selected by cfg.PersistBackend
// and a function releasing it. The adapter is nil for PersistNone.
func OpenAdapter(ctx context.Context, cfg *config.Config) (persist.Adapter, func() error, error) {
	noop := func() error { return nil }
	switch cfg.PersistBackend {
	case config.PersistFile:
		return persist.NewFile(cfg.PersistFile), noop, nil
	case config.PersistMemory:
		c, err := blobcache.NewRistretto(memorySnapshotMB(cfg), int64(cfg.MaxEntries), 0)
		if err != nil {
			return nil, nil, fmt.Errorf("create memory snapshot cache: %w", err)
		}
		return persist.NewBlob(c, snapshotName), func() error { c.Close(); return nil }, nil
	case config.PersistPostgres:
		if err := secrets.ValidateRequired(map[string]string{"DATABASE_URL": cfg.DatabaseURL}); err != nil {
			return nil, nil, err
		}
		if err := secrets.ValidateURL("DATABASE_URL", cfg.DatabaseURL, "postgres", "postgresql"); err != nil {
			return nil, nil, err
		}
		p, err := persist.OpenPostgres(ctx, cfg.DatabaseURL, snapshotName)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return nil, noop, nil
	}
}

// memorySnapshotMB sizes the in-memory snapshot store so a full cache fits.
// Entry sizes are JSON lengths; the factor of two covers entry metadata.
func memorySnapshotMB(cfg *config.Config) int64 {
	mb := 2*int64(cfg.MaxEntries)*cfg.MaxEntryBytes/(1<<20) + 1
	if mb < 64 {
		mb = 64
	}
	return mb
}

// EngineConfig maps environment config onto engine settings.
func EngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Limits: store.Limits{
			MaxEntries:    cfg.MaxEntries,
			TargetEntries: cfg.TargetEntries,
			MaxEntrySize:  cfg.MaxEntryBytes,
		},
		AccessThrottle:        cfg.AccessThrottle,
		DefaultTTL:            cfg.DefaultTTL,
		RevalidateConcurrency: cfg.RevalidateConcurrency,
	}
}

// New builds a server from cfg. Without an upstream base URL the API only
// serves what is already cached.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	log := logger.WithComponent("server")

	adapter, closeDB, err := OpenAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var opts []engine.Option
	if adapter != nil {
		opts = append(opts, engine.WithPersistence(adapter))
	}
	eng := engine.New(EngineConfig(cfg), opts...)

	sched := engine.NewScheduler(eng, engine.SchedulerConfig{
		Interval:    cfg.RevalidateInterval,
		Window:      cfg.RevalidateWindow,
		EventMinGap: cfg.EventMinGap,
	})

	var producer handlers.Producer
	client, err := upstream.New(upstream.OptionsFromConfig(cfg))
	switch {
	case errors.Is(err, upstream.ErrNotConfigured):
		log.Warn("UPSTREAM_BASE_URL not set, serving cached data only")
	case err != nil:
		closeDB()
		return nil, err
	default:
		producer = client
	}

	router := api.NewRouter(api.Deps{
		Engine:    eng,
		Scheduler: sched,
		Producer:  producer,
		Policy:    engine.DefaultPolicy(cfg.DefaultTTL, cfg.DefaultStale),
		Window:    cfg.RevalidateWindow,
	})

	return &Server{
		Engine:    eng,
		Scheduler: sched,
		cfg:       cfg,
		http: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		collector: metrics.NewCollector(eng, collectInterval),
		closeDB:   closeDB,
		log:       log,
		stopSave:  make(chan struct{}),
	}, nil
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start restores the last snapshot and starts the background jobs. It does
// not serve HTTP.
func (s *Server) Start(ctx context.Context) error {
	n, err := s.Engine.Load(ctx)
	if err != nil {
		// Start empty when the snapshot cannot be restored.
		s.log.Error("Failed to restore cache snapshot", "error", err)
		errorreporting.CaptureError(err)
	} else if n > 0 {
		s.log.Info("Cache warmed from snapshot", "entries", n)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.collector.Start(context.WithoutCancel(ctx))
	}()
	if s.cfg.PersistBackend != config.PersistNone && s.cfg.PersistSaveInterval > 0 {
		s.wg.Add(1)
		go s.saveLoop(s.cfg.PersistSaveInterval)
	}

	rep := s.Scheduler.Start(ctx)
	s.log.Info("Initial revalidation finished",
		"refreshed", len(rep.Refreshed), "failed", len(rep.Failed))
	return nil
}

// ListenAndServe serves the API until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("Server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops serving, halts the background jobs and saves a final
// snapshot.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	s.Scheduler.Stop()
	s.collector.Stop()
	close(s.stopSave)
	s.wg.Wait()

	if err := s.Engine.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.closeDB(); err != nil {
		errs = append(errs, fmt.Errorf("close persistence: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Server) saveLoop(every time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSave:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.Engine.Save(ctx); err != nil {
				s.log.Error("Periodic snapshot save failed", "error", err)
				errorreporting.CaptureError(err)
			}
			cancel()
		}
	}
}
