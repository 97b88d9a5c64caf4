package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/kode4food/paisley"
	"github.com/kode4food/paisley/internal/archive"
	"github.com/kode4food/paisley/internal/config"
	"github.com/kode4food/paisley/internal/engine"
	"github.com/kode4food/paisley/internal/events"
	"github.com/kode4food/paisley/internal/history"
	"github.com/kode4food/paisley/internal/jobs"
	"github.com/kode4food/paisley/internal/persistence"
	"github.com/kode4food/paisley/internal/persistence/redisstore"
	"github.com/kode4food/paisley/pkg/log"
)

type paisley struct {
	cfg      *config.Config
	kinds    persistence.Registry
	hub      *events.Hub
	backend  *redisstore.Store
	archive  *archive.Store
	history  *history.Store
	recorder *history.Recorder
	engine   *engine.Engine
	jobs     *jobs.Executor
	quit     chan os.Signal
}

var (
	ErrOpenBackend      = errors.New("failed to open engine store")
	ErrOpenArchive      = errors.New("failed to open artifact archive")
	ErrOpenHistoryStore = errors.New("failed to open history store")
	ErrCreateEngine     = errors.New("failed to create engine")
	ErrCreateExecutor   = errors.New("failed to create job executor")
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

const storeOpenTimeout = 10 * time.Second

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &paisley{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start node", log.Error(err))
		os.Exit(1)
	}
}

func (s *paisley) run() error {
	if err := s.initializeStores(); err != nil {
		return err
	}
	if err := s.initializeEngine(); err != nil {
		return err
	}
	s.startNode()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *paisley) setupLogging() {
	level, ok := logLevels[s.cfg.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithLevel(app.Name, env, app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Paisley engine starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("redis_addr", s.cfg.EngineStore.Addr),
		slog.Int("redis_db", s.cfg.EngineStore.DB),
		slog.String("history_redis_addr", s.cfg.HistoryStore.Addr),
		slog.Int("history_redis_db", s.cfg.HistoryStore.DB),
		slog.String("archive_url", s.cfg.ArchiveURL),
		slog.Int("job_workers", s.cfg.Jobs.Workers))
}

func (s *paisley) initializeStores() error {
	ctx, cancel := context.WithTimeout(
		context.Background(), storeOpenTimeout,
	)
	defer cancel()

	s.kinds = persistence.Registry{}
	engine.RegisterKinds(s.kinds)
	jobs.RegisterKinds(s.kinds)

	backend, err := redisstore.Open(ctx, &s.cfg.EngineStore, s.kinds)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenBackend, err)
	}
	s.backend = backend

	s.archive, err = archive.Open(ctx, s.cfg.ArchiveURL, "")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenArchive, err)
	}

	s.history, err = history.NewStore(s.cfg.HistoryStore)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenHistoryStore, err)
	}
	return nil
}

func (s *paisley) initializeEngine() error {
	s.hub = events.NewHub()

	eng, err := engine.New(&engine.Config{
		Backend:   s.backend,
		Kinds:     s.kinds,
		Hub:       s.hub,
		Archive:   s.archive,
		Retries:   s.cfg.CommandRetries,
		CacheSize: s.cfg.DefinitionCacheSize,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateEngine, err)
	}
	s.engine = eng

	s.jobs, err = jobs.NewExecutor(&jobs.Config{
		Commands:  eng.Commands(),
		Handlers:  eng.Handlers(),
		Hub:       s.hub,
		Archive:   s.archive,
		LockTTL:   s.cfg.Jobs.LockTTL,
		Wait:      s.cfg.Jobs.AcquireWait,
		MaxJobs:   s.cfg.Jobs.MaxJobs,
		Workers:   s.cfg.Jobs.Workers,
		QueueSize: s.cfg.Jobs.QueueSize,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateExecutor, err)
	}
	return nil
}

func (s *paisley) startNode() {
	s.recorder = history.NewRecorder(s.history, s.hub, slog.Default())
	s.recorder.Start()
	s.jobs.Start()
	slog.Info("Job executor started",
		log.LockOwner(s.jobs.LockOwner()))
}

func (s *paisley) shutdown() {
	slog.Info("Shutting down")

	if err := s.jobs.Stop(s.cfg.ShutdownTimeout); err != nil {
		slog.Error("Job executor shutdown failed", log.Error(err))
	}
	s.hub.Close()
	s.recorder.Stop()

	if err := s.history.Close(); err != nil {
		slog.Error("History store shutdown failed", log.Error(err))
	}
	if err := s.archive.Close(); err != nil {
		slog.Error("Archive shutdown failed", log.Error(err))
	}

	slog.Info("Node exited")
}
