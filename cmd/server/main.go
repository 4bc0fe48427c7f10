package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/slideflow/internal/config"
	"github.com/me/slideflow/internal/eventbus"
	"github.com/me/slideflow/internal/logging"
	"github.com/me/slideflow/internal/metrics"
	"github.com/me/slideflow/internal/registry"
	"github.com/me/slideflow/internal/results"
	"github.com/me/slideflow/internal/runner"
	"github.com/me/slideflow/internal/scheduler"
	"github.com/me/slideflow/internal/server"
	"github.com/me/slideflow/internal/tenant"
	"github.com/me/slideflow/pkg/model"
)

func main() {
	cfg := config.DefaultServerConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.IntVar(&cfg.MaxWorkers, "max-workers", cfg.MaxWorkers, "Global concurrent job cap")
	flag.IntVar(&cfg.MaxActiveUsers, "max-active-users", cfg.MaxActiveUsers, "Concurrent tenant slot count")
	flag.IntVar(&cfg.EventQueueCapacity, "event-queue-capacity", cfg.EventQueueCapacity, "Per-subscription event buffer")
	flag.Float64Var(&cfg.ProgressMinDelta, "progress-min-delta", cfg.ProgressMinDelta, "Minimum percent change between progress events")
	flag.StringVar(&cfg.ResultsDBPath, "results-db", cfg.ResultsDBPath, "Result archive path (default ~/.slideflow/results.db)")
	configFile := flag.String("config", "", "Path to YAML config file")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")

	flag.Parse()

	if *configFile != "" {
		if err := config.LoadFile(*configFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	// Resolve the archive path.
	dbPath := cfg.ResultsDBPath
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".slideflow")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		dbPath = filepath.Join(dir, "results.db")
	}

	// Open the result archive and run migrations.
	archive, err := results.New(dbPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open result archive: %v\n", err)
		os.Exit(1)
	}
	defer archive.Close()

	if err := archive.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate result archive: %v\n", err)
		os.Exit(1)
	}
	logger.Info("result archive ready", "path", dbPath)

	// Wire the core: bus, registries, tenants, runners, scheduler.
	bus := eventbus.New(cfg.EventQueueCapacity, logger)
	jobs := registry.NewJobs(bus, cfg.ProgressMinDelta, logger)

	runners := runner.NewRegistry(logger)
	runners.Register(runner.NewSimulated(model.JobTypeSegmentation, 100, 10, 200*time.Millisecond))
	runners.Register(runner.NewSimulated(model.JobTypeTissueMask, 50, 10, 100*time.Millisecond))

	workflows := registry.NewWorkflows(jobs, bus, cfg.ProgressMinDelta, runners.Known, logger)
	tenants := tenant.NewManager(cfg.MaxActiveUsers, logger)

	sched := scheduler.New(jobs, workflows, tenants, runners, archive,
		scheduler.Config{MaxWorkers: cfg.MaxWorkers}, logger)

	m := metrics.New(sched.Snapshot, tenants.Snapshot)
	sched.SetOnJobFinished(m.JobFinished)

	srv := server.New(cfg, jobs, workflows, tenants, sched, bus, archive, m, logger)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start scheduler in background.
	srv.StartScheduler(ctx)

	go func() {
		logger.Info("server starting", "addr", cfg.Addr,
			"max_workers", cfg.MaxWorkers, "max_active_users", cfg.MaxActiveUsers)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop scheduler before the HTTP server so in-flight jobs get their
	// cancel signal while the registries are still being served.
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	bus.Shutdown()
	logger.Info("server stopped")
}
