package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mirrord/internal/api"
	"mirrord/internal/config"
	"mirrord/internal/journal"
	"mirrord/internal/mirror"
	"mirrord/internal/observability"
	"mirrord/internal/state"
)

var (
	configPath = flag.String("config", "examples/config.json", "Path to config JSON file")
	logLevel   = flag.String("log-level", "", "Log level: debug|info|warn|error (overrides config)")
	apiAddr    = flag.String("api-addr", "", "Status API listen address (overrides config)")
)

// Backend version injected at build time with: -ldflags "-X 'main.version=1.2.3'"
var version = "dev"

// controlPlane adapts runner, journal and config to the status API.
type controlPlane struct {
	runner  *mirror.Runner
	journal *journal.Writer
	cfg     *config.Config
}

func (c *controlPlane) StatusSnapshot() any { return c.runner.StatusSnapshot() }
func (c *controlPlane) RecentRecords() any  { return c.journal.Recent() }
func (c *controlPlane) GetConfig() any      { return c.cfg }

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	diagFile := cfg.Logging.DiagnosticFile
	logger := observability.NewLogger(observability.EnvLogLevel(level), diagFile)
	defer logger.Sync() //nolint:errcheck

	logger.Infow("config loaded",
		"path", *configPath,
		"source", cfg.Paths.SourceDir,
		"dest", cfg.Paths.DestDir,
		"version", version)

	jw, err := journal.Open(cfg.Paths.LogDir, cfg.Logging.File, cfg.Logging.MaxBytes, cfg.Logging.BackupCount)
	if err != nil {
		logger.Errorw("failed to open journal", "error", err)
		fmt.Fprintf(os.Stderr, "Journal error: %v\n", err)
		os.Exit(1)
	}
	defer jw.Close()

	statePath := cfg.Runtime.StateDbPath
	if statePath == "" {
		statePath = filepath.Join(cfg.Paths.LogDir, "state.db")
	}
	store, err := state.Open(statePath)
	if err != nil {
		logger.Errorw("failed to open state store", "path", statePath, "error", err)
		fmt.Fprintf(os.Stderr, "State store error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	engine := mirror.NewEngine(logger, jw, mirror.EngineOptions{
		DestDir:      cfg.Paths.DestDir,
		Filter:       mirror.NewFilter(cfg.Mirror.Extension),
		RetryMax:     cfg.Mirror.RetryMax,
		RetryBackoff: time.Duration(cfg.Mirror.RetryBackoffMs) * time.Millisecond,
		LogFiltered:  cfg.Logging.LogFiltered,
	})
	runner := mirror.NewRunner(logger, cfg, engine, store)

	// Root context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runner.Run(ctx)
	}()

	addr := cfg.API.Listen
	if *apiAddr != "" {
		addr = *apiAddr
	}
	ctrl := &controlPlane{runner: runner, journal: jw, cfg: cfg}
	apiSrv := api.New(logger, ctrl, addr)
	if err := apiSrv.Start(ctx); err != nil {
		logger.Errorw("failed to start api server", "addr", addr, "error", err)
		fmt.Fprintf(os.Stderr, "API error: %v\n", err)
		os.Exit(1)
	}

	// Wait for a stop request from the supervisor, or a runner startup error.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Infow("signal received, shutting down", "signal", sig.String())
	case err := <-done:
		if err != nil {
			logger.Errorw("runner failed to start", "error", err)
			fmt.Fprintf(os.Stderr, "Runner error: %v\n", err)
			os.Exit(1)
		}
		logger.Infow("runner exited")
		done <- nil
	}

	// Graceful shutdown: stop accepting events, let in-flight copies drain.
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = apiSrv.Shutdown(shCtx)
	cancel()

	select {
	case <-done:
	case <-shCtx.Done():
		logger.Errorw("graceful shutdown timed out")
	}

	if err := jw.Flush(); err != nil {
		logger.Errorw("journal flush failed", "error", err)
	}
	logger.Infow("shutdown complete")
}
