// Package main is the entry point for the click ledger server.
//
// MAIN PACKAGE IN GO:
// main stays minimal. It reads configuration, builds the logger and
// tracing, creates the server and starts it. All actual logic lives in
// internal/.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sakif/click-ledger/internal/config"
	"github.com/sakif/click-ledger/internal/obs"
	"github.com/sakif/click-ledger/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// Config errors are reported before a logger exists, so use a default
	// text logger for them.
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("invalid configuration",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// Validate already checked the level parses.
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)

	// === 3. TRACING ===
	// Disabled unless OTEL_EXPORTER_OTLP_ENDPOINT is set.
	shutdownTracing, err := obs.Setup(context.Background(), cfg.OTLPEndpoint, "click-ledger", cfg.Environment)
	if err != nil {
		logger.Error("failed to set up tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown", slog.String("error", err.Error()))
		}
	}()

	// === 4. DATABASE DIRECTORY ===
	// os.MkdirAll is a no-op when the directory already exists.
	if dir := filepath.Dir(cfg.DBPath); cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 5. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM).
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		// os.Exit skips defers; flush traces first.
		_ = shutdownTracing(context.Background())
		os.Exit(1)
	}
}
