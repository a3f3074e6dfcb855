// Package main implements the incident/change correlator service.
//
// The service answers one question: which technical changes most plausibly
// explain an incident. It extracts normalized tickets from a tracker,
// discovers candidate changes around the incident instant, scores them with
// an explainable weighted model and serves rankings over HTTP.
//
// Configuration is provided through environment variables:
//   - TRACKER_URL: The ticket tracker base URL (required)
//   - TRACKER_PROJECT: The change project key (default TECCM)
//   - TRACKER_USERNAME / TRACKER_PASSWORD: Optional fallback credentials;
//     requests normally carry the caller's own basic-auth credentials
//   - LISTEN_ADDR: HTTP listen address (default :8080)
//   - DATABASE_PATH: SQLite file path (default data/correlator.db)
//   - ENVIRONMENT: Set to "production" for production logging
//
// Example usage:
//
//	export TRACKER_URL="https://tracker.example.com"
//	./inc-correlator
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tareqmamari/inc-correlator/internal/config"
	"github.com/tareqmamari/inc-correlator/internal/extract"
	"github.com/tareqmamari/inc-correlator/internal/job"
	"github.com/tareqmamari/inc-correlator/internal/metrics"
	"github.com/tareqmamari/inc-correlator/internal/score"
	"github.com/tareqmamari/inc-correlator/internal/server"
	"github.com/tareqmamari/inc-correlator/internal/store"
	"github.com/tareqmamari/inc-correlator/internal/tracing"
	"github.com/tareqmamari/inc-correlator/internal/tracker"
)

const shutdownTimeout = 15 * time.Second

// Build information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Load .env file if it exists (optional, for development)
	_ = godotenv.Load()

	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync() // Ignore error on cleanup
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting incident/change correlator",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("tracker", cfg.TrackerURL),
		zap.String("project", cfg.Project),
		zap.String("listen", cfg.ListenAddr),
	)

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName:    "inc-correlator",
		ServiceVersion: version,
		Environment:    os.Getenv("ENVIRONMENT"),
		Enabled:        cfg.EnableTracing,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer func() {
		_ = st.Close()
	}()

	client, err := tracker.New(cfg, logger, version)
	if err != nil {
		logger.Fatal("Failed to create tracker client", zap.Error(err))
	}
	defer func() {
		_ = client.Close()
	}()

	m := metrics.New(logger)
	normalizer := extract.New(logger)
	scorer := score.NewScorer(score.DefaultConfig(), logger)
	coordinator := job.NewCoordinator(client, normalizer, scorer, cfg.Project, cfg.FetchConcurrency, m, logger)

	srv := server.New(cfg, st, coordinator, m, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverDone:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}

	logger.Info("Initiating graceful shutdown", zap.Duration("timeout", shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown incomplete", zap.Error(err))
	}

	m.LogStats()
	logger.Info("Shutdown complete")
}

// initLogger creates a production logger when ENVIRONMENT=production,
// otherwise a development logger with more verbose output.
func initLogger() (*zap.Logger, error) {
	if os.Getenv("ENVIRONMENT") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
