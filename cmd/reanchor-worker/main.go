// Package main provides the reanchor background worker: job pollers
// plus the HTTP status API.
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

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/reanchor/internal/chunker"
	"github.com/raphaelgruber/reanchor/internal/config"
	"github.com/raphaelgruber/reanchor/internal/db"
	"github.com/raphaelgruber/reanchor/internal/jobs"
	"github.com/raphaelgruber/reanchor/internal/match"
	"github.com/raphaelgruber/reanchor/internal/models"
	"github.com/raphaelgruber/reanchor/internal/recovery"
	"github.com/raphaelgruber/reanchor/internal/server"
	"github.com/raphaelgruber/reanchor/internal/service"
)

func main() {
	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() {
		if err := cleanup(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	}()

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	dbClient, err := db.NewClient(connectCtx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(context.Background()); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	if err := dbClient.InitSchema(ctx); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	engine := match.NewEngine(match.DefaultConfig())
	recoverer := recovery.New(dbClient, engine, recovery.Config{
		AutoThreshold:   cfg.AutoThreshold,
		ReviewThreshold: cfg.ReviewThreshold,
		ContextWindow:   cfg.ContextWindow,
		CheckpointBatch: cfg.CheckpointBatch,
	}, logger)
	rederiver := chunker.NewRederiver(dbClient, models.DefaultChunkingConfig())

	registry := jobs.NewRegistry()
	registry.Register(jobs.NewReprocessDocumentHandler(rederiver, dbClient, recoverer))
	registry.Register(jobs.NewReprocessConnectionsHandler(dbClient, dbClient))
	registry.Register(jobs.NewImportHandler(dbClient, models.DefaultChunkingConfig()))
	registry.Register(jobs.NewExportHandler(dbClient))

	svc := service.New(dbClient, recoverer, service.Config{
		Owner:       cfg.Owner,
		StallWindow: cfg.StallWindow,
	}, logger)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "reanchor-worker"
	}

	logger.Info("starting reanchor-worker",
		"workers", cfg.WorkerCount,
		"port", cfg.ServerPort,
		"poll_interval", cfg.PollInterval)

	g, ctx := errgroup.WithContext(ctx)

	for i := range cfg.WorkerCount {
		poller := jobs.NewPoller(dbClient, registry, jobs.Config{
			Worker:            fmt.Sprintf("%s-%d", hostname, i),
			PollInterval:      cfg.PollInterval,
			HeartbeatInterval: cfg.HeartbeatInterval,
			MaxRetries:        cfg.MaxRetries,
			RetryBackoffBase:  cfg.RetryBackoffBase,
		}, logger)
		g.Go(func() error { return ignoreCancel(poller.Run(ctx)) })
	}

	srv := server.New(svc, cfg.ServerPort, logger)
	g.Go(func() error { return srv.Run(ctx) })

	// Sweep for jobs whose worker died without releasing its claim.
	g.Go(func() error { return runStallSweeper(ctx, svc, cfg.StallWindow, logger) })

	return g.Wait()
}

// runStallSweeper periodically force-fails processing jobs whose
// heartbeat went silent for longer than the stall window.
func runStallSweeper(ctx context.Context, svc *service.Service, window time.Duration, logger *slog.Logger) error {
	ticker := time.NewTicker(window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		failed, err := svc.FailStalledJobs(ctx)
		if err != nil {
			logger.Error("stall sweep failed", "error", err)
			continue
		}
		if len(failed) > 0 {
			logger.Warn("failed stalled jobs", "count", len(failed))
		}
	}
}

// ignoreCancel maps context cancellation to a clean exit so shutdown
// does not report an error.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
