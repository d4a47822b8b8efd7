// Package main is the entry point for the backoffice worker.
// It re-runs full reindexes for numbering scopes whose renumbering failed
// and drops expired idempotency keys.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"backoffice/internal/app"
	"backoffice/internal/config"
	"backoffice/pkg/logger"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Logger())
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log = log.WithComponent("worker")

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Infow("starting backoffice worker",
		"driver", cfg.Database.Driver,
		"interval", cfg.Worker.Interval,
		"batch_size", cfg.Worker.BatchSize,
		"max_attempts", cfg.Worker.MaxAttempts,
		"concurrency", cfg.Worker.Concurrency)

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer application.Close()

	reconciler := application.Reconciler(cfg.Worker)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx, cfg.Worker.Interval)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanupIdempotency(ctx, application)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// idempotencyCleanupInterval paces removal of expired idempotency keys.
const idempotencyCleanupInterval = time.Hour

func cleanupIdempotency(ctx context.Context, application *app.App) {
	ticker := time.NewTicker(idempotencyCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := application.Idempotency.CleanupExpired(ctx)
			if err != nil {
				logger.Error(ctx, "idempotency cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info(ctx, "cleaned up idempotency keys", "count", n)
			}
		}
	}
}
