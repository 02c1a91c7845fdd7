// cohort-segmenter is the background worker that periodically re-resolves
// every active segment against the user directory and refreshes its
// estimated size.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seglab/cohort/internal/cache"
	"github.com/seglab/cohort/internal/config"
	"github.com/seglab/cohort/internal/database"
	"github.com/seglab/cohort/internal/directory"
	"github.com/seglab/cohort/internal/logger"
	"github.com/seglab/cohort/internal/observability"
	"github.com/seglab/cohort/internal/segment"
	"github.com/seglab/cohort/internal/segmenter"
	"github.com/seglab/cohort/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	if err := run(cfg, log); err != nil {
		log.Error("worker exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	preds, err := cache.NewPredicateCache(1024, 10*time.Minute)
	if err != nil {
		return err
	}
	defer preds.Close()

	dir := directory.NewPostgresDirectory(pool)
	segments := segment.NewService(store.NewPostgresSegmentStore(pool), dir, preds, nil, log)

	obs := observability.NewServer(log, &cfg.Observability, database.NewHealthChecker(pool))
	obs.Start()

	worker := segmenter.New(log, cfg.Segmenter, segments)
	if err := worker.Run(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("shutdown complete")
	return nil
}
