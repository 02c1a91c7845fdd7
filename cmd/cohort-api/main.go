// cohort-api is the control-plane server: the REST API for segments and
// experiments, plus the observability endpoints on a separate port.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seglab/cohort/internal/api"
	"github.com/seglab/cohort/internal/cache"
	"github.com/seglab/cohort/internal/config"
	"github.com/seglab/cohort/internal/database"
	"github.com/seglab/cohort/internal/directory"
	"github.com/seglab/cohort/internal/experiment"
	"github.com/seglab/cohort/internal/logger"
	"github.com/seglab/cohort/internal/observability"
	"github.com/seglab/cohort/internal/push"
	"github.com/seglab/cohort/internal/segment"
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
		log.Error("server exited with error", slog.String("error", err.Error()))
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

	checkers := []observability.Checker{database.NewHealthChecker(pool)}

	// Redis is optional: without it every send resolves the directory fresh.
	var tokens cache.TokenCache
	if cfg.Redis.IsConfigured() {
		client, err := cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		redisTokens := cache.NewRedisTokenCache(client, cfg.Redis.TokenTTL)
		defer redisTokens.Close()

		tokens = redisTokens
		checkers = append(checkers, redisTokens)
	} else {
		log.Warn("redis not configured, device-token caching disabled")
	}

	preds, err := cache.NewPredicateCache(1024, 10*time.Minute)
	if err != nil {
		return err
	}
	defer preds.Close()

	var sender push.Sender = push.NewNopSender(log)
	if cfg.Push.IsConfigured() {
		sender = push.NewHTTPSender(&cfg.Push)
	}

	dir := directory.NewPostgresDirectory(pool)
	segments := segment.NewService(store.NewPostgresSegmentStore(pool), dir, preds, tokens, log)
	experiments := experiment.NewService(store.NewPostgresExperimentStore(pool), segments, sender, log)

	obs := observability.NewServer(log, &cfg.Observability, checkers...)
	obs.Start()

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewAPI(segments, experiments).Router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting control-plane server", slog.String("addr", srv.Addr))

		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("control-plane shutdown failed", slog.String("error", err.Error()))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("shutdown complete")
	return nil
}
