// Package segmenter implements the background worker that keeps every
// active segment's estimated size fresh by periodically re-resolving its
// member set against the user directory.
package segmenter

import (
	"context"
	"log/slog"
	"time"

	"github.com/seglab/cohort/internal/config"
	"github.com/seglab/cohort/internal/segment"
)

// Service orchestrates the periodic refresh sweep.
type Service struct {
	logger   *slog.Logger
	cfg      config.SegmenterConfig
	segments *segment.Service
}

// New creates a new segmenter worker.
func New(logger *slog.Logger, cfg config.SegmenterConfig, segments *segment.Service) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if segments == nil {
		panic("segmenter: segment service cannot be nil")
	}
	if cfg.Interval < time.Second {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 2 * time.Minute
	}

	return &Service{
		logger:   logger,
		cfg:      cfg,
		segments: segments,
	}
}

// Run starts the refresh loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting segmenter worker", slog.String("interval", s.cfg.Interval.String()))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Run once immediately on startup so freshly deployed instances don't
	// serve stale sizes for a full interval.
	if err := s.sweep(ctx); err != nil {
		s.logger.Error("initial refresh sweep failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("segmenter worker stopping...")
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				// Log and retry on the next tick; a failed sweep must not
				// kill the worker.
				s.logger.Error("refresh sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// sweep performs a single refresh cycle over every active segment. Each
// sweep gets its own deadline so a hung directory scan cannot wedge the
// loop past the next tick.
func (s *Service) sweep(ctx context.Context) error {
	start := time.Now()

	sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.ResolveTimeout)
	defer cancel()

	refreshed, err := s.segments.RefreshAll(sweepCtx)
	if err != nil {
		return err
	}

	if refreshed > 0 {
		s.logger.Info("refresh sweep completed",
			slog.Int("refreshed", refreshed),
			slog.String("duration", time.Since(start).String()),
		)
	}
	return nil
}
