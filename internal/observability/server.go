// Package observability carries the prometheus metric definitions and the
// admin HTTP server (probes + metrics) shared by the API and the segmenter.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seglab/cohort/internal/config"
)

// Server serves liveness, readiness and metrics on its own port, keeping
// admin traffic off the business listener.
type Server struct {
	log      *slog.Logger
	cfg      *config.ObservabilityConfig
	httpSrv  *http.Server
	checkers []Checker
}

// NewServer builds the admin server. Every checker passed in participates in
// the readiness probe.
func NewServer(log *slog.Logger, cfg *config.ObservabilityConfig, checkers ...Checker) *Server {
	s := &Server{
		log:      log,
		cfg:      cfg,
		checkers: checkers,
	}

	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer, middleware.NoCache)
	mux.Get(cfg.LivenessPath, s.liveness)
	mux.Get(cfg.ReadinessPath, s.readiness)
	mux.Method(http.MethodGet, cfg.MetricsPath, promhttp.Handler())

	s.httpSrv = &http.Server{
		Addr:         net.JoinHostPort("", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		IdleTimeout:  cfg.Timeout * 3,
	}
	return s
}

// Start begins serving in a background goroutine and returns immediately.
func (s *Server) Start() {
	go func() {
		s.log.Info("observability server listening",
			slog.String("addr", s.httpSrv.Addr),
			slog.String("metrics_path", s.cfg.MetricsPath),
		)
		err := s.httpSrv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			s.log.Error("observability server exited", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown drains in-flight probe requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("observability server shutting down")
	return s.httpSrv.Shutdown(ctx)
}
