// Package api implements the REST control plane for segments and
// experiments. It handles HTTP routing, request decoding, validation, and
// response formatting; all domain logic lives in the segment and experiment
// services.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/seglab/cohort/internal/experiment"
	"github.com/seglab/cohort/internal/segment"
)

// API holds the router and the services the handlers dispatch to.
type API struct {
	// Router is the chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	segments    *segment.Service
	experiments *experiment.Service
}

// NewAPI creates the control-plane API. Panics on nil services; there is no
// degraded mode for the control plane.
func NewAPI(segments *segment.Service, experiments *experiment.Service) *API {
	if segments == nil {
		panic("api: segment service cannot be nil")
	}
	if experiments == nil {
		panic("api: experiment service cannot be nil")
	}

	a := &API{
		Router:      chi.NewRouter(),
		segments:    segments,
		experiments: experiments,
	}
	a.configureRoutes()
	return a
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(RequestMetrics)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Route("/segments", func(r chi.Router) {
			r.Post("/", a.handleCreateSegment)
			r.Get("/", a.handleListSegments)
			r.Post("/run", a.handleRunRules)
			r.Post("/refresh-all", a.handleRefreshAllSegments)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", a.handleGetSegment)
				r.Patch("/", a.handleUpdateSegment)
				r.Delete("/", a.handleDeleteSegment)
				r.Get("/members", a.handleSegmentMembers)
				r.Get("/devices", a.handleSegmentDevices)
				r.Post("/refresh", a.handleRefreshSegment)
			})
		})

		r.Route("/experiments", func(r chi.Router) {
			r.Post("/", a.handleCreateExperiment)
			r.Get("/", a.handleListExperiments)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", a.handleGetExperiment)
				r.Patch("/", a.handleUpdateExperiment)
				r.Delete("/", a.handleDeleteExperiment)

				r.Post("/start", a.handleStartExperiment)
				r.Post("/pause", a.handlePauseExperiment)
				r.Post("/complete", a.handleCompleteExperiment)
				r.Post("/cancel", a.handleCancelExperiment)
				r.Post("/send", a.handleSendExperiment)
				r.Post("/track/{variant}/{metric}", a.handleTrackMetric)
			})
		})
	})
}

// handleHealthCheck reports HTTP serving capability. Deep dependency checks
// live on the observability server's readiness probe.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
