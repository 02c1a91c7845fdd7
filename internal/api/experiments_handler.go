package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/seglab/cohort/internal/experiment"
	"github.com/seglab/cohort/internal/logger"
	"github.com/seglab/cohort/internal/store"
)

// handleCreateExperiment processes POST /api/v1/experiments. The experiment
// is always created as a draft; start is a separate call.
func (a *API) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateExperimentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderBadJSON(w, r, err)
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	e := req.ToModel()
	if err := a.experiments.Create(r.Context(), e); err != nil {
		renderError(w, r, err)
		return
	}

	log.Info("experiment created",
		slog.String("experiment", e.Name),
		slog.String("segment", e.SegmentName),
		slog.Int("variants", len(e.Variants)),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, e)
}

// handleListExperiments processes GET /api/v1/experiments.
func (a *API) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := a.experiments.List(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, experiments)
}

// handleGetExperiment processes GET /api/v1/experiments/{name}.
func (a *API) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	e, err := a.experiments.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, e)
}

// handleUpdateExperiment processes PATCH /api/v1/experiments/{name}.
// Restricted-field enforcement for active and completed experiments lives
// in the service; an attempt to touch one comes back as a 409.
func (a *API) handleUpdateExperiment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req UpdateExperimentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderBadJSON(w, r, err)
		return
	}

	params := experiment.UpdateParams{
		Description:         req.Description,
		SegmentName:         req.Segment,
		StartDate:           req.StartDate,
		DurationDays:        req.DurationDays,
		ConfidenceThreshold: req.ConfidenceThreshold,
	}
	if req.PrimaryMetric != nil {
		m := store.Metric(*req.PrimaryMetric)
		params.PrimaryMetric = &m
	}
	if req.Variants != nil {
		variants := make([]store.Variant, len(*req.Variants))
		for i, v := range *req.Variants {
			variants[i] = store.Variant{
				Name:   v.Name,
				Title:  v.Title,
				Body:   v.Body,
				Weight: v.Weight,
				Data:   v.Data,
			}
		}
		params.Variants = &variants
	}

	e, err := a.experiments.Update(r.Context(), name, params)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, e)
}

// handleDeleteExperiment processes DELETE /api/v1/experiments/{name}.
func (a *API) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := a.experiments.Delete(r.Context(), name); err != nil {
		renderError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("experiment deleted", slog.String("experiment", name))
	render.NoContent(w, r)
}

// transition is the shared shape of the lifecycle endpoints.
func (a *API) transition(w http.ResponseWriter, r *http.Request, op func(r *http.Request, name string) (*store.Experiment, error)) {
	e, err := op(r, chi.URLParam(r, "name"))
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, e)
}

// handleStartExperiment processes POST /api/v1/experiments/{name}/start.
func (a *API) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, func(r *http.Request, name string) (*store.Experiment, error) {
		return a.experiments.Start(r.Context(), name)
	})
}

// handlePauseExperiment processes POST /api/v1/experiments/{name}/pause.
func (a *API) handlePauseExperiment(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, func(r *http.Request, name string) (*store.Experiment, error) {
		return a.experiments.Pause(r.Context(), name)
	})
}

// handleCompleteExperiment processes POST /api/v1/experiments/{name}/complete.
func (a *API) handleCompleteExperiment(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, func(r *http.Request, name string) (*store.Experiment, error) {
		return a.experiments.Complete(r.Context(), name)
	})
}

// handleCancelExperiment processes POST /api/v1/experiments/{name}/cancel.
func (a *API) handleCancelExperiment(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, func(r *http.Request, name string) (*store.Experiment, error) {
		return a.experiments.Cancel(r.Context(), name)
	})
}

// handleSendExperiment processes POST /api/v1/experiments/{name}/send. The
// body is optional; when present its data map is merged into every
// variant's notification payload.
func (a *API) handleSendExperiment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req SendExperimentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		renderBadJSON(w, r, err)
		return
	}

	report, err := a.experiments.Send(r.Context(), name, req.Data)
	if err != nil {
		renderError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("experiment send dispatched",
		slog.String("experiment", name),
		slog.Int("recipients", report.TotalRecipients),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, report)
}

// handleTrackMetric processes POST
// /api/v1/experiments/{name}/track/{variant}/{metric}: the engagement
// ingest path clients hit on open, click, and conversion.
func (a *API) handleTrackMetric(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	variant := chi.URLParam(r, "variant")
	metric := store.Metric(chi.URLParam(r, "metric"))

	var req TrackMetricRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		renderBadJSON(w, r, err)
		return
	}

	if err := a.experiments.RecordMetric(r.Context(), name, variant, metric, req.Count); err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"status": "recorded"})
}
