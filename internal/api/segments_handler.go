package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/seglab/cohort/internal/logger"
	"github.com/seglab/cohort/internal/segment"
)

// handleCreateSegment processes POST /api/v1/segments.
//
// The handler decodes and sanitizes the payload, delegates rule-set
// validation and persistence to the segment service, and returns the
// created resource with its initial estimated size.
func (a *API) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateSegmentRequest
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

	seg := req.ToModel()
	if err := a.segments.Create(r.Context(), seg); err != nil {
		renderError(w, r, err)
		return
	}

	log.Info("segment created",
		slog.String("segment", seg.Name),
		slog.Int("estimated_size", seg.EstimatedSize),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, seg)
}

// handleListSegments processes GET /api/v1/segments. Inactive segments are
// excluded unless ?include_inactive=true.
func (a *API) handleListSegments(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	segments, err := a.segments.List(r.Context(), includeInactive)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, segments)
}

// handleGetSegment processes GET /api/v1/segments/{name}.
func (a *API) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := a.segments.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, seg)
}

// handleUpdateSegment processes PATCH /api/v1/segments/{name}. Only the
// fields present in the payload change; a rule change triggers a size
// refresh and token cache invalidation inside the service.
func (a *API) handleUpdateSegment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req UpdateSegmentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderBadJSON(w, r, err)
		return
	}

	seg, err := a.segments.Update(r.Context(), name, segment.UpdateParams{
		Description: req.Description,
		Tags:        req.Tags,
		Active:      req.Active,
		Rules:       req.Rules,
	})
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, seg)
}

// handleDeleteSegment processes DELETE /api/v1/segments/{name}.
func (a *API) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := a.segments.Delete(r.Context(), name); err != nil {
		renderError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("segment deleted", slog.String("segment", name))
	render.NoContent(w, r)
}

// handleSegmentMembers processes GET /api/v1/segments/{name}/members: a
// live resolution of the current member set. This is the expensive path;
// callers wanting just the count should read estimated_size instead.
func (a *API) handleSegmentMembers(w http.ResponseWriter, r *http.Request) {
	seg, err := a.segments.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		renderError(w, r, err)
		return
	}

	members, err := a.segments.ResolveMembers(r.Context(), seg)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, members)
}

// handleSegmentDevices processes GET /api/v1/segments/{name}/devices: the
// deduplicated device tokens of the current members.
func (a *API) handleSegmentDevices(w http.ResponseWriter, r *http.Request) {
	seg, err := a.segments.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		renderError(w, r, err)
		return
	}

	tokens, err := a.segments.CollectDeviceTokens(r.Context(), seg)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, DeviceTokens{
		Segment: seg.Name,
		Count:   len(tokens),
		Tokens:  tokens,
	})
}

// handleRefreshSegment processes POST /api/v1/segments/{name}/refresh: an
// on-demand size refresh outside the worker's schedule.
func (a *API) handleRefreshSegment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	size, err := a.segments.RefreshSize(r.Context(), name)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, RefreshResult{Segment: name, EstimatedSize: size})
}

// handleRefreshAllSegments processes POST /api/v1/segments/refresh-all: an
// on-demand sweep over every active segment, the same work the background
// worker performs on its interval.
func (a *API) handleRefreshAllSegments(w http.ResponseWriter, r *http.Request) {
	refreshed, err := a.segments.RefreshAll(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("segment sweep completed",
		slog.Int("refreshed", refreshed),
	)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, RefreshAllResult{Refreshed: refreshed})
}

// handleRunRules processes POST /api/v1/segments/run: evaluates an ad-hoc
// rule set against the directory without persisting anything, for
// previewing an audience before saving a segment.
func (a *API) handleRunRules(w http.ResponseWriter, r *http.Request) {
	var req RunRulesRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderBadJSON(w, r, err)
		return
	}
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	members, err := a.segments.ResolveAdHoc(r.Context(), req.Rules)
	if err != nil {
		renderError(w, r, err)
		return
	}

	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, RunResult{MatchCount: len(ids), UserIDs: ids})
}
