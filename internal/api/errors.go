package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/seglab/cohort/internal/domainerr"
	"github.com/seglab/cohort/internal/logger"
)

// renderError maps a service error onto the HTTP status taxonomy:
// validation failures are the caller's fault (400), unknown resources are
// 404, illegal lifecycle transitions are conflicts (409), and downstream
// outages are 502. Anything unclassified is a 500 and gets logged at error
// level, since it means a bug rather than a bad request.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	switch {
	case domainerr.IsValidation(err):
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_INPUT", Message: err.Error()})
	case domainerr.IsNotFound(err):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Code: "ERR_NOT_FOUND", Message: err.Error()})
	case domainerr.IsState(err):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INVALID_STATE", Message: err.Error()})
	case domainerr.IsDependency(err):
		log.Error("dependency failure", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, ErrorResponse{Code: "ERR_DEPENDENCY", Message: "A downstream dependency failed"})
	default:
		log.Error("unhandled internal error", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Code: "ERR_INTERNAL", Message: "Internal server error"})
	}
}

// renderBadJSON is the shared response for undecodable request bodies.
func renderBadJSON(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Warn("invalid json payload", slog.String("error", err.Error()))
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_INVALID_JSON",
		Message: "Invalid JSON payload: " + err.Error(),
	})
}
