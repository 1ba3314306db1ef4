package server

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/loadtoy/dashboard/internal/runs"
)

// Machine-readable error kinds returned in the "error" field.
const (
	kindValidation  = "validation"
	kindConflict    = "conflict"
	kindNotFound    = "not_found"
	kindSpawnFailed = "spawn_failed"
	kindBadRequest  = "bad_request"
	kindUnavailable = "unavailable"
	kindInternal    = "internal"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RunID     string `json:"runId,omitempty"`
	RunningID string `json:"runningId,omitempty"`
}

func writeError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, errorResponse{Error: kind, Message: message})
}

// writeRunError maps controller errors to status codes and kinds.
func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	var (
		validation *runs.ValidationError
		conflict   *runs.ConflictError
		spawn      *runs.SpawnError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: kindValidation, Message: validation.Error(), Field: validation.Field})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: kindConflict, Message: conflict.Error(), RunningID: conflict.RunningID})
	case runs.IsNotFound(err):
		writeError(w, http.StatusNotFound, kindNotFound, err.Error())
	case errors.As(err, &spawn):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: kindSpawnFailed, Message: spawn.Error(), RunID: spawn.RunID})
	default:
		s.log.WithError(err).Error("unexpected controller error")
		writeError(w, http.StatusInternalServerError, kindInternal, err.Error())
	}
}
