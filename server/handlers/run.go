package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nomis52/capexec/server/runner"
)

// RunRequest defines the request body for POST /run.
type RunRequest struct {
	Batches []string `json:"batches"`
}

// RunHandler starts a run in the background.
type RunHandler struct {
	runner BatchRunner
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(r BatchRunner) *RunHandler {
	return &RunHandler{runner: r}
}

// ServeHTTP implements http.Handler. It answers 202 when the run starts,
// 409 when one is already in progress and 400 for a bad request.
func (h *RunHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	err := h.runner.Run(req.Batches, runner.TriggerAPI)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, runner.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, runner.ErrUnknownBatch),
		errors.Is(err, runner.ErrDuplicateBatch),
		errors.Is(err, runner.ErrNoBatches):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
