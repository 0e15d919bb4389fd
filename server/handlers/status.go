package handlers

import (
	"net/http"
	"time"

	"github.com/nomis52/capexec/server/runner"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	runner.RunStatus
	NextRun *time.Time `json:"next_run,omitempty"`
}

// StatusHandler serves the live state of the current or last run.
type StatusHandler struct {
	runs    RunStatusProvider
	nextRun NextRunProvider
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(runs RunStatusProvider, nextRun NextRunProvider) *StatusHandler {
	return &StatusHandler{runs: runs, nextRun: nextRun}
}

// ServeHTTP implements http.Handler.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{RunStatus: h.runs.Status()}
	if h.nextRun != nil {
		resp.NextRun = h.nextRun.NextRun()
	}
	writeJSON(w, http.StatusOK, resp)
}
