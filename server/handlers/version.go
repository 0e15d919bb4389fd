package handlers

import (
	"net/http"
	"time"

	"github.com/nomis52/capexec/server/types"
)

// VersionResponse is the JSON response for GET /version.
type VersionResponse struct {
	types.ServerProperties
	Uptime string `json:"uptime"`
}

// VersionHandler serves build and instance information.
type VersionHandler struct {
	props types.ServerProperties
	now   func() time.Time
}

// NewVersionHandler creates a new VersionHandler.
func NewVersionHandler(props types.ServerProperties) *VersionHandler {
	return &VersionHandler{props: props, now: time.Now}
}

// ServeHTTP implements http.Handler.
func (h *VersionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{
		ServerProperties: h.props,
		Uptime:           h.props.Uptime(h.now()).String(),
	})
}
