package handlers

import (
	"log/slog"
	"net/http"
)

// ReloadHandler reloads a component, such as the batch configuration or
// the run history store, on request.
type ReloadHandler struct {
	logger   *slog.Logger
	what     string
	reloader Reloader
}

// NewReloadHandler creates a ReloadHandler for the batch configuration.
func NewReloadHandler(logger *slog.Logger, reloader Reloader) *ReloadHandler {
	return &ReloadHandler{logger: logger, what: "configuration", reloader: reloader}
}

// NewStoreReloadHandler creates a ReloadHandler for the run history store.
func NewStoreReloadHandler(logger *slog.Logger, store Reloader) *ReloadHandler {
	return &ReloadHandler{logger: logger, what: "run history", reloader: store}
}

// ServeHTTP implements http.Handler.
func (h *ReloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("reloading", "what", h.what)

	if err := h.reloader.Reload(); err != nil {
		h.logger.Error("reload failed", "what", h.what, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload "+h.what+": "+err.Error())
		return
	}

	h.logger.Info("reload succeeded", "what", h.what)
	w.WriteHeader(http.StatusNoContent)
}
