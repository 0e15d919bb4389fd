package handlers

import (
	"net/http"
)

// BatchInfo describes one configured batch.
type BatchInfo struct {
	Name       string     `json:"name"`
	MaxPending int        `json:"max_pending"`
	Mode       string     `json:"mode"`
	Tasks      []TaskInfo `json:"tasks"`
}

// TaskInfo describes one task of a batch.
type TaskInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// BatchesResponse is the JSON response for GET /batches.
type BatchesResponse struct {
	Batches []BatchInfo `json:"batches"`
}

// BatchesHandler lists the batches that can be run.
type BatchesHandler struct {
	configProvider ConfigProvider
}

// NewBatchesHandler creates a new BatchesHandler.
func NewBatchesHandler(provider ConfigProvider) *BatchesHandler {
	return &BatchesHandler{configProvider: provider}
}

// ServeHTTP implements http.Handler.
func (h *BatchesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.configProvider.Config()
	if cfg == nil {
		writeError(w, http.StatusServiceUnavailable, "no configuration loaded")
		return
	}

	resp := BatchesResponse{Batches: make([]BatchInfo, 0, len(cfg.Batches))}
	for _, name := range cfg.BatchNames() {
		// Both were validated when the config was loaded.
		maxPending, _ := cfg.MaxPendingFor(name)
		policy, _ := cfg.PolicyFor(name)

		info := BatchInfo{Name: name, MaxPending: maxPending, Mode: policy.String()}
		for _, t := range cfg.Batches[name].Tasks {
			info.Tasks = append(info.Tasks, TaskInfo{Name: t.Name, Kind: t.Kind()})
		}
		resp.Batches = append(resp.Batches, info)
	}
	writeJSON(w, http.StatusOK, resp)
}
