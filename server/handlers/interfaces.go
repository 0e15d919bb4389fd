// Package handlers provides HTTP handlers for the capped server.
//
// Each handler is in its own file and implements http.Handler. Handlers
// reach server state through small interfaces to avoid circular imports.
package handlers

import (
	"time"

	"github.com/nomis52/capexec/config"
	"github.com/nomis52/capexec/server/runner"
)

// ConfigProvider provides access to the current batch configuration.
type ConfigProvider interface {
	Config() *config.Config
}

// Reloader can reload its configuration.
type Reloader interface {
	Reload() error
}

// BatchRunner starts runs of named batches.
type BatchRunner interface {
	Run(batches []string, trigger runner.Trigger) error
}

// RunStatusProvider provides access to the current run.
type RunStatusProvider interface {
	Status() runner.RunStatus
}

// NextRunProvider reports the next scheduled run, or nil if none.
type NextRunProvider interface {
	NextRun() *time.Time
}

// HistoryProvider provides access to completed runs.
type HistoryProvider interface {
	History() []runner.RunSummary
	Logs(id string) []runner.TaskExecution
}
