package runner

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nomis52/capexec/logging"
)

// RunState is the state of the runner.
type RunState int

const (
	// RunStateIdle indicates no run is in progress.
	RunStateIdle RunState = iota
	// RunStateRunning indicates a run is in progress.
	RunStateRunning
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	switch s {
	case RunStateIdle:
		return "idle"
	case RunStateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s RunState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *RunState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "idle":
		*s = RunStateIdle
	case "running":
		*s = RunStateRunning
	default:
		return fmt.Errorf("unknown run state %q", name)
	}
	return nil
}

// TaskState is the lifecycle position of one task within a run.
type TaskState string

const (
	// TaskQueued tasks have not had their factory invoked yet.
	TaskQueued TaskState = "queued"
	// TaskPending tasks were admitted and have not been drained.
	TaskPending TaskState = "pending"
	// TaskFulfilled tasks were drained with a value.
	TaskFulfilled TaskState = "fulfilled"
	// TaskRejected tasks were drained with an error, or failed to start.
	TaskRejected TaskState = "rejected"
	// TaskDiscarded tasks were admitted but the batch aborted before they
	// were drained. Their outcome is not part of the batch result.
	TaskDiscarded TaskState = "discarded"
	// TaskSkipped tasks were never started because the batch aborted.
	TaskSkipped TaskState = "skipped"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerAPI  Trigger = "api"
	TriggerCron Trigger = "cron"
	TriggerCLI  Trigger = "cli"
)

// TaskExecution is the state of a task within a run.
type TaskExecution struct {
	Batch     string             `json:"batch"`
	Task      string             `json:"task"`
	Kind      string             `json:"kind"`
	State     TaskState          `json:"state"`
	Output    string             `json:"output,omitempty"`
	Value     any                `json:"value,omitempty"`
	Error     string             `json:"error,omitempty"`
	StartedAt *time.Time         `json:"started_at,omitempty"`
	EndedAt   *time.Time         `json:"ended_at,omitempty"`
	Logs      []logging.LogEntry `json:"logs,omitempty"`
}

// BatchReport summarizes one batch of a run.
type BatchReport struct {
	Name       string `json:"name"`
	MaxPending int    `json:"max_pending"`
	Mode       string `json:"mode"`
	Error      string `json:"error,omitempty"`
	Fulfilled  int    `json:"fulfilled"`
	Rejected   int    `json:"rejected"`
}

// RunSummary describes a run without its per-task detail.
type RunSummary struct {
	ID        string        `json:"id"`
	Trigger   Trigger       `json:"trigger,omitempty"`
	Batches   []BatchReport `json:"batches"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// RunStatus is the current run, or the last one when idle.
type RunStatus struct {
	State RunState `json:"state"`
	RunSummary
	Tasks []TaskExecution `json:"tasks,omitempty"`
}

// runRecord is the persisted form of a completed run.
type runRecord struct {
	RunSummary
	Tasks []TaskExecution `json:"tasks"`
}
