package runner

// StateStore persists the history of completed runs, most recent first.
type StateStore interface {
	// History returns the summaries of stored runs.
	History() []RunSummary
	// Logs returns the task executions of run id, or nil if unknown.
	Logs(id string) []TaskExecution
	// Save stores a completed run.
	Save(summary RunSummary, tasks []TaskExecution) error
}
