package runner

import (
	"errors"
	"sync"
)

// MemoryStore keeps run history in memory only.
type MemoryStore struct {
	mu       sync.Mutex
	maxCount int
	runs     []runRecord
}

// NewMemoryStore creates an in-memory store holding up to maxCount runs.
// Zero or less means unlimited.
func NewMemoryStore(maxCount int) *MemoryStore {
	return &MemoryStore{maxCount: maxCount}
}

// History returns all runs as summaries.
func (s *MemoryStore) History() []RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RunSummary, len(s.runs))
	for i, run := range s.runs {
		out[i] = run.RunSummary
	}
	return out
}

// Logs returns the task executions for run id.
func (s *MemoryStore) Logs(id string) []TaskExecution {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, run := range s.runs {
		if run.ID == id {
			out := make([]TaskExecution, len(run.Tasks))
			copy(out, run.Tasks)
			return out
		}
	}
	return nil
}

// Save stores a run.
func (s *MemoryStore) Save(summary RunSummary, tasks []TaskExecution) error {
	if summary.ID == "" {
		return errors.New("cannot save run without an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append([]runRecord{{RunSummary: summary, Tasks: tasks}}, s.runs...)
	if s.maxCount > 0 && len(s.runs) > s.maxCount {
		s.runs = s.runs[:s.maxCount]
	}
	return nil
}
