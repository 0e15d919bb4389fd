package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/segmentio/ksuid"
)

// DiskStore persists run history as one JSON file per run. Files are named
// by run ID; IDs are KSUIDs so they sort by start time.
type DiskStore struct {
	dir      string
	logger   *slog.Logger
	maxCount int

	mu   sync.Mutex
	runs []runRecord
}

// NewDiskStore creates a disk-backed store in dir, creating the directory
// if needed and loading existing runs.
func NewDiskStore(dir string, maxCount int, logger *slog.Logger) (*DiskStore, error) {
	if maxCount <= 0 {
		return nil, fmt.Errorf("max count must be positive, got %d", maxCount)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	s := &DiskStore{
		dir:      dir,
		logger:   logger.With("component", "disk_store"),
		maxCount: maxCount,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// History returns all runs as summaries.
func (s *DiskStore) History() []RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RunSummary, len(s.runs))
	for i, run := range s.runs {
		out[i] = run.RunSummary
	}
	return out
}

// Logs returns the task executions for run id.
func (s *DiskStore) Logs(id string) []TaskExecution {
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

// Save writes the run to disk and prunes runs beyond the configured count.
func (s *DiskStore) Save(summary RunSummary, tasks []TaskExecution) error {
	if summary.ID == "" {
		return errors.New("cannot save run without an id")
	}
	if summary.StartedAt == nil {
		return errors.New("cannot save run without start time")
	}

	run := runRecord{RunSummary: summary, Tasks: tasks}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(summary.ID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run file: %w", err)
	}
	s.logger.Debug("saved run to disk", "path", path)

	s.runs = append([]runRecord{run}, s.runs...)
	for len(s.runs) > s.maxCount {
		oldest := s.runs[len(s.runs)-1]
		s.runs = s.runs[:len(s.runs)-1]
		if err := os.Remove(s.path(oldest.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to prune run file", "id", oldest.ID, "error", err)
		}
	}
	return nil
}

// Reload re-reads all runs from disk.
func (s *DiskStore) Reload() error {
	runs, err := s.load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = runs
	return nil
}

func (s *DiskStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// load reads every run file, newest first, keeping at most maxCount.
// Unreadable files are logged and skipped.
func (s *DiskStore) load() ([]runRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var runs []runRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read run file", "file", path, "error", err)
			continue
		}
		var run runRecord
		if err := json.Unmarshal(data, &run); err != nil {
			s.logger.Warn("failed to parse run file", "file", path, "error", err)
			continue
		}
		if run.ID == "" {
			run.ID = legacyID(run.RunSummary)
		}
		runs = append(runs, run)
	}

	slices.SortFunc(runs, func(a, b runRecord) int {
		return -compareStart(a.RunSummary, b.RunSummary)
	})
	if len(runs) > s.maxCount {
		runs = runs[:s.maxCount]
	}
	s.logger.Info("loaded run history from disk", "count", len(runs))
	return runs, nil
}

// compareStart orders runs by start time; runs without one sort first.
func compareStart(a, b RunSummary) int {
	switch {
	case a.StartedAt == nil && b.StartedAt == nil:
		return 0
	case a.StartedAt == nil:
		return -1
	case b.StartedAt == nil:
		return 1
	default:
		return a.StartedAt.Compare(*b.StartedAt)
	}
}

// legacyID derives an ID for a run file written without one.
func legacyID(r RunSummary) string {
	if r.StartedAt == nil {
		return ksuid.New().String()
	}
	id, err := ksuid.NewRandomWithTime(*r.StartedAt)
	if err != nil {
		return ksuid.New().String()
	}
	return id.String()
}
