package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Runnable starts a run of the named batches.
type Runnable interface {
	Run(batches []string) error
}

// RunnableFunc adapts a function to Runnable.
type RunnableFunc func(batches []string) error

// Run calls f.
func (f RunnableFunc) Run(batches []string) error {
	return f(batches)
}

// Manager runs one Trigger per TriggerSpec.
type Manager struct {
	triggers []*Trigger
	logger   *slog.Logger
}

// NewManager creates a trigger for every spec.
func NewManager(specs []TriggerSpec, runnable Runnable, logger *slog.Logger) (*Manager, error) {
	logger = logger.With("component", "cron")
	m := &Manager{logger: logger}
	for _, spec := range specs {
		batches := spec.Batches
		t, err := NewTrigger(spec.Schedule, func() error {
			return runnable.Run(batches)
		}, logger.With("batches", batches))
		if err != nil {
			return nil, fmt.Errorf("creating trigger for '%s': %w", spec, err)
		}
		logger.Info("trigger registered", "batches", batches, "schedule", spec.Schedule, "next_run", t.NextRun())
		m.triggers = append(m.triggers, t)
	}
	return m, nil
}

// Len returns the number of triggers.
func (m *Manager) Len() int {
	return len(m.triggers)
}

// Run runs every trigger until ctx is cancelled and then waits for them to
// stop. It always returns nil so it can be used directly with errgroup.
func (m *Manager) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, t := range m.triggers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.Run(ctx)
		}()
	}
	wg.Wait()
	return nil
}

// NextRun returns the earliest next run across all triggers, or the zero
// time when there are none.
func (m *Manager) NextRun() time.Time {
	var earliest time.Time
	for _, t := range m.triggers {
		if next := t.NextRun(); earliest.IsZero() || next.Before(earliest) {
			earliest = next
		}
	}
	return earliest
}
