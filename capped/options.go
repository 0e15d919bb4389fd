package capped

import (
	"log/slog"
	"time"
)

// Observer is notified as the orchestration flow admits and drains tasks.
// Calls are made from the goroutine that called All or AllSettled.
type Observer interface {
	// TaskAdmitted is called after the factory for index returned an awaitable.
	TaskAdmitted(index int, pending int)

	// TaskSettled is called when the task at index is drained.
	// elapsed is measured from admission to drain.
	TaskSettled(index int, status Status, elapsed time.Duration, pending int)

	// Aborted is called once when the call fails. discarded is the number of
	// admitted tasks whose outcomes will never be recorded.
	Aborted(err error, discarded int)
}

// Option configures a call to All, AllSettled, AllAny or AllSettledAny.
type Option func(*config)

type config struct {
	logger   *slog.Logger
	observer Observer
	name     string
}

func defaultConfig() config {
	return config{
		logger:   slog.Default().With("component", "capped"),
		observer: nopObserver{},
	}
}

// WithLogger sets the logger used for admission and drain diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger.With("component", "capped")
		}
	}
}

// WithObserver registers an Observer for the call.
func WithObserver(o Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithName labels log records of the call with name.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

type nopObserver struct{}

func (nopObserver) TaskAdmitted(int, int) {}
func (nopObserver) TaskSettled(int, Status, time.Duration, int) {}
func (nopObserver) Aborted(error, int) {}
