// Package cron schedules batch runs.
//
// A Trigger calls a function on a cron schedule until its context is
// cancelled. A Manager owns one Trigger per configured schedule.
//
// Example usage:
//
//	m, err := cron.NewManager(specs, runnable, logger)
//	if err != nil {
//	    return err
//	}
//	return m.Run(ctx) // blocks until ctx is cancelled
package cron

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronSpec is returned when a schedule cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// parser accepts standard five field expressions and descriptors such as
// "@daily" or "@every 1h".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}
	return s, nil
}

// Trigger calls fn on a schedule.
type Trigger struct {
	spec     string
	schedule cron.Schedule
	fn       func() error
	logger   *slog.Logger
	now      func() time.Time
}

// NewTrigger creates a Trigger for spec.
func NewTrigger(spec string, fn func() error, logger *slog.Logger) (*Trigger, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	return &Trigger{
		spec:     spec,
		schedule: schedule,
		fn:       fn,
		logger:   logger.With("schedule", spec),
		now:      time.Now,
	}, nil
}

// Spec returns the schedule expression.
func (t *Trigger) Spec() string {
	return t.spec
}

// NextRun returns the next scheduled time after now.
func (t *Trigger) NextRun() time.Time {
	return t.schedule.Next(t.now())
}

// Run fires the trigger on schedule until ctx is cancelled. A fire that
// fails is logged; the schedule continues.
func (t *Trigger) Run(ctx context.Context) {
	for {
		next := t.schedule.Next(t.now())
		wait := next.Sub(t.now())
		t.logger.Debug("waiting for next scheduled run", "next_run", next, "wait_duration", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Debug("cron trigger shutting down")
			return
		case <-timer.C:
			t.fire()
		}
	}
}

func (t *Trigger) fire() {
	t.logger.Info("starting scheduled run")
	if err := t.fn(); err != nil {
		t.logger.Warn("scheduled run not started", "error", err)
	}
}
