// Package runner manages batch runs for the capped server and CLI.
//
// The runner handles:
//   - Starting runs in the background and refusing concurrent ones
//   - Executing the requested batches one after another, each under its
//     own concurrency cap and completion mode
//   - Tracking live per-task state and captured logs
//   - Persisting completed runs to a StateStore
//
// Each run builds its tasks from the configuration current at the time the
// run starts, so a reload takes effect on the next run.
//
// # Example
//
//	r := runner.New(logger, provider, runner.WithStateStore(store))
//
//	if err := r.Run([]string{"nightly"}, runner.TriggerAPI); err != nil {
//	    if errors.Is(err, runner.ErrRunInProgress) {
//	        // a run is already going
//	    }
//	}
//
//	status := r.Status()
//	for _, t := range status.Tasks {
//	    fmt.Printf("%s/%s [%s]\n", t.Batch, t.Task, t.State)
//	}
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nomis52/capexec/capped"
	"github.com/nomis52/capexec/config"
	"github.com/nomis52/capexec/logging"
	"github.com/nomis52/capexec/metrics"
	"github.com/nomis52/capexec/tasks"
	"github.com/segmentio/ksuid"
)

var (
	// ErrRunInProgress is returned when a run is requested while one is active.
	ErrRunInProgress = errors.New("run already in progress")
	// ErrUnknownBatch is returned for a batch name missing from the config.
	ErrUnknownBatch = errors.New("unknown batch")
	// ErrNoBatches is returned when a run names no batches.
	ErrNoBatches = errors.New("no batches requested")
	// ErrDuplicateBatch is returned when a run names a batch twice.
	ErrDuplicateBatch = errors.New("duplicate batch")
)

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *config.Config
}

// Overrides replace per-batch settings for a single run.
type Overrides struct {
	// MaxPending is used instead of the configured cap when not empty.
	MaxPending config.MaxPending
	// Mode is used instead of the configured mode when not empty.
	Mode string
}

// Runner executes batch runs.
type Runner struct {
	logger         *slog.Logger
	configProvider ConfigProvider
	store          StateStore
	metrics        *metrics.ExecutorMetrics
	logLimit       int

	mu      sync.Mutex
	status  RunStatus
	tracker *tracker
}

// Option configures a Runner.
type Option func(*Runner)

// WithStateStore sets the store completed runs are saved to.
func WithStateStore(store StateStore) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithMetrics reports executor metrics for every batch.
func WithMetrics(m *metrics.ExecutorMetrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithLogLimit caps the captured log entries kept per task.
func WithLogLimit(n int) Option {
	return func(r *Runner) {
		r.logLimit = n
	}
}

// New creates a Runner.
func New(logger *slog.Logger, provider ConfigProvider, opts ...Option) *Runner {
	r := &Runner{
		logger:         logger.With("component", "runner"),
		configProvider: provider,
		status:         RunStatus{State: RunStateIdle},
		logLimit:       500,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = NewMemoryStore(0)
	}
	return r
}

// Run starts a run of batches in the background.
func (r *Runner) Run(batches []string, trigger Trigger) error {
	cfg, err := r.prepare(batches)
	if err != nil {
		return err
	}
	if !r.tryStart(batches, trigger) {
		return ErrRunInProgress
	}
	r.logger.Info("starting run", "batches", batches, "trigger", trigger)

	go func() {
		err := r.execute(context.Background(), cfg, batches, Overrides{})
		r.finish(err)
	}()
	return nil
}

// RunSync runs batches in the foreground and returns the final status.
// The returned error is the joined error of all failed batches.
func (r *Runner) RunSync(ctx context.Context, batches []string, o Overrides) (RunStatus, error) {
	cfg, err := r.prepare(batches)
	if err != nil {
		return RunStatus{}, err
	}
	if !r.tryStart(batches, TriggerCLI) {
		return RunStatus{}, ErrRunInProgress
	}
	err = r.execute(ctx, cfg, batches, o)
	return r.finish(err), err
}

// Status returns the current run with live task state, or the last
// completed run when idle.
func (r *Runner) Status() RunStatus {
	r.mu.Lock()
	status := r.status
	t := r.tracker
	running := status.State == RunStateRunning
	r.mu.Unlock()

	if running && t != nil {
		status.Tasks = t.snapshot()
	}
	return status
}

// IsRunning reports whether a run is in progress.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.State == RunStateRunning
}

// History returns completed runs, most recent first.
func (r *Runner) History() []RunSummary {
	return r.store.History()
}

// Logs returns the task executions of a completed run.
func (r *Runner) Logs(id string) []TaskExecution {
	return r.store.Logs(id)
}

// prepare validates the requested batch names against the current config.
func (r *Runner) prepare(batches []string) (*config.Config, error) {
	cfg := r.configProvider.Config()
	if cfg == nil {
		return nil, errors.New("no configuration available")
	}
	if len(batches) == 0 {
		return nil, ErrNoBatches
	}
	seen := make(map[string]bool, len(batches))
	for _, b := range batches {
		if _, ok := cfg.Batches[b]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBatch, b)
		}
		if seen[b] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateBatch, b)
		}
		seen[b] = true
	}
	return cfg, nil
}

// tryStart transitions from idle to running.
func (r *Runner) tryStart(batches []string, trigger Trigger) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.State == RunStateRunning {
		return false
	}
	now := time.Now()
	r.status = RunStatus{
		State: RunStateRunning,
		RunSummary: RunSummary{
			ID:        ksuid.New().String(),
			Trigger:   trigger,
			StartedAt: &now,
			Batches:   make([]BatchReport, 0, len(batches)),
		},
	}
	r.tracker = newTracker(logging.NewLogCollector(logging.WithPerTaskLimit(r.logLimit)))
	return true
}

// finish records the result, saves the run and returns its final status.
func (r *Runner) finish(err error) RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	end := time.Now()
	r.status.State = RunStateIdle
	r.status.EndedAt = &end
	duration := end.Sub(*r.status.StartedAt)
	if err != nil {
		r.status.Error = err.Error()
		r.logger.Error("run failed", "id", r.status.ID, "error", err, "duration", duration)
	} else {
		r.logger.Info("run completed", "id", r.status.ID, "duration", duration)
	}
	r.status.Tasks = r.tracker.snapshot()

	if err := r.store.Save(r.status.RunSummary, r.status.Tasks); err != nil {
		r.logger.Error("failed to save run to store", "error", err)
	}
	return r.status
}

// execute runs each batch in order. A failed batch does not stop later
// batches.
func (r *Runner) execute(ctx context.Context, cfg *config.Config, batches []string, o Overrides) error {
	r.mu.Lock()
	t := r.tracker
	r.mu.Unlock()

	builder, err := tasks.NewBuilder(cfg, tasks.WithLogger(r.logger))
	if err != nil {
		return fmt.Errorf("failed to create task builder: %w", err)
	}
	defer builder.Close()
	hook := logging.NewCapturingLoggerHook(t.logs)

	var errs []error
	for _, name := range batches {
		report, err := r.runBatch(ctx, cfg, builder, hook, t, name, o)
		if err != nil {
			report.Error = err.Error()
			errs = append(errs, fmt.Errorf("batch %q: %w", name, err))
		}
		r.mu.Lock()
		r.status.Batches = append(r.status.Batches, report)
		r.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (r *Runner) runBatch(ctx context.Context, cfg *config.Config, builder *tasks.Builder, hook logging.LoggerHook, t *tracker, name string, o Overrides) (BatchReport, error) {
	bc := cfg.Batches[name]
	names := make([]string, len(bc.Tasks))
	kinds := make([]string, len(bc.Tasks))
	for i, tc := range bc.Tasks {
		names[i], kinds[i] = tc.Name, tc.Kind()
	}
	bt := t.addBatch(name, names, kinds)
	report := BatchReport{Name: name}

	maxPending, policy, err := resolve(cfg, name, o)
	if err != nil {
		bt.Aborted(err, 0)
		return report, err
	}
	report.MaxPending, report.Mode = maxPending, policy.String()

	factories, err := builder.Batch(ctx, name, hook)
	if err != nil {
		bt.Aborted(err, 0)
		return report, err
	}
	for i := range factories {
		factories[i] = bt.wrap(i, factories[i])
	}

	observers := multiObserver{bt}
	if r.metrics != nil {
		observers = append(observers, r.metrics.ForBatch(name))
	}

	r.logger.Info("running batch", "batch", name, "tasks", len(factories), "max_pending", maxPending, "mode", policy)
	_, err = capped.Run(maxPending, policy, slices.Values(factories),
		capped.WithLogger(r.logger),
		capped.WithName(name),
		capped.WithObserver(observers))
	report.Fulfilled, report.Rejected = bt.counts()
	return report, err
}

func resolve(cfg *config.Config, batch string, o Overrides) (int, capped.Policy, error) {
	var (
		maxPending int
		err        error
	)
	if o.MaxPending != "" {
		maxPending, err = o.MaxPending.Int()
	} else {
		maxPending, err = cfg.MaxPendingFor(batch)
	}
	if err != nil {
		return 0, capped.FailFast, err
	}

	var policy capped.Policy
	if o.Mode != "" {
		policy, err = capped.ParsePolicy(o.Mode)
	} else {
		policy, err = cfg.PolicyFor(batch)
	}
	if err != nil {
		return 0, capped.FailFast, err
	}
	return maxPending, policy, nil
}
