// Package tasks turns configured task definitions into capped factories.
//
// Three kinds are supported: local commands (exec), HTTP requests (http) and
// remote commands over SSH (ssh). Each factory starts its work on its own
// goroutine when invoked and is bounded by the task's timeout.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/nomis52/capexec/capped"
	"github.com/nomis52/capexec/clients/sshclient"
	"github.com/nomis52/capexec/config"
	"github.com/nomis52/capexec/logging"
)

// maxOutput caps the captured output of a single task.
const maxOutput = 64 << 10

// Result is the fulfilled value of a task.
type Result struct {
	Batch    string        `json:"batch"`
	Task     string        `json:"task"`
	Kind     string        `json:"kind"`
	Output   string        `json:"output,omitempty"`
	Value    any           `json:"value,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Key identifies a task across batches, e.g. "nightly/disk".
func Key(batch, task string) string {
	return batch + "/" + task
}

// Builder creates factories for the tasks of a batch. It owns the shared
// SSH connection pool and HTTP client and is safe for concurrent use.
type Builder struct {
	cfg    *config.Config
	pool   *sshclient.Pool
	http   *resty.Client
	logger *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the base logger handed to tasks.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithSSHPool replaces the default SSH connection pool.
func WithSSHPool(pool *sshclient.Pool) BuilderOption {
	return func(b *Builder) {
		b.pool = pool
	}
}

// WithHTTPClient replaces the default resty client.
func WithHTTPClient(c *resty.Client) BuilderOption {
	return func(b *Builder) {
		b.http = c
	}
}

// NewBuilder creates a Builder for cfg.
func NewBuilder(cfg *config.Config, opts ...BuilderOption) (*Builder, error) {
	b := &Builder{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "tasks")
	if b.pool == nil {
		pool, err := sshclient.NewPool(sshclient.DefaultPoolSize, b.logger)
		if err != nil {
			return nil, err
		}
		b.pool = pool
	}
	if b.http == nil {
		b.http = resty.New().SetHeader("User-Agent", "capexec")
	}
	return b, nil
}

// Close releases pooled connections.
func (b *Builder) Close() {
	b.pool.Close()
}

// Batch returns one factory per task of batch, in configuration order.
// Each task logs through hook under Key(batch, task); a nil hook disables
// capturing.
func (b *Builder) Batch(ctx context.Context, batch string, hook logging.LoggerHook) ([]capped.Factory[Result], error) {
	bc, ok := b.cfg.Batches[batch]
	if !ok {
		return nil, fmt.Errorf("unknown batch %q", batch)
	}
	if hook == nil {
		hook = logging.PassthroughHook{}
	}
	factories := make([]capped.Factory[Result], 0, len(bc.Tasks))
	for _, t := range bc.Tasks {
		f, err := b.Factory(ctx, batch, t, hook.LoggerForTask(b.logger, Key(batch, t.Name)))
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", t.Name, err)
		}
		factories = append(factories, f)
	}
	return factories, nil
}

// runner performs one task and returns its output and extracted value.
type runner func(ctx context.Context, logger *slog.Logger) (string, any, error)

// Factory validates t and returns a factory that runs it. Problems that can
// only be detected at invocation, such as a missing executable, are
// returned by the factory itself.
func (b *Builder) Factory(ctx context.Context, batch string, t config.TaskConfig, logger *slog.Logger) (capped.Factory[Result], error) {
	var (
		prepare func() (runner, error)
		err     error
	)
	switch {
	case t.Exec != nil:
		prepare, err = b.execTask(t.Exec)
	case t.HTTP != nil:
		prepare, err = b.httpTask(t.HTTP)
	case t.SSH != nil:
		prepare, err = b.sshTask(t.SSH)
	default:
		err = errors.New("no task kind set")
	}
	if err != nil {
		return nil, err
	}

	timeout := b.cfg.TimeoutFor(t)
	return func() (capped.Awaitable[Result], error) {
		run, err := prepare()
		if err != nil {
			logger.Error("task could not start", "error", err)
			return nil, err
		}
		logger.Debug("task started", "kind", t.Kind(), "timeout", timeout)
		return capped.Go(func() (Result, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			out, value, err := run(ctx, logger)
			res := Result{
				Batch:    batch,
				Task:     t.Name,
				Kind:     t.Kind(),
				Output:   truncate(out),
				Value:    value,
				Duration: time.Since(start),
			}
			if err != nil {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					err = fmt.Errorf("timed out after %s: %w", timeout, err)
				}
				logger.Warn("task failed", "error", err, "duration", res.Duration)
				return res, err
			}
			logger.Info("task succeeded", "duration", res.Duration)
			return res, nil
		}), nil
	}, nil
}

// truncate keeps at most the last maxOutput bytes of s.
func truncate(s string) string {
	if len(s) <= maxOutput {
		return s
	}
	return s[runeStart(s, len(s)-maxOutput):]
}

// tail returns at most the last n bytes of s, never splitting a rune.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[runeStart(s, len(s)-n):]
}

// runeStart moves i forward to the first byte of a rune.
func runeStart(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
