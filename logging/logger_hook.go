package logging

import "log/slog"

// LoggerHook derives the logger handed to one task.
type LoggerHook interface {
	LoggerForTask(base *slog.Logger, task string) *slog.Logger
}

// CapturingLoggerHook hands out loggers whose records are captured in a
// LogCollector under the task key.
type CapturingLoggerHook struct {
	collector *LogCollector
}

// NewCapturingLoggerHook returns a hook that captures into collector.
func NewCapturingLoggerHook(collector *LogCollector) *CapturingLoggerHook {
	return &CapturingLoggerHook{collector: collector}
}

// LoggerForTask wraps base so records are captured and tagged with task.
func (p *CapturingLoggerHook) LoggerForTask(base *slog.Logger, task string) *slog.Logger {
	h := NewCapturingHandler(base.Handler(), p.collector, task)
	return slog.New(h).With("task", task)
}

// Collector returns the collector this hook writes to.
func (p *CapturingLoggerHook) Collector() *LogCollector {
	return p.collector
}

// PassthroughHook tags loggers with the task but captures nothing.
type PassthroughHook struct{}

// LoggerForTask returns base tagged with task.
func (PassthroughHook) LoggerForTask(base *slog.Logger, task string) *slog.Logger {
	return base.With("task", task)
}
