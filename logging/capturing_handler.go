package logging

import (
	"context"
	"log/slog"
	"strings"
)

// CapturingHandler tees log records into a LogCollector under a task key
// while passing them on to the wrapped handler.
type CapturingHandler struct {
	next      slog.Handler
	collector *LogCollector
	task      string
	attrs     []slog.Attr
	prefix    string // dotted group path applied to record attributes
}

// NewCapturingHandler returns a handler that records every entry for task in
// collector before forwarding it to next.
func NewCapturingHandler(next slog.Handler, collector *LogCollector, task string) *CapturingHandler {
	return &CapturingHandler{
		next:      next,
		collector: collector,
		task:      task,
	}
}

// Enabled reports true for every level so debug output reaches the run
// history even when the console logger is configured at info. Filtering for
// the wrapped handler happens in Handle.
func (h *CapturingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle records r and forwards it when the wrapped handler accepts its level.
func (h *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:       r.Time,
		Level:      r.Level.String(),
		Message:    r.Message,
		Attributes: make(map[string]any, r.NumAttrs()+len(h.attrs)),
	}
	for _, a := range h.attrs {
		entry.Attributes[a.Key] = resolveValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attributes[h.prefix+a.Key] = resolveValue(a.Value)
		return true
	})
	h.collector.AddLog(h.task, entry)

	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs keeps capturing through logger.With chains.
func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		merged = append(merged, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = merged
	return &clone
}

// WithGroup keeps capturing through logger.WithGroup chains. Captured keys
// are flattened to "group.key".
func (h *CapturingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.prefix = h.prefix + name + "."
	return &clone
}

// resolveValue converts v into something encoding/json renders sensibly.
func resolveValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time()
	case slog.KindGroup:
		group := make(map[string]any)
		for _, a := range v.Group() {
			group[a.Key] = resolveValue(a.Value)
		}
		return group
	default:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		if s, ok := v.Any().(interface{ String() string }); ok {
			return strings.TrimSpace(s.String())
		}
		return v.Any()
	}
}
