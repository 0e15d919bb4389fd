package logging

import (
	"sync"
	"time"
)

// LogEntry is one captured log record.
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// LogCollector stores captured log entries per task. It is safe for
// concurrent use; tasks of one batch log from their own goroutines.
type LogCollector struct {
	mu      sync.RWMutex
	limit   int
	order   []string
	logs    map[string][]LogEntry
	dropped map[string]int
}

// CollectorOption configures a LogCollector.
type CollectorOption func(*LogCollector)

// WithPerTaskLimit keeps only the most recent n entries for each task.
// Zero or less means unlimited.
func WithPerTaskLimit(n int) CollectorOption {
	return func(c *LogCollector) {
		c.limit = n
	}
}

// NewLogCollector creates an empty LogCollector.
func NewLogCollector(opts ...CollectorOption) *LogCollector {
	c := &LogCollector{
		logs:    make(map[string][]LogEntry),
		dropped: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddLog appends entry to the log of task.
func (c *LogCollector) AddLog(task string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, seen := c.logs[task]
	if !seen {
		c.order = append(c.order, task)
	}
	entries = append(entries, entry)
	if c.limit > 0 && len(entries) > c.limit {
		c.dropped[task] += len(entries) - c.limit
		entries = entries[len(entries)-c.limit:]
	}
	c.logs[task] = entries
}

// GetLogs returns a copy of the entries for task, or nil if it never logged.
func (c *LogCollector) GetLogs(task string) []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries, ok := c.logs[task]
	if !ok {
		return nil
	}
	out := make([]LogEntry, len(entries))
	copy(out, entries)
	return out
}

// GetAllLogs returns a copy of every task's entries.
func (c *LogCollector) GetAllLogs() map[string][]LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]LogEntry, len(c.logs))
	for task, entries := range c.logs {
		cp := make([]LogEntry, len(entries))
		copy(cp, entries)
		out[task] = cp
	}
	return out
}

// Tasks lists the task keys in the order they first logged.
func (c *LogCollector) Tasks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Dropped reports how many entries were evicted for task by the per-task limit.
func (c *LogCollector) Dropped(task string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped[task]
}

// Clear removes every stored entry.
func (c *LogCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order = nil
	c.logs = make(map[string][]LogEntry)
	c.dropped = make(map[string]int)
}
