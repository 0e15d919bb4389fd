package capped

import "strconv"

// collector stores task outcomes by creation index.
//
// A slot is reserved when its task is admitted and written exactly once, when
// the task is drained. Only the orchestration flow touches a collector.
type collector[T any] struct {
	results []Outcome[T]
	written []bool
}

// reserve appends an unwritten slot for the next admitted task.
func (c *collector[T]) reserve() {
	c.results = append(c.results, Outcome[T]{})
	c.written = append(c.written, false)
}

// record stores the outcome of the task at index.
func (c *collector[T]) record(index int, o Outcome[T]) {
	c.results[index] = o
	c.written[index] = true
}

// len returns the number of admitted tasks.
func (c *collector[T]) len() int {
	return len(c.results)
}

// outcomes returns all outcomes in creation order.
// It must only be called once every reserved slot has been written.
func (c *collector[T]) outcomes() []Outcome[T] {
	for i, ok := range c.written {
		if !ok {
			panic("capped: result slot read before it was written: " + strconv.Itoa(i))
		}
	}
	out := make([]Outcome[T], len(c.results))
	copy(out, c.results)
	return out
}

// values returns the fulfilled values in creation order. Rejected slots hold
// the zero value.
func (c *collector[T]) values() []T {
	outcomes := c.outcomes()
	values := make([]T, len(outcomes))
	for i, o := range outcomes {
		if o.IsFulfilled() {
			values[i] = o.Value
		}
	}
	return values
}
