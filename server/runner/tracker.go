package runner

import (
	"errors"
	"sync"
	"time"

	"github.com/nomis52/capexec/capped"
	"github.com/nomis52/capexec/logging"
	"github.com/nomis52/capexec/tasks"
)

// tracker holds the live state of every task in a run. Tasks of all
// batches are laid out in batch order, then configuration order.
type tracker struct {
	mu    sync.Mutex
	execs []TaskExecution
	logs  *logging.LogCollector
}

func newTracker(logs *logging.LogCollector) *tracker {
	return &tracker{logs: logs}
}

// addBatch registers the tasks of a batch as queued and returns a view
// used while the batch runs.
func (t *tracker) addBatch(batch string, names, kinds []string) *batchTracker {
	t.mu.Lock()
	defer t.mu.Unlock()

	offset := len(t.execs)
	for i, name := range names {
		t.execs = append(t.execs, TaskExecution{
			Batch: batch,
			Task:  name,
			Kind:  kinds[i],
			State: TaskQueued,
		})
	}
	return &batchTracker{t: t, offset: offset, size: len(names)}
}

// snapshot copies the executions and attaches captured logs.
func (t *tracker) snapshot() []TaskExecution {
	t.mu.Lock()
	out := make([]TaskExecution, len(t.execs))
	copy(out, t.execs)
	t.mu.Unlock()

	if t.logs != nil {
		for i := range out {
			out[i].Logs = t.logs.GetLogs(tasks.Key(out[i].Batch, out[i].Task))
		}
	}
	return out
}

func (t *tracker) update(i int, fn func(*TaskExecution)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.execs[i])
}

// batchTracker follows one batch. It wraps the batch's factories to see
// invocation and settlement, and observes the executor to see drains.
type batchTracker struct {
	t      *tracker
	offset int
	size   int
}

var _ capped.Observer = (*batchTracker)(nil)

// wrap instruments factory i of the batch.
func (b *batchTracker) wrap(i int, f capped.Factory[tasks.Result]) capped.Factory[tasks.Result] {
	idx := b.offset + i
	return func() (capped.Awaitable[tasks.Result], error) {
		now := time.Now()
		b.t.update(idx, func(e *TaskExecution) {
			e.State = TaskPending
			e.StartedAt = &now
		})
		op, err := f()
		if err != nil {
			b.t.update(idx, func(e *TaskExecution) {
				e.State = TaskRejected
				e.Error = err.Error()
				e.EndedAt = &now
			})
			return nil, err
		}
		if op == nil {
			return nil, nil
		}
		return capped.Go(func() (tasks.Result, error) {
			res, err := op.Await()
			end := time.Now()
			b.t.update(idx, func(e *TaskExecution) {
				e.Output = res.Output
				e.Value = res.Value
				e.EndedAt = &end
				if err != nil {
					e.Error = err.Error()
				}
			})
			return res, err
		}), nil
	}
}

func (b *batchTracker) TaskAdmitted(int, int) {}

// TaskSettled marks the drained task. Admission indexes match task
// positions because an admission failure ends the batch.
func (b *batchTracker) TaskSettled(index int, status capped.Status, _ time.Duration, _ int) {
	b.t.update(b.offset+index, func(e *TaskExecution) {
		if status == capped.StatusFulfilled {
			e.State = TaskFulfilled
		} else {
			e.State = TaskRejected
		}
	})
}

// Aborted marks admitted tasks as discarded and the rest as skipped.
func (b *batchTracker) Aborted(err error, _ int) {
	var taskErr *capped.TaskError
	failed := -1
	if errors.As(err, &taskErr) && taskErr.Phase == capped.PhaseAdmission {
		failed = taskErr.Index
	}

	b.t.mu.Lock()
	defer b.t.mu.Unlock()
	for i := range b.size {
		e := &b.t.execs[b.offset+i]
		switch {
		case i == failed:
		case e.State == TaskPending:
			e.State = TaskDiscarded
		case e.State == TaskQueued:
			e.State = TaskSkipped
		}
	}
}

// counts returns the fulfilled and rejected totals of the batch.
func (b *batchTracker) counts() (fulfilled, rejected int) {
	b.t.mu.Lock()
	defer b.t.mu.Unlock()
	for i := range b.size {
		switch b.t.execs[b.offset+i].State {
		case TaskFulfilled:
			fulfilled++
		case TaskRejected:
			rejected++
		}
	}
	return fulfilled, rejected
}

// multiObserver fans executor notifications out to several observers.
type multiObserver []capped.Observer

func (m multiObserver) TaskAdmitted(index, pending int) {
	for _, o := range m {
		o.TaskAdmitted(index, pending)
	}
}

func (m multiObserver) TaskSettled(index int, status capped.Status, elapsed time.Duration, pending int) {
	for _, o := range m {
		o.TaskSettled(index, status, elapsed, pending)
	}
}

func (m multiObserver) Aborted(err error, discarded int) {
	for _, o := range m {
		o.Aborted(err, discarded)
	}
}
