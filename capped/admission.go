package capped

import (
	"log/slog"
	"runtime/debug"
	"time"
)

// settlement is posted by a task goroutine when its operation settles.
type settlement[T any] struct {
	index   int
	outcome Outcome[T]
}

type pendingTask struct {
	admittedAt time.Time
}

// scheduler owns the scheduling state of one call. Every field is touched only
// by the orchestration flow; task goroutines communicate through done.
type scheduler[T any] struct {
	maxPending int
	policy     Policy
	logger     *slog.Logger
	observer   Observer

	pending   map[int]*pendingTask
	results   collector[T]
	done      chan settlement[T]
	nextIndex int
}

func newScheduler[T any](maxPending int, policy Policy, cfg config) *scheduler[T] {
	logger := cfg.logger.With("policy", policy.String(), "max_pending", maxPending)
	if cfg.name != "" {
		logger = logger.With("name", cfg.name)
	}
	return &scheduler[T]{
		maxPending: maxPending,
		policy:     policy,
		logger:     logger,
		observer:   cfg.observer,
		pending:    make(map[int]*pendingTask, maxPending),
		// Every admitted task sends exactly once and at most maxPending are
		// undrained, so senders never block, even after an abort.
		done: make(chan settlement[T], maxPending),
	}
}

// admitNext makes room for one more task, draining a single entry if the
// pending set is full, then invokes factory and tracks the operation it
// returns. A factory failure leaves the pending set untouched.
func (s *scheduler[T]) admitNext(factory Factory[T]) error {
	if len(s.pending) == s.maxPending {
		if err := s.drainAndInspect(); err != nil {
			return err
		}
	}

	index := s.nextIndex
	op, err := invoke(factory)
	if err != nil {
		s.logger.Debug("factory failed", "index", index, "error", err)
		return &TaskError{Index: index, Phase: PhaseAdmission, Err: err}
	}

	s.results.reserve()
	s.pending[index] = &pendingTask{admittedAt: time.Now()}
	s.nextIndex++
	go s.await(index, op)

	s.logger.Debug("task admitted", "index", index, "pending", len(s.pending))
	s.observer.TaskAdmitted(index, len(s.pending))
	return nil
}

// invoke calls factory, converting a panic into an error.
func invoke[T any](factory Factory[T]) (op Awaitable[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			op, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	op, err = factory()
	if err == nil && op == nil {
		// A nil awaitable settles immediately with the zero value.
		op = Resolve(*new(T))
	}
	return op, err
}

// await runs on the task's own goroutine.
func (s *scheduler[T]) await(index int, op Awaitable[T]) {
	var outcome Outcome[T]
	defer func() {
		if r := recover(); r != nil {
			outcome = Rejected[T](&PanicError{Value: r, Stack: debug.Stack()})
		}
		s.done <- settlement[T]{index: index, outcome: outcome}
	}()

	value, err := op.Await()
	if err != nil {
		outcome = Rejected[T](err)
		return
	}
	outcome = Fulfilled(value)
}

// drain waits for whichever pending task settles first, removes it from the
// pending set and records its outcome.
func (s *scheduler[T]) drain() (int, Outcome[T]) {
	st := <-s.done
	task := s.pending[st.index]
	delete(s.pending, st.index)
	s.results.record(st.index, st.outcome)

	var elapsed time.Duration
	if task != nil {
		elapsed = time.Since(task.admittedAt)
	}
	s.logger.Debug("task drained",
		"index", st.index,
		"status", st.outcome.Status.String(),
		"elapsed", elapsed,
		"pending", len(s.pending),
	)
	s.observer.TaskSettled(st.index, st.outcome.Status, elapsed, len(s.pending))
	return st.index, st.outcome
}

// drainAndInspect drains one task and applies the completion policy to it.
func (s *scheduler[T]) drainAndInspect() error {
	index, outcome := s.drain()
	return inspect(s.policy, index, outcome)
}

// drainAll drains until nothing is pending.
func (s *scheduler[T]) drainAll() error {
	for len(s.pending) > 0 {
		if err := s.drainAndInspect(); err != nil {
			return err
		}
	}
	return nil
}

// abort reports a failed call. Pending tasks keep running; their outcomes are
// dropped with the scheduler.
func (s *scheduler[T]) abort(err error) error {
	s.logger.Warn("aborting",
		"error", err,
		"admitted", s.results.len(),
		"discarded", len(s.pending),
	)
	s.observer.Aborted(err, len(s.pending))
	return err
}
