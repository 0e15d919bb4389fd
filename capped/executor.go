package capped

import (
	"iter"
	"strconv"
	"strings"
)

// All runs the tasks produced by factories with at most maxPending of them
// pending at once and returns their values in creation order.
//
// The first rejection that is drained aborts the call with a *TaskError.
// Tasks that were already admitted keep running; factories that were not yet
// invoked never are.
func All[T any](maxPending int, factories iter.Seq[Factory[T]], opts ...Option) ([]T, error) {
	s, err := run[T](maxPending, untyped(factories), FailFast, opts)
	if err != nil {
		return nil, err
	}
	return s.results.values(), nil
}

// AllSettled runs the tasks produced by factories with at most maxPending of
// them pending at once and returns every outcome in creation order.
//
// A rejected task never aborts the call. Only an invalid maxPending, a nil
// factory or a factory that fails when invoked does.
func AllSettled[T any](maxPending int, factories iter.Seq[Factory[T]], opts ...Option) ([]Outcome[T], error) {
	s, err := run[T](maxPending, untyped(factories), CollectAll, opts)
	if err != nil {
		return nil, err
	}
	return s.results.outcomes(), nil
}

// AllAny is All for sequences whose elements are checked at run time.
//
// Accepted elements are Factory[T], func() (Awaitable[T], error),
// func() Awaitable[T], func() (T, error) and func() T. The last two are run on
// their own goroutine. Any other element aborts the call with an
// *ArgumentTypeError when it is reached.
func AllAny[T any](maxPending int, elems iter.Seq[any], opts ...Option) ([]T, error) {
	s, err := run[T](maxPending, elems, FailFast, opts)
	if err != nil {
		return nil, err
	}
	return s.results.values(), nil
}

// AllSettledAny is AllSettled for sequences whose elements are checked at run
// time. See AllAny for the accepted element types.
func AllSettledAny[T any](maxPending int, elems iter.Seq[any], opts ...Option) ([]Outcome[T], error) {
	s, err := run[T](maxPending, elems, CollectAll, opts)
	if err != nil {
		return nil, err
	}
	return s.results.outcomes(), nil
}

// Run is AllSettled with a selectable policy. Under FailFast it returns an
// error on the first drained rejection, so every returned outcome is fulfilled.
func Run[T any](maxPending int, policy Policy, factories iter.Seq[Factory[T]], opts ...Option) ([]Outcome[T], error) {
	s, err := run[T](maxPending, untyped(factories), policy, opts)
	if err != nil {
		return nil, err
	}
	return s.results.outcomes(), nil
}

// ParseMaxPending parses a textual concurrency cap, such as a flag or a YAML
// scalar. Anything that is not an integer >= 1 yields a *ConfigurationError
// naming the value.
func ParseMaxPending(text string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 {
		return 0, &ConfigurationError{Value: text}
	}
	return n, nil
}

func run[T any](maxPending int, elems iter.Seq[any], policy Policy, opts []Option) (*scheduler[T], error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if maxPending < 1 {
		err := &ConfigurationError{Value: maxPending}
		cfg.observer.Aborted(err, 0)
		return nil, err
	}

	s := newScheduler[T](maxPending, policy, cfg)
	if elems != nil {
		for elem := range elems {
			factory, err := toFactory[T](elem)
			if err != nil {
				return nil, s.abort(err)
			}
			if err := s.admitNext(factory); err != nil {
				return nil, s.abort(err)
			}
		}
	}

	if err := s.drainAll(); err != nil {
		return nil, s.abort(err)
	}
	s.logger.Debug("all tasks settled", "count", s.results.len())
	return s, nil
}

func untyped[T any](factories iter.Seq[Factory[T]]) iter.Seq[any] {
	if factories == nil {
		return nil
	}
	return func(yield func(any) bool) {
		for f := range factories {
			if !yield(f) {
				return
			}
		}
	}
}
