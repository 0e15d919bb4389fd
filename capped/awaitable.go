package capped

import "runtime/debug"

// Awaitable is an operation that has already been started and eventually
// settles with a value or an error.
type Awaitable[T any] interface {
	// Await blocks until the operation settles. It may be called more than once.
	Await() (T, error)
}

// Factory starts a new task. It is invoked at most once, at admission time.
//
// A returned error, like a panic, is a synchronous failure: the task is never
// admitted and the call is aborted regardless of policy.
type Factory[T any] func() (Awaitable[T], error)

// Future is an Awaitable backed by a goroutine.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Go runs fn on a new goroutine and returns a Future for its result.
// A panic in fn settles the future with a *PanicError.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		f.value, f.err = fn()
	}()
	return f
}

// Await implements Awaitable.
func (f *Future[T]) Await() (T, error) {
	<-f.done
	return f.value, f.err
}

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

type settled[T any] struct {
	value T
	err   error
}

func (s settled[T]) Await() (T, error) {
	return s.value, s.err
}

// Resolve returns an Awaitable that is already fulfilled with v.
func Resolve[T any](v T) Awaitable[T] {
	return settled[T]{value: v}
}

// Reject returns an Awaitable that is already rejected with err.
func Reject[T any](err error) Awaitable[T] {
	return settled[T]{err: err}
}

// FromFunc returns a Factory that runs fn on its own goroutine when invoked.
func FromFunc[T any](fn func() (T, error)) Factory[T] {
	if fn == nil {
		return nil
	}
	return func() (Awaitable[T], error) {
		return Go(fn), nil
	}
}

// toFactory converts an element of an untyped task sequence into a Factory.
// Anything that is not one of the accepted function shapes is not callable.
func toFactory[T any](elem any) (Factory[T], error) {
	switch fn := elem.(type) {
	case Factory[T]:
		if fn != nil {
			return fn, nil
		}
	case func() (Awaitable[T], error):
		if fn != nil {
			return fn, nil
		}
	case func() Awaitable[T]:
		if fn != nil {
			return func() (Awaitable[T], error) { return fn(), nil }, nil
		}
	case func() (T, error):
		if fn != nil {
			return FromFunc(fn), nil
		}
	case func() T:
		if fn != nil {
			return FromFunc(func() (T, error) { return fn(), nil }), nil
		}
	}
	return nil, &ArgumentTypeError{Value: elem}
}
