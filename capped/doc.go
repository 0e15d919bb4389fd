// Package capped runs task factories with a cap on how many of their
// operations may be pending at the same time.
//
// A task is a Factory: a function that starts an operation and returns an
// Awaitable for it. Factories are invoked strictly in sequence order, and a
// new one is only invoked when fewer than maxPending operations are pending;
// otherwise the executor first waits for whichever pending operation settles
// first. Results are always reported in creation order, independent of the
// order in which operations settle.
//
// Two completion policies are offered:
//
//   - All (FailFast) returns the values of every task, or aborts with the first
//     rejection it observes. Operations that are already running are not
//     cancelled; their results are discarded.
//   - AllSettled (CollectAll) waits for every admitted task and reports each
//     one as fulfilled or rejected.
//
// Both abort immediately when maxPending is below 1 (*ConfigurationError),
// when an element is not a factory (*ArgumentTypeError), or when a factory
// fails or panics while being invoked (*TaskError with PhaseAdmission).
//
// Example:
//
//	factories := []capped.Factory[string]{
//		capped.FromFunc(func() (string, error) { return fetch("a") }),
//		capped.FromFunc(func() (string, error) { return fetch("b") }),
//		capped.FromFunc(func() (string, error) { return fetch("c") }),
//	}
//	bodies, err := capped.All(2, slices.Values(factories))
//
// Scheduling state is owned by the calling goroutine. Each admitted operation
// is awaited on its own goroutine, which reports its settlement over a
// channel; draining is a receive on that channel.
package capped
