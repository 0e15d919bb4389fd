package capped

import (
	"encoding/json"
	"errors"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Helpers
// ---------------------------------------------------------------------

// delayed returns a factory whose operation fulfills with v after d.
func delayed[T any](d time.Duration, v T) Factory[T] {
	return FromFunc(func() (T, error) {
		time.Sleep(d)
		return v, nil
	})
}

// failing returns a factory whose operation rejects with err after d.
func failing[T any](d time.Duration, err error) Factory[T] {
	return FromFunc(func() (T, error) {
		time.Sleep(d)
		var zero T
		return zero, err
	})
}

// counting wraps factories so the number of invocations can be inspected.
func counting[T any](calls *atomic.Int32, f Factory[T]) Factory[T] {
	return func() (Awaitable[T], error) {
		calls.Add(1)
		return f()
	}
}

// pendingRecorder is an Observer that remembers the largest pending count.
type pendingRecorder struct {
	mu         sync.Mutex
	maxPending int
	admitted   int
	settled    int
	aborted    error
	discarded  int
}

func (r *pendingRecorder) TaskAdmitted(index int, pending int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admitted++
	if pending > r.maxPending {
		r.maxPending = pending
	}
}

func (r *pendingRecorder) TaskSettled(index int, status Status, elapsed time.Duration, pending int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled++
}

func (r *pendingRecorder) Aborted(err error, discarded int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = err
	r.discarded = discarded
}

// Tests
// ---------------------------------------------------------------------

func TestAll_ResultsInCreationOrder(t *testing.T) {
	factories := []Factory[int]{
		delayed(300*time.Millisecond, 0),
		delayed(200*time.Millisecond, 1),
		delayed(100*time.Millisecond, 2),
	}

	values, err := All(3, slices.Values(factories))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, values)

	outcomes, err := AllSettled(3, slices.Values(factories))
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		assert.Equal(t, StatusFulfilled, o.Status)
		assert.Equal(t, i, o.Value)
	}
}

func TestAll_AdmitsInInputOrder(t *testing.T) {
	for _, maxPending := range []int{1, 2, 5} {
		var (
			mu      sync.Mutex
			invoked []int
		)
		// Later tasks settle first, so draining order differs from input order.
		delays := []time.Duration{40, 10, 30, 5, 20, 1}
		factories := make([]Factory[int], len(delays))
		for i, d := range delays {
			next := delayed(d*time.Millisecond, i)
			factories[i] = func() (Awaitable[int], error) {
				mu.Lock()
				invoked = append(invoked, i)
				mu.Unlock()
				return next()
			}
		}

		values, err := All(maxPending, slices.Values(factories))
		require.NoError(t, err, "maxPending=%d", maxPending)
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, values, "maxPending=%d", maxPending)
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, invoked, "maxPending=%d", maxPending)
	}
}

func TestStatus_JSON(t *testing.T) {
	for _, s := range []Status{StatusFulfilled, StatusRejected} {
		data, err := json.Marshal(s)
		require.NoError(t, err)

		var got Status
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, s, got)
	}

	var got Status
	assert.Error(t, json.Unmarshal([]byte(`"maybe"`), &got))
	assert.Error(t, json.Unmarshal([]byte(`1`), &got))
}

func TestAll_NeverExceedsMaxPending(t *testing.T) {
	for _, maxPending := range []int{1, 2, 3, 7} {
		var running, peak atomic.Int32
		factories := make([]Factory[int], 20)
		for i := range factories {
			factories[i] = FromFunc(func() (int, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Duration(i%3+1) * time.Millisecond)
				running.Add(-1)
				return i, nil
			})
		}

		rec := &pendingRecorder{}
		values, err := All(maxPending, slices.Values(factories), WithObserver(rec))
		require.NoError(t, err)
		assert.Len(t, values, 20)
		assert.LessOrEqual(t, int(peak.Load()), maxPending, "running tasks with maxPending=%d", maxPending)
		assert.LessOrEqual(t, rec.maxPending, maxPending, "pending tasks with maxPending=%d", maxPending)
		assert.Equal(t, 20, rec.admitted)
		assert.Equal(t, 20, rec.settled)
	}
}

func TestAll_EmptyInput(t *testing.T) {
	for _, maxPending := range []int{1, 5} {
		values, err := All(maxPending, slices.Values([]Factory[int]{}))
		require.NoError(t, err)
		assert.NotNil(t, values)
		assert.Empty(t, values)

		outcomes, err := AllSettled[int](maxPending, nil)
		require.NoError(t, err)
		assert.NotNil(t, outcomes)
		assert.Empty(t, outcomes)
	}
}

func TestAll_InvalidMaxPending(t *testing.T) {
	for _, maxPending := range []int{0, -1} {
		_, err := All(maxPending, slices.Values([]Factory[int]{}))
		require.Error(t, err)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.ErrorIs(t, err, ErrInvalidMaxPending)

		_, err = AllSettled(maxPending, slices.Values([]Factory[int]{}))
		require.ErrorAs(t, err, &cfgErr)
	}

	_, err := All(0, slices.Values([]Factory[int]{}))
	assert.Contains(t, err.Error(), "0")
}

func TestAll_InvalidMaxPendingInvokesNothing(t *testing.T) {
	var calls atomic.Int32
	factories := []Factory[int]{counting(&calls, delayed(0, 1))}

	_, err := AllSettled(0, slices.Values(factories))
	require.Error(t, err)
	assert.Zero(t, calls.Load())
}

func TestParseMaxPending(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    int
		wantErr bool
	}{
		{name: "one", text: "1", want: 1},
		{name: "padded", text: " 8 ", want: 8},
		{name: "zero", text: "0", wantErr: true},
		{name: "negative", text: "-3", wantErr: true},
		{name: "fraction", text: "2.5", wantErr: true},
		{name: "word", text: "many", wantErr: true},
		{name: "empty", text: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMaxPending(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidMaxPending)
				assert.Contains(t, err.Error(), tt.text)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllAny_NotAFunction(t *testing.T) {
	_, err := AllAny[int](1, slices.Values([]any{42}))
	require.Error(t, err)
	var typeErr *ArgumentTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.ErrorIs(t, err, ErrNotAFunction)
	assert.Contains(t, err.Error(), "42")

	_, err = AllSettledAny[int](1, slices.Values([]any{"nope"}))
	require.ErrorAs(t, err, &typeErr)
	assert.Contains(t, err.Error(), "nope")
}

func TestAll_NilFactory(t *testing.T) {
	_, err := All(2, slices.Values([]Factory[int]{nil}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAFunction)
	assert.Contains(t, err.Error(), "<nil>")
}

func TestAllAny_AcceptedShapes(t *testing.T) {
	elems := []any{
		Factory[string](func() (Awaitable[string], error) { return Resolve("factory"), nil }),
		func() (Awaitable[string], error) { return Resolve("awaitable-error"), nil },
		func() Awaitable[string] { return Resolve("awaitable") },
		func() (string, error) { return "value-error", nil },
		func() string { return "value" },
	}

	values, err := AllAny[string](2, slices.Values(elems))
	require.NoError(t, err)
	assert.Equal(t, []string{"factory", "awaitable-error", "awaitable", "value-error", "value"}, values)
}

func TestAllAny_ValidationIsLazy(t *testing.T) {
	var calls atomic.Int32
	errBoom := errors.New("boom")
	inspected := 0

	elems := func(yield func(any) bool) {
		for _, e := range []any{
			counting(&calls, failing[int](0, errBoom)),
			counting(&calls, delayed(0, 2)),
			42,
		} {
			inspected++
			if !yield(e) {
				return
			}
		}
	}

	_, err := AllAny[int](1, elems)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, int32(1), calls.Load(), "second factory must not be invoked")
	assert.Equal(t, 2, inspected, "elements after the abort must not be pulled")
}

func TestAll_FailFastStopsAdmission(t *testing.T) {
	errFirst := errors.New("first failed")
	errSecond := errors.New("second invoked")
	var secondCalls atomic.Int32

	factories := []Factory[int]{
		failing[int](0, errFirst),
		func() (Awaitable[int], error) {
			secondCalls.Add(1)
			return nil, errSecond
		},
	}

	_, err := All(1, slices.Values(factories))
	require.Error(t, err)
	assert.ErrorIs(t, err, errFirst)
	assert.Zero(t, secondCalls.Load(), "All must not invoke the second factory")

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, 0, taskErr.Index)
	assert.Equal(t, PhaseSettlement, taskErr.Phase)
}

func TestAllSettled_SynchronousFailureAborts(t *testing.T) {
	errFirst := errors.New("first failed")
	errSecond := errors.New("second invoked")
	var secondCalls atomic.Int32

	factories := []Factory[int]{
		failing[int](0, errFirst),
		func() (Awaitable[int], error) {
			secondCalls.Add(1)
			return nil, errSecond
		},
	}

	_, err := AllSettled(1, slices.Values(factories))
	require.Error(t, err)
	assert.ErrorIs(t, err, errSecond)
	assert.Equal(t, int32(1), secondCalls.Load())

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, 1, taskErr.Index)
	assert.Equal(t, PhaseAdmission, taskErr.Phase)
}

func TestAll_ConcurrentRejections(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	var calls atomic.Int32
	release := make(chan struct{})

	factories := []Factory[int]{
		counting(&calls, FromFunc(func() (int, error) { <-release; return 0, errA })),
		counting(&calls, FromFunc(func() (int, error) { <-release; return 0, errB })),
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()

	_, err := All(2, slices.Values(factories))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errA) || errors.Is(err, errB), "unexpected error: %v", err)
	assert.Equal(t, int32(2), calls.Load(), "both factories fit under the cap and must be invoked")
}

func TestAll_SurfacesFirstDrainedRejection(t *testing.T) {
	errSlow := errors.New("slow")
	errFast := errors.New("fast")
	factories := []Factory[int]{
		failing[int](50*time.Millisecond, errSlow),
		failing[int](0, errFast),
	}

	_, err := All(2, slices.Values(factories))
	require.Error(t, err)
	assert.ErrorIs(t, err, errFast)
}

func TestAllSettled_RecordsEveryOutcome(t *testing.T) {
	errBoom := errors.New("boom")
	factories := []Factory[string]{
		failing[string](10*time.Millisecond, errBoom),
		delayed(0, "ok"),
	}

	outcomes, err := AllSettled(2, slices.Values(factories))
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, StatusRejected, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, errBoom)
	assert.False(t, outcomes[0].IsFulfilled())

	assert.Equal(t, StatusFulfilled, outcomes[1].Status)
	assert.Equal(t, "ok", outcomes[1].Value)
	assert.NoError(t, outcomes[1].Err)
}

func TestAll_Deterministic(t *testing.T) {
	build := func() []Factory[int] {
		factories := make([]Factory[int], 10)
		for i := range factories {
			factories[i] = delayed(time.Duration(10-i)*time.Millisecond, i*i)
		}
		return factories
	}

	first, err := All(3, slices.Values(build()))
	require.NoError(t, err)
	second, err := All(3, slices.Values(build()))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	settledFirst, err := AllSettled(4, slices.Values(build()))
	require.NoError(t, err)
	settledSecond, err := AllSettled(4, slices.Values(build()))
	require.NoError(t, err)
	assert.Equal(t, settledFirst, settledSecond)
}

func TestAll_OpenEndedStreamStopsOnRejection(t *testing.T) {
	errStop := errors.New("stop")
	var produced atomic.Int32

	stream := iter.Seq[Factory[int]](func(yield func(Factory[int]) bool) {
		for i := 0; ; i++ {
			produced.Add(1)
			f := delayed(time.Millisecond, i)
			if i == 5 {
				f = failing[int](0, errStop)
			}
			if !yield(f) {
				return
			}
		}
	})

	_, err := All(2, stream)
	require.Error(t, err)
	assert.ErrorIs(t, err, errStop)
	assert.Less(t, produced.Load(), int32(10))
}

func TestAll_FactoryPanic(t *testing.T) {
	factories := []Factory[int]{
		func() (Awaitable[int], error) { panic("kaboom") },
	}

	_, err := AllSettled(1, slices.Values(factories))
	require.Error(t, err)
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

func TestAllSettled_OperationPanic(t *testing.T) {
	factories := []Factory[int]{
		FromFunc(func() (int, error) { panic("kaboom") }),
		delayed(0, 7),
	}

	outcomes, err := AllSettled(2, slices.Values(factories))
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	var panicErr *PanicError
	require.ErrorAs(t, outcomes[0].Err, &panicErr)
	assert.Equal(t, 7, outcomes[1].Value)
}

func TestAll_NilAwaitableResolvesToZero(t *testing.T) {
	factories := []Factory[int]{
		func() (Awaitable[int], error) { return nil, nil },
	}

	values, err := All(1, slices.Values(factories))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, values)
}

func TestAll_AbortReportsDiscardedTasks(t *testing.T) {
	errBoom := errors.New("boom")
	block := make(chan struct{})
	defer close(block)

	factories := []Factory[int]{
		FromFunc(func() (int, error) { <-block; return 1, nil }),
		failing[int](0, errBoom),
	}

	rec := &pendingRecorder{}
	_, err := All(2, slices.Values(factories), WithObserver(rec))
	require.Error(t, err)
	assert.ErrorIs(t, rec.aborted, errBoom)
	assert.Equal(t, 1, rec.discarded)
}

func TestRun_Policies(t *testing.T) {
	errBoom := errors.New("boom")
	factories := []Factory[int]{delayed(0, 1), failing[int](0, errBoom)}

	_, err := Run(2, FailFast, slices.Values(factories))
	assert.ErrorIs(t, err, errBoom)

	outcomes, err := Run(2, CollectAll, slices.Values(factories))
	require.NoError(t, err)
	assert.Equal(t, StatusFulfilled, outcomes[0].Status)
	assert.Equal(t, StatusRejected, outcomes[1].Status)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailFast, p)

	p, err = ParsePolicy("all_settled")
	require.NoError(t, err)
	assert.Equal(t, CollectAll, p)
	assert.Equal(t, "all_settled", p.String())

	_, err = ParsePolicy("race")
	assert.Error(t, err)
}
