package capped

import (
	"encoding/json"
	"fmt"
)

// Status tags how a task settled.
type Status int

const (
	// StatusFulfilled indicates the task produced a value.
	StatusFulfilled Status = iota
	// StatusRejected indicates the task failed; see Outcome.Err.
	StatusRejected
)

// String returns the status name used in logs, metrics labels and JSON.
func (s Status) String() string {
	switch s {
	case StatusFulfilled:
		return "fulfilled"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "fulfilled":
		*s = StatusFulfilled
	case "rejected":
		*s = StatusRejected
	default:
		return fmt.Errorf("unknown status %q", name)
	}
	return nil
}

// Outcome is the settlement of a single task.
//
// Exactly one of Value and Err is meaningful, depending on Status.
type Outcome[T any] struct {
	Status Status
	Value  T
	Err    error
}

// Fulfilled returns a fulfilled outcome holding v.
func Fulfilled[T any](v T) Outcome[T] {
	return Outcome[T]{Status: StatusFulfilled, Value: v}
}

// Rejected returns a rejected outcome holding err.
func Rejected[T any](err error) Outcome[T] {
	return Outcome[T]{Status: StatusRejected, Err: err}
}

// IsFulfilled reports whether the task produced a value.
func (o Outcome[T]) IsFulfilled() bool {
	return o.Status == StatusFulfilled
}

// String formats the outcome for diagnostics.
func (o Outcome[T]) String() string {
	if o.Status == StatusRejected {
		return fmt.Sprintf("rejected(%v)", o.Err)
	}
	return fmt.Sprintf("fulfilled(%v)", o.Value)
}
