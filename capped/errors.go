package capped

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMaxPending matches every *ConfigurationError via errors.Is.
	ErrInvalidMaxPending = errors.New("capped: invalid maxPending")

	// ErrNotAFunction matches every *ArgumentTypeError via errors.Is.
	ErrNotAFunction = errors.New("capped: element is not a function")
)

// ConfigurationError is returned when the concurrency cap is not an integer >= 1.
type ConfigurationError struct {
	// Value is the rejected cap, as supplied.
	Value any
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("maxPending is invalid: %v", e.Value)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidMaxPending
}

// ArgumentTypeError is returned when an element of the task sequence cannot be
// invoked as a task factory.
type ArgumentTypeError struct {
	// Value is the offending element.
	Value any
}

func (e *ArgumentTypeError) Error() string {
	return fmt.Sprintf("createAwaitable is not a function: %v", e.Value)
}

func (e *ArgumentTypeError) Is(target error) bool {
	return target == ErrNotAFunction
}

// Phase identifies where a task failed.
type Phase int

const (
	// PhaseAdmission is a factory failing (error or panic) when invoked.
	PhaseAdmission Phase = iota
	// PhaseSettlement is an admitted operation settling with an error.
	PhaseSettlement
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseAdmission:
		return "admission"
	case PhaseSettlement:
		return "settlement"
	default:
		return "unknown"
	}
}

// TaskError reports the task failure that aborted a call.
// It unwraps to the error produced by the task.
type TaskError struct {
	Index int
	Phase Phase
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d failed during %s: %v", e.Index, e.Phase, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// PanicError carries a panic recovered from a factory or an awaitable.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("capped: panic recovered: %v", e.Value)
}

// Unwrap returns the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
