package capped

import "fmt"

// Policy decides whether a drained outcome aborts the call.
type Policy int

const (
	// FailFast aborts on the first rejection that is drained. Tasks already
	// admitted keep running and their outcomes are discarded; factories not
	// yet invoked are never invoked.
	FailFast Policy = iota

	// CollectAll records every rejection and never aborts because of one.
	CollectAll
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case FailFast:
		return "all"
	case CollectAll:
		return "all_settled"
	default:
		return "unknown"
	}
}

// inspect returns the error that aborts the call, or nil to continue.
// The surfaced rejection is the first one drained, which need not belong to
// the earliest-created task.
func inspect[T any](p Policy, index int, o Outcome[T]) error {
	if p != FailFast || o.Status != StatusRejected {
		return nil
	}
	return &TaskError{Index: index, Phase: PhaseSettlement, Err: o.Err}
}

// ParsePolicy parses a policy name as written in configuration files.
// The empty string selects FailFast.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "all", "fail_fast":
		return FailFast, nil
	case "all_settled", "allSettled", "collect_all":
		return CollectAll, nil
	default:
		return FailFast, fmt.Errorf("unknown mode %q: expected all or all_settled", name)
	}
}
