// Package lifecycle implements the run-status state machine shared by every
// entity the analysis pipeline operates on.
//
//	unset -> pending -> running -> completed
//	                           \-> failed -> pending (re-run)
//
// Status changes are compare-and-swap updates on the persisted column, so two
// dispatchers racing on the same row cannot both win.
package lifecycle

import (
	"errors"
	"fmt"
)

// Status is the value stored in a run-status column.
type Status string

const (
	Unset     Status = ""
	Pending   Status = "pending"
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
)

// ErrInvalidTransition is returned when a transition is not allowed from the
// current state, or when the row was concurrently moved out of the expected state.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	Unset:     {Pending},
	Pending:   {Running, Failed},
	Running:   {Completed, Failed},
	Failed:    {Pending, Unset},
	Completed: {Unset},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate returns ErrInvalidTransition when from -> to is not in the table.
func Validate(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	return nil
}

// CanStart reports whether a new run may be started from this status.
func (s Status) CanStart() bool {
	return s == Unset || s == Failed
}

// InFlight reports whether a run is queued or executing.
func (s Status) InFlight() bool {
	return s == Pending || s == Running
}

// Label is the display form; unset renders as "not_started".
func (s Status) Label() string {
	if s == Unset {
		return "not_started"
	}
	return string(s)
}

// sourcesOf lists every status that may transition into target.
func sourcesOf(target Status) []Status {
	var out []Status
	for _, from := range []Status{Unset, Pending, Running, Completed, Failed} {
		if CanTransition(from, target) {
			out = append(out, from)
		}
	}
	return out
}
