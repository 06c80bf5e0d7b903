// Package job implements the Job record, its state machine, and the
// JobRepository that reads and writes job directories through
// internal/stateio and internal/barndir.
package job

import "github.com/samson-media/barn/internal/barnerr"

// State is one of the six lifecycle states a job can be in.
type State string

const (
	Queued    State = "queued"
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
	Canceled  State = "canceled"
	Killed    State = "killed"
)

// valid reports whether s is one of the six known states.
func (s State) valid() bool {
	switch s {
	case Queued, Running, Succeeded, Failed, Canceled, Killed:
		return true
	}
	return false
}

// Terminal reports whether s has no outgoing transitions except the
// FAILED -> QUEUED retry re-queue, which only RetryController performs
// (via JobRepository.IncrementRetry, still checked against the table).
func (s State) Terminal() bool {
	switch s {
	case Succeeded, Canceled, Killed, Failed:
		return true
	}
	return false
}

// transitions enumerates every edge the state machine allows. Any pair
// not present here is rejected.
var transitions = map[State]map[State]bool{
	Queued: {
		Running:  true,
		Canceled: true,
	},
	Running: {
		Succeeded: true,
		Failed:    true,
		Canceled:  true,
		Killed:    true,
	},
	Failed: {
		Queued: true, // retry re-queue, only performed by RetryController
	},
}

// CheckTransition reports whether moving from -> to is legal, returning
// an InvalidStateTransition error if not.
func CheckTransition(from, to State) error {
	if !from.valid() {
		return barnerr.Corrupted("state %q is not a recognized job state", from)
	}
	if !to.valid() {
		return barnerr.InvalidArgument("state %q is not a recognized job state", to)
	}
	if transitions[from][to] {
		return nil
	}
	return barnerr.InvalidStateTransition("cannot transition from %s to %s", from, to)
}
