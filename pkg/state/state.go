// Package state defines the job lifecycle states and the legal transitions
// between them.
//
// A job moves through exactly one forward path: Planned -> Active ->
// Completed. State values double as the names of the storage locations
// backing each state, so they are part of the stable on-disk contract.
package state

// State is the lifecycle state of a job.
type State string

const (
	// Planned jobs have been discovered but not yet dispatched.
	Planned State = "planned"

	// Active jobs are currently being consumed.
	Active State = "active"

	// Completed jobs have finished, successfully or not.
	Completed State = "completed"
)

// All lists every state in lifecycle order.
var All = []State{Planned, Active, Completed}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case Planned, Active, Completed:
		return true
	}
	return false
}

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	return s == Completed
}

// validTransitions defines the allowed forward transitions.
var validTransitions = map[State][]State{
	Planned: {Active},
	Active:  {Completed},
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition. Crash recovery moves Active jobs back to Planned outside this
// check; see the adapter's ForceState.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
