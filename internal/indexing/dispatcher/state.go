package dispatcher

import (
	"errors"
	"slices"
	"time"
)

// State is a dispatcher lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateDraining   State = "draining"
	StateFailed     State = "failed"
	StateTerminated State = "terminated"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
var ValidTransitions = map[State][]State{
	StateIdle:     {StateRunning},
	StateRunning:  {StateDraining, StateFailed},
	StateDraining: {StateTerminated},
	StateFailed:   {StateTerminated},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}
