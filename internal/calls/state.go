package calls

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a call leg.
type State string

const (
	StateInitiated State = "initiated"
	StateRinging   State = "ringing"
	StateConnected State = "connected"
	StateCompleted State = "completed"
	StateNoAnswer  State = "no_answer"
	StateBusy      State = "busy"
	StateFailed    State = "failed"
)

var (
	ErrUnknownLeg        = errors.New("calls: unknown leg")
	ErrIllegalTransition = errors.New("calls: illegal transition")
	ErrInvalidState      = errors.New("calls: invalid state")
	ErrNotFound          = errors.New("calls: not found")
)

func (s State) Valid() bool {
	switch s {
	case StateInitiated, StateRinging, StateConnected, StateCompleted, StateNoAnswer, StateBusy, StateFailed:
		return true
	default:
		return false
	}
}

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateNoAnswer, StateBusy, StateFailed:
		return true
	default:
		return false
	}
}

// Open reports whether a leg in this state may still be answered.
func (s State) Open() bool {
	return s == StateInitiated || s == StateRinging
}

// rank orders states along the lifecycle. Reports with a lower rank than the
// current state are stale.
func (s State) rank() int {
	switch s {
	case StateInitiated:
		return 0
	case StateRinging:
		return 1
	case StateConnected:
		return 2
	default:
		return 3
	}
}

var allowed = map[State]map[State]bool{
	// completed from an open state means the connected report is late or lost;
	// the leg ends without side effects and a later connected is stale.
	StateInitiated: {
		StateRinging:   true,
		StateConnected: true,
		StateCompleted: true,
		StateNoAnswer:  true,
		StateBusy:      true,
		StateFailed:    true,
	},
	StateRinging: {
		StateConnected: true,
		StateCompleted: true,
		StateNoAnswer:  true,
		StateBusy:      true,
		StateFailed:    true,
	},
	StateConnected: {
		StateCompleted: true,
		StateFailed:    true,
	},
}

// Transition describes the effect of applying one reported state to a leg.
type Transition struct {
	From State `json:"from"`
	To   State `json:"to"`

	// Applied is false for duplicate, stale and post-terminal reports.
	Applied bool `json:"applied"`
	// SideEffects is true only for the transition into connected.
	SideEffects bool `json:"side_effects"`
}

// Duplicate reports whether the event repeated the current state.
func (t Transition) Duplicate() bool { return !t.Applied && t.From == t.To }

// Advance applies a reported state to l.
//
// Duplicate reports, reports of an earlier state and any report against a
// terminal leg are no-ops (Applied=false, nil error). A report the provider
// never produces, such as busy after connected, returns ErrIllegalTransition
// and leaves l untouched.
func Advance(l *Leg, reported State, at time.Time) (Transition, error) {
	if l == nil {
		return Transition{}, ErrUnknownLeg
	}
	if !reported.Valid() {
		return Transition{}, fmt.Errorf("%w: %q", ErrInvalidState, reported)
	}

	t := Transition{From: l.State, To: l.State}
	if l.State.Terminal() || reported == l.State || reported.rank() < l.State.rank() {
		return t, nil
	}
	if !allowed[l.State][reported] {
		return t, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, l.State, reported)
	}

	l.State = reported
	l.LastEventAt = at
	if reported == StateConnected {
		at := at
		l.ConnectedAt = &at
		t.SideEffects = true
	}
	if reported.Terminal() {
		at := at
		l.EndedAt = &at
	}
	t.To = reported
	t.Applied = true
	return t, nil
}
