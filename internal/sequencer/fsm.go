// Package sequencer drives the three-pose registration as an explicit state
// machine: each pose waits for its timer, captures, then advances or fails.
package sequencer

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/facegate/internal/landmark"
)

// State is a registration state.
type State int

const (
	AwaitingFront State = iota
	AwaitingLeft
	AwaitingRight
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingFront:
		return "awaiting_front"
	case AwaitingLeft:
		return "awaiting_left"
	case AwaitingRight:
		return "awaiting_right"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == Complete || s == Failed }

// Pose returns the view captured in an awaiting state.
func (s State) Pose() (landmark.Pose, bool) {
	switch s {
	case AwaitingFront:
		return landmark.Front, true
	case AwaitingLeft:
		return landmark.Left, true
	case AwaitingRight:
		return landmark.Right, true
	}
	return "", false
}

// Trigger is an input to the machine.
type Trigger int

const (
	TimerElapsed Trigger = iota
	DetectionSucceeded
	DetectionFailed
	Cancelled
)

func (t Trigger) String() string {
	switch t {
	case TimerElapsed:
		return "timer_elapsed"
	case DetectionSucceeded:
		return "detection_succeeded"
	case DetectionFailed:
		return "detection_failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("trigger(%d)", int(t))
}

var ErrInvalidTransition = errors.New("invalid registration transition")

// transitions is keyed by (state, trigger). Detection triggers are only
// accepted once the stage timer has elapsed; Machine.Fire enforces that.
var transitions = map[State]map[Trigger]State{
	AwaitingFront: {
		TimerElapsed:       AwaitingFront,
		DetectionSucceeded: AwaitingLeft,
		DetectionFailed:    Failed,
		Cancelled:          Failed,
	},
	AwaitingLeft: {
		TimerElapsed:       AwaitingLeft,
		DetectionSucceeded: AwaitingRight,
		DetectionFailed:    Failed,
		Cancelled:          Failed,
	},
	AwaitingRight: {
		TimerElapsed:       AwaitingRight,
		DetectionSucceeded: Complete,
		DetectionFailed:    Failed,
		Cancelled:          Failed,
	},
}

// Machine is the bare transition logic, with no timers or I/O.
type Machine struct {
	state State
	due   bool // stage timer elapsed, capture outcome pending
}

// NewMachine starts in AwaitingFront.
func NewMachine() *Machine {
	return &Machine{state: AwaitingFront}
}

func (m *Machine) State() State { return m.state }

// CaptureDue reports whether the current stage's timer has fired.
func (m *Machine) CaptureDue() bool { return m.due }

// Fire applies t. On an invalid pair the state is left unchanged.
func (m *Machine) Fire(t Trigger) (State, error) {
	next, ok := transitions[m.state][t]
	if !ok {
		return m.state, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, t, m.state)
	}

	switch t {
	case TimerElapsed:
		if m.due {
			return m.state, fmt.Errorf("%w: %s on %s (capture already due)", ErrInvalidTransition, t, m.state)
		}
		m.due = true
	case DetectionSucceeded, DetectionFailed:
		if !m.due {
			return m.state, fmt.Errorf("%w: %s on %s before timer", ErrInvalidTransition, t, m.state)
		}
		m.due = false
	case Cancelled:
		m.due = false
	}

	m.state = next
	return next, nil
}
