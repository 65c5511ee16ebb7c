package interaction

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition is returned when a state move is not allowed.
var ErrIllegalTransition = errors.New("illegal state transition")

// Kind distinguishes one-shot reads from subscriptions.
type Kind uint8

const (
	KindRead Kind = iota + 1
	KindSubscribe
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRead:
		return "READ"
	case KindSubscribe:
		return "SUBSCRIBE"
	default:
		return "UNKNOWN"
	}
}

// State is the lifecycle state of a handler.
type State uint8

const (
	// StateIdle is a handler that has not produced its first report.
	StateIdle State = iota

	// StateGenerating is a handler whose report is being built.
	StateGenerating

	// StateAwaitingAck is a handler whose report was handed to the transport.
	StateAwaitingAck

	// StateReportable is a handler waiting for its next report to be due.
	StateReportable

	// StateDone is a read that delivered everything.
	StateDone

	// StateTerminated is a handler that was cancelled or failed.
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateGenerating:
		return "GENERATING"
	case StateAwaitingAck:
		return "AWAITING_ACK"
	case StateReportable:
		return "REPORTABLE"
	case StateDone:
		return "DONE"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateTerminated
}

var transitions = map[State][]State{
	StateIdle:        {StateGenerating, StateTerminated},
	StateGenerating:  {StateAwaitingAck, StateReportable, StateTerminated},
	StateAwaitingAck: {StateReportable, StateDone, StateTerminated},
	StateReportable:  {StateGenerating, StateTerminated},
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the handler to state to. An illegal move leaves the
// state unchanged.
func (h *Handler) Transition(to State) error {
	if !CanTransition(h.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, h.state, to)
	}
	h.state = to
	return nil
}
