package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalTransition indicates a receiver state change that is not allowed.
	ErrIllegalTransition = errors.New("transfer: illegal state transition")
)

// State is the receiver-side transfer state.
type State int

const (
	StateIdle State = iota
	StateOfferPending
	StateStreaming
	StateRejected
)

var legalTransitions = map[State][]State{
	StateIdle:         {StateOfferPending},
	StateOfferPending: {StateStreaming, StateRejected, StateIdle},
	StateStreaming:    {StateIdle},
	StateRejected:     {StateIdle},
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferPending:
		return "offer_pending"
	case StateStreaming:
		return "streaming"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, candidate := range legalTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Transition returns next when the move is legal, otherwise s and ErrIllegalTransition.
func (s State) Transition(next State) (State, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
	}
	return next, nil
}
