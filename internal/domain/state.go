package domain

import "fmt"

var transitions = map[SessionState][]SessionState{
	SessionStateIdle:         {SessionStateConnecting},
	SessionStateConnecting:   {SessionStateActive, SessionStateError, SessionStateDisconnected, SessionStateIdle},
	SessionStateActive:       {SessionStateSilence, SessionStateError, SessionStateDisconnected, SessionStateIdle},
	SessionStateSilence:      {SessionStateActive, SessionStateError, SessionStateDisconnected, SessionStateIdle},
	SessionStateError:        {SessionStateConnecting, SessionStateIdle},
	SessionStateDisconnected: {SessionStateConnecting, SessionStateIdle},
}

// SessionStates lists every state in lifecycle order.
func SessionStates() []SessionState {
	return []SessionState{
		SessionStateIdle,
		SessionStateConnecting,
		SessionStateActive,
		SessionStateSilence,
		SessionStateError,
		SessionStateDisconnected,
	}
}

// CanTransition reports whether from -> to is a defined edge.
func CanTransition(from SessionState, to SessionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition for an undefined edge.
func ValidateTransition(from SessionState, to SessionState) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Live reports whether a session in this state holds a socket.
func (s SessionState) Live() bool {
	switch s {
	case SessionStateConnecting, SessionStateActive, SessionStateSilence:
		return true
	default:
		return false
	}
}
