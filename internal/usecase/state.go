package usecase

import (
	"sync"

	"go.uber.org/zap"

	"flowstate/internal/domain"
	"flowstate/internal/ports"
)

// stateMachine guards a session's externally visible state with domain.CanTransition.
type stateMachine struct {
	role   domain.Role
	events ports.EventSink
	logger *zap.SugaredLogger

	mu    sync.Mutex
	state domain.SessionState
}

func newStateMachine(role domain.Role, events ports.EventSink, logger *zap.SugaredLogger) *stateMachine {
	return &stateMachine{
		role:   role,
		events: events,
		logger: logger,
		state:  domain.SessionStateIdle,
	}
}

// transition moves to next and notifies the sink. Same-state and undefined edges are ignored.
func (m *stateMachine) transition(next domain.SessionState, reason domain.SessionStateReason) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == next {
		return false
	}
	if err := domain.ValidateTransition(m.state, next); err != nil {
		m.logger.Debugw("ignoring state change", "role", m.role, "reason", reason, "error", err)
		return false
	}
	m.state = next
	m.events.SessionStateChanged(m.role, next, reason)
	return true
}

// connect moves to Connecting, passing through Idle when the current state has no direct edge.
func (m *stateMachine) connect(reason domain.SessionStateReason) {
	m.mu.Lock()
	from := m.state
	m.mu.Unlock()

	if from != domain.SessionStateConnecting && !domain.CanTransition(from, domain.SessionStateConnecting) {
		m.transition(domain.SessionStateIdle, domain.SessionReasonStopped)
	}
	m.transition(domain.SessionStateConnecting, reason)
}

func (m *stateMachine) current() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
