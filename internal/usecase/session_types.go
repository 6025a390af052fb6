package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"flowstate/internal/domain"
	"flowstate/internal/ports"
)

type speakerSession struct {
	id      string
	room    string
	lang    string
	input   string
	storage string

	cancel  context.CancelFunc
	capture ports.CaptureSession
	socket  ports.Socket

	configured bool
	stopping   atomic.Bool

	pumpDone  chan struct{}
	watchDone chan struct{}

	teardownOnce sync.Once
}

func (s *speakerSession) describe(state domain.SessionState) domain.Session {
	return domain.Session{
		ID:            s.id,
		Role:          domain.RoleSpeaker,
		Room:          s.room,
		TargetLang:    s.lang,
		InputLang:     s.input,
		StorageMethod: s.storage,
		State:         state,
	}
}

type listenerSession struct {
	id     string
	room   string
	lang   string
	socket ports.Socket

	stopping  atomic.Bool
	watchDone chan struct{}

	teardownOnce sync.Once
}

func (s *listenerSession) describe(state domain.SessionState, audioEnabled bool) domain.Session {
	return domain.Session{
		ID:           s.id,
		Role:         domain.RoleListener,
		Room:         s.room,
		TargetLang:   s.lang,
		State:        state,
		AudioEnabled: audioEnabled,
	}
}
