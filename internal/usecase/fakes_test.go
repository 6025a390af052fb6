package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"flowstate/internal/domain"
	"flowstate/internal/ports"
)

var errSocketClosed = errors.New("socket closed")

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeCapture struct {
	mu       sync.Mutex
	sessions []*fakeCaptureSession
	err      error
	starts   int
}

func (f *fakeCapture) Start(_ context.Context) (ports.CaptureSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.sessions) == 0 {
		return newFakeCaptureSession(), nil
	}
	next := f.sessions[0]
	f.sessions = f.sessions[1:]
	return next, nil
}

type fakeCaptureSession struct {
	frames   chan domain.AudioFrame
	activity chan domain.VoiceActivity

	mu        sync.Mutex
	stopCalls int
	stopOnce  sync.Once
}

func newFakeCaptureSession(pcm ...string) *fakeCaptureSession {
	s := &fakeCaptureSession{
		frames:   make(chan domain.AudioFrame, 16),
		activity: make(chan domain.VoiceActivity, 1),
	}
	for i, chunk := range pcm {
		s.frames <- domain.AudioFrame{Seq: uint64(i + 1), PCM: []byte(chunk), Level: 0.5}
	}
	return s
}

func (s *fakeCaptureSession) Frames() <-chan domain.AudioFrame      { return s.frames }
func (s *fakeCaptureSession) Activity() <-chan domain.VoiceActivity { return s.activity }
func (s *fakeCaptureSession) Dropped() uint64                       { return 0 }

func (s *fakeCaptureSession) Stop() error {
	s.mu.Lock()
	s.stopCalls++
	s.mu.Unlock()
	s.stopOnce.Do(func() {
		close(s.frames)
		close(s.activity)
	})
	return nil
}

func (s *fakeCaptureSession) stopped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

type fakeSocket struct {
	events chan domain.InboundEvent
	done   chan struct{}

	// closeOnCloseSend mimics a server that answers a close frame right away.
	closeOnCloseSend bool

	mu         sync.Mutex
	log        []string
	closed     bool
	closeCalls int
	waitErr    error
	finishOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		events:           make(chan domain.InboundEvent, 16),
		done:             make(chan struct{}),
		closeOnCloseSend: true,
	}
}

func (s *fakeSocket) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSocketClosed
	}
	s.log = append(s.log, "audio:"+string(pcm))
	return nil
}

func (s *fakeSocket) SendControl(msg domain.ControlMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSocketClosed
	}
	entry := "control:" + string(msg.Command)
	if msg.Audio != nil {
		entry += fmt.Sprintf(":%t", *msg.Audio)
	}
	if msg.Lang != "" {
		entry += ":" + msg.Lang
	}
	s.log = append(s.log, entry)
	return nil
}

func (s *fakeSocket) Events() <-chan domain.InboundEvent { return s.events }
func (s *fakeSocket) Done() <-chan struct{}              { return s.done }

func (s *fakeSocket) CloseSend() error {
	s.mu.Lock()
	s.log = append(s.log, "close_send")
	s.closed = true
	auto := s.closeOnCloseSend
	s.mu.Unlock()
	if auto {
		s.finish(nil)
	}
	return nil
}

func (s *fakeSocket) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.closeCalls++
	s.mu.Unlock()
	s.finish(nil)
	return nil
}

// finish simulates the connection ending with err.
func (s *fakeSocket) finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.waitErr = err
		s.mu.Unlock()
		close(s.events)
		close(s.done)
	})
}

func (s *fakeSocket) snapshotLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDialer struct {
	mu        sync.Mutex
	sockets   []*fakeSocket
	err       error
	block     chan struct{}
	endpoints []ports.Endpoint
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint ports.Endpoint) (ports.Socket, error) {
	d.mu.Lock()
	d.endpoints = append(d.endpoints, endpoint)
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", domain.ErrConnection, ctx.Err())
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	if len(d.sockets) == 0 {
		return newFakeSocket(), nil
	}
	next := d.sockets[0]
	d.sockets = d.sockets[1:]
	return next, nil
}

func (d *fakeDialer) snapshotEndpoints() []ports.Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ports.Endpoint(nil), d.endpoints...)
}

type fakeConfigurer struct {
	mu       sync.Mutex
	requests []ports.ConfigureRequest
	err      error
}

func (f *fakeConfigurer) Configure(_ context.Context, req ports.ConfigureRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if req.Action == "start" {
		return f.err
	}
	return nil
}

func (f *fakeConfigurer) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, req := range f.requests {
		out = append(out, req.Action)
	}
	return out
}

type fakeEventSink struct {
	mu sync.Mutex

	states       []stateEvent
	labels       []string
	levels       []float64
	translations []domain.TranslationEntry
	errors       []errEvent
}

type stateEvent struct {
	role   domain.Role
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(role domain.Role, state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{role: role, state: state, reason: reason})
}

func (f *fakeEventSink) StatusChanged(_ domain.Role, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, label)
}

func (f *fakeEventSink) LevelChanged(level float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels = append(f.levels, level)
}

func (f *fakeEventSink) TranslationReceived(entry domain.TranslationEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.translations = append(f.translations, entry)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stateEvent(nil), f.states...)
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]errEvent(nil), f.errors...)
}

func (f *fakeEventSink) snapshotLabels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.labels...)
}

func (f *fakeEventSink) lastState() domain.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return domain.SessionStateIdle
	}
	return f.states[len(f.states)-1].state
}

func stateSequence(events []stateEvent) []domain.SessionState {
	out := make([]domain.SessionState, 0, len(events))
	for _, event := range events {
		out = append(out, event.state)
	}
	return out
}

func equalStates(got []domain.SessionState, want ...domain.SessionState) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
