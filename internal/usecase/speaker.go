package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowstate/internal/configure"
	"flowstate/internal/domain"
	"flowstate/internal/logging"
	"flowstate/internal/metrics"
	"flowstate/internal/ports"
)

// ErrStartSuperseded is returned by a Start that lost to a later Start or Stop.
var ErrStartSuperseded = errors.New("session start superseded")

const (
	defaultStopGrace     = 4 * time.Second
	defaultLevelInterval = 100 * time.Millisecond
	configureStopTimeout = 3 * time.Second
)

// Status labels shown while no server status text has arrived.
const (
	LabelIdle         = "Ready"
	LabelConnecting   = "Connecting..."
	LabelStreaming    = "Recording and streaming..."
	LabelSilence      = "Waiting for your voice..."
	LabelListening    = "Listening for translations..."
	LabelError        = "Error"
	LabelDisconnected = "Disconnected"
)

// SpeakerConfig holds the defaults a speaker request falls back to.
type SpeakerConfig struct {
	Room             string
	InputLang        string
	TargetLang       string
	StorageMethod    string
	ConfigureEnabled bool
	StopGrace        time.Duration
	LevelInterval    time.Duration
}

// SpeakerRequest parameterizes one speaker session. Empty fields use SpeakerConfig values.
type SpeakerRequest struct {
	Room          string `json:"room"`
	InputLang     string `json:"inputLang"`
	TargetLang    string `json:"targetLang"`
	StorageMethod string `json:"storageMethod"`
}

// SpeakerController runs capture -> socket sessions for the speaker role.
type SpeakerController struct {
	capture    ports.Capture
	dialer     ports.SocketDialer
	configurer ports.Configurer
	events     ports.EventSink
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	cfg        SpeakerConfig
	state      *stateMachine

	mu       sync.Mutex
	gen      uint64
	starting context.CancelFunc
	current  *speakerSession
	room     string
	label    string
}

func NewSpeakerController(
	capture ports.Capture,
	dialer ports.SocketDialer,
	configurer ports.Configurer,
	events ports.EventSink,
	logger *zap.SugaredLogger,
	m *metrics.Metrics,
	cfg SpeakerConfig,
) *SpeakerController {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.LevelInterval <= 0 {
		cfg.LevelInterval = defaultLevelInterval
	}
	if cfg.StorageMethod == "" {
		cfg.StorageMethod = domain.DefaultStorageMethod
	}
	logger = logging.OrNop(logger).With("role", domain.RoleSpeaker)
	return &SpeakerController{
		capture:    capture,
		dialer:     dialer,
		configurer: configurer,
		events:     events,
		logger:     logger,
		metrics:    metrics.OrDiscard(m),
		cfg:        cfg,
		state:      newStateMachine(domain.RoleSpeaker, events, logger),
		label:      LabelIdle,
	}
}

// Start opens a new speaker session, replacing any session already running.
func (c *SpeakerController) Start(ctx context.Context, req SpeakerRequest) error {
	req, err := c.resolve(req)
	if err != nil {
		c.events.SessionError(domain.ErrorCodeInvalidInput, err.Error())
		return err
	}

	startCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.starting != nil {
		c.starting()
	}
	c.starting = cancel
	previous := c.current
	c.current = nil
	c.room = req.Room
	c.mu.Unlock()

	reason := domain.SessionReasonConnecting
	if previous != nil {
		reason = domain.SessionReasonRestarted
		c.teardown(previous, true)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		cancel()
		return ErrStartSuperseded
	}
	c.state.connect(reason)
	c.setLabelLocked(LabelConnecting)
	c.mu.Unlock()

	session, err := c.open(startCtx, req)
	cancel()
	if err != nil {
		return c.failStart(gen, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		go c.release(session)
		return ErrStartSuperseded
	}
	c.starting = nil
	c.current = session
	c.state.transition(domain.SessionStateActive, domain.SessionReasonStreaming)
	c.setLabelLocked(LabelStreaming)

	c.metrics.ActiveSessions.WithLabelValues(string(domain.RoleSpeaker)).Inc()
	go pumpFrames(
		session.capture,
		session.socket,
		c.cfg.LevelInterval,
		c.events.LevelChanged,
		func(activity domain.VoiceActivity) { c.onActivity(session, activity) },
		func(err error) { go c.finish(session, err) },
		session.pumpDone,
	)
	go c.watch(session)

	c.logger.Infow("speaker session started", "session", session.id, "room", session.room, "lang", session.lang)
	return nil
}

// Stop ends the current session gracefully. Stopping an idle controller is a no-op.
func (c *SpeakerController) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.starting != nil {
		c.starting()
		c.starting = nil
	}
	active := c.current
	c.current = nil
	c.mu.Unlock()

	if active != nil {
		c.teardownWithin(ctx, active)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.state.transition(domain.SessionStateIdle, domain.SessionReasonStopped)
		c.setLabelLocked(LabelIdle)
	}
	return nil
}

// Status returns the speaker's current state and label.
func (c *SpeakerController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.state.current()
	status := domain.Status{
		Role:   domain.RoleSpeaker,
		State:  state,
		Active: state.Live(),
		Room:   c.room,
		Label:  c.label,
	}
	if c.current != nil {
		info := c.current.describe(state)
		status.Session = &info
	}
	return status
}

func (c *SpeakerController) resolve(req SpeakerRequest) (SpeakerRequest, error) {
	var err error
	if req.Room, err = domain.NormalizeRoom(firstNonEmpty(req.Room, c.cfg.Room)); err != nil {
		return req, err
	}
	if req.TargetLang, err = domain.NormalizeLanguage(firstNonEmpty(req.TargetLang, c.cfg.TargetLang)); err != nil {
		return req, err
	}
	if req.InputLang, err = optionalLanguage(firstNonEmpty(req.InputLang, c.cfg.InputLang)); err != nil {
		return req, err
	}
	req.StorageMethod = firstNonEmpty(req.StorageMethod, c.cfg.StorageMethod)
	return req, nil
}

// open runs configure, dial, start_translation and capture in that order.
func (c *SpeakerController) open(ctx context.Context, req SpeakerRequest) (*speakerSession, error) {
	session := &speakerSession{
		id:        uuid.NewString(),
		room:      req.Room,
		lang:      req.TargetLang,
		input:     req.InputLang,
		storage:   req.StorageMethod,
		pumpDone:  make(chan struct{}),
		watchDone: make(chan struct{}),
	}

	if c.cfg.ConfigureEnabled && c.configurer != nil {
		err := c.configurer.Configure(ctx, ports.ConfigureRequest{
			Room:          req.Room,
			Action:        configure.ActionStart,
			InputLang:     req.InputLang,
			StorageMethod: req.StorageMethod,
		})
		if err != nil {
			return nil, err
		}
		session.configured = true
	}

	socket, err := c.dialer.Dial(ctx, ports.Endpoint{Role: domain.RoleSpeaker, Room: req.Room})
	if err != nil {
		c.configureStop(session)
		return nil, err
	}
	session.socket = socket

	if err := socket.SendControl(domain.StartControl(req.TargetLang, req.InputLang, req.StorageMethod)); err != nil {
		_ = socket.Close()
		c.configureStop(session)
		return nil, err
	}

	captureCtx, cancel := context.WithCancel(context.Background())
	capture, err := c.capture.Start(captureCtx)
	if err != nil {
		cancel()
		_ = socket.Close()
		c.configureStop(session)
		return nil, err
	}
	session.cancel = cancel
	session.capture = capture
	return session, nil
}

func (c *SpeakerController) failStart(gen uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return ErrStartSuperseded
	}
	c.starting = nil
	if c.state.transition(domain.SessionStateError, domain.FailureReason(err)) {
		c.setLabelLocked(LabelError)
	}
	c.reportError(err)
	return err
}

func (c *SpeakerController) onActivity(session *speakerSession, activity domain.VoiceActivity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != session {
		return
	}
	switch activity {
	case domain.VoiceActivitySilence:
		if c.state.transition(domain.SessionStateSilence, domain.SessionReasonSilenceDetected) {
			c.setLabelLocked(LabelSilence)
		}
	case domain.VoiceActivityVoice:
		if c.state.transition(domain.SessionStateActive, domain.SessionReasonVoiceResumed) {
			c.setLabelLocked(LabelStreaming)
		}
	}
}

// watch relays server status text and detects the socket going away.
func (c *SpeakerController) watch(session *speakerSession) {
	defer close(session.watchDone)

	for event := range session.socket.Events() {
		if event.HasStatus() {
			c.mu.Lock()
			if c.current == session {
				c.setLabelLocked(event.Status)
			}
			c.mu.Unlock()
		}
	}

	if session.stopping.Load() {
		return
	}
	err := session.socket.Wait()
	go c.finish(session, err)
}

// finish tears down a session that ended without a local Stop.
func (c *SpeakerController) finish(session *speakerSession, err error) {
	c.mu.Lock()
	if c.current != session {
		c.mu.Unlock()
		return
	}
	c.current = nil
	gen := c.gen
	c.mu.Unlock()

	c.teardown(session, false)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if err == nil {
		c.logger.Infow("speaker session closed by server", "session", session.id)
		if c.state.transition(domain.SessionStateDisconnected, domain.SessionReasonRemoteClosed) {
			c.setLabelLocked(LabelDisconnected)
		}
		return
	}
	c.logger.Warnw("speaker session failed", "session", session.id, "error", err)
	if c.state.transition(domain.SessionStateError, domain.FailureReason(err)) {
		c.setLabelLocked(LabelError)
	}
	c.reportError(err)
}

func (c *SpeakerController) teardownWithin(ctx context.Context, session *speakerSession) {
	done := make(chan struct{})
	go func() {
		c.teardown(session, true)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		_ = session.socket.Close()
		<-done
	}
}

// teardown releases capture, socket and configure registration. graceful flushes queued audio
// and sends stop_translation before closing.
func (c *SpeakerController) teardown(session *speakerSession, graceful bool) {
	session.teardownOnce.Do(func() {
		session.stopping.Store(true)
		if !graceful {
			_ = session.socket.Close()
		}

		if err := session.capture.Stop(); err != nil {
			c.logger.Warnw("audio capture did not stop cleanly", "session", session.id, "error", err)
			c.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
		}
		session.cancel()
		<-session.pumpDone

		if graceful {
			if err := session.socket.SendControl(domain.StopControl()); err != nil {
				c.logger.Debugw("stop_translation not delivered", "session", session.id, "error", err)
			}
			_ = session.socket.CloseSend()
			if err := waitForSocket(session.socket, c.cfg.StopGrace); err != nil {
				c.logger.Debugw("socket closed with error during stop", "session", session.id, "error", err)
			}
		}
		_ = session.socket.Close()
		<-session.watchDone

		c.configureStop(session)
		c.metrics.ActiveSessions.WithLabelValues(string(domain.RoleSpeaker)).Dec()
		c.logger.Infow("speaker session stopped", "session", session.id, "dropped_frames", session.capture.Dropped())
	})
}

// release frees a session whose goroutines were never started.
func (c *SpeakerController) release(session *speakerSession) {
	session.stopping.Store(true)
	_ = session.socket.Close()
	_ = session.capture.Stop()
	session.cancel()
	c.configureStop(session)
}

// configureStop is best effort; failures are logged only.
func (c *SpeakerController) configureStop(session *speakerSession) {
	if !session.configured || c.configurer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), configureStopTimeout)
	defer cancel()
	err := c.configurer.Configure(ctx, ports.ConfigureRequest{
		Room:          session.room,
		Action:        configure.ActionStop,
		InputLang:     session.input,
		StorageMethod: session.storage,
	})
	if err != nil {
		c.logger.Warnw("configure stop failed", "session", session.id, "error", err)
	}
}

func (c *SpeakerController) reportError(err error) {
	code := domain.ErrorCodeFor(err)
	c.metrics.SessionErrors.WithLabelValues(string(code)).Inc()
	c.events.SessionError(code, err.Error())
}

func (c *SpeakerController) setLabelLocked(label string) {
	if label == "" || label == c.label {
		return
	}
	c.label = label
	c.events.StatusChanged(domain.RoleSpeaker, label)
}

// optionalLanguage normalizes code, allowing it to be empty.
func optionalLanguage(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", nil
	}
	return domain.NormalizeLanguage(code)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
