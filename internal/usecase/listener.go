package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowstate/internal/domain"
	"flowstate/internal/logging"
	"flowstate/internal/metrics"
	"flowstate/internal/playback"
	"flowstate/internal/ports"
)

// ListenerConfig holds listener defaults.
type ListenerConfig struct {
	Room       string
	TargetLang string
	StopGrace  time.Duration
}

// ListenerRequest parameterizes one listener session. Empty fields use ListenerConfig values.
type ListenerRequest struct {
	Room       string `json:"room"`
	TargetLang string `json:"targetLang"`
}

// ListenerController receives translations for one room and feeds history and playback.
type ListenerController struct {
	dialer  ports.SocketDialer
	queue   *playback.Queue
	history *playback.History
	events  ports.EventSink
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	cfg     ListenerConfig
	state   *stateMachine
	now     func() time.Time

	mu       sync.Mutex
	gen      uint64
	starting context.CancelFunc
	current  *listenerSession
	room     string
	label    string
}

func NewListenerController(
	dialer ports.SocketDialer,
	queue *playback.Queue,
	history *playback.History,
	events ports.EventSink,
	logger *zap.SugaredLogger,
	m *metrics.Metrics,
	cfg ListenerConfig,
) *ListenerController {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if history == nil {
		history = playback.NewHistory(playback.DefaultHistorySize)
	}
	logger = logging.OrNop(logger).With("role", domain.RoleListener)
	return &ListenerController{
		dialer:  dialer,
		queue:   queue,
		history: history,
		events:  events,
		logger:  logger,
		metrics: metrics.OrDiscard(m),
		cfg:     cfg,
		state:   newStateMachine(domain.RoleListener, events, logger),
		now:     time.Now,
		label:   LabelIdle,
	}
}

// Start joins a room for the requested language. If the same room and language are already
// open, the start command is re-sent and history cleared instead of reconnecting.
func (c *ListenerController) Start(ctx context.Context, req ListenerRequest) error {
	req, err := c.resolve(req)
	if err != nil {
		c.events.SessionError(domain.ErrorCodeInvalidInput, err.Error())
		return err
	}

	c.mu.Lock()
	if active := c.current; active != nil && active.room == req.Room && active.lang == req.TargetLang {
		c.mu.Unlock()
		c.history.Clear()
		if err := active.socket.SendControl(domain.StartControl(req.TargetLang, "", "")); err != nil {
			c.logger.Warnw("failed to resend start_translation", "session", active.id, "error", err)
			return err
		}
		c.logger.Infow("listener restarted on open socket", "session", active.id)
		return nil
	}

	startCtx, cancel := context.WithCancel(ctx)
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
	c.queue.Clear()
	c.history.Clear()

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
		_ = session.socket.Close()
		return ErrStartSuperseded
	}
	c.starting = nil
	c.current = session
	c.state.transition(domain.SessionStateActive, domain.SessionReasonListening)
	c.setLabelLocked(LabelListening)
	c.metrics.ActiveSessions.WithLabelValues(string(domain.RoleListener)).Inc()
	go c.watch(session)

	c.logger.Infow("listener session started", "session", session.id, "room", session.room, "lang", session.lang)
	return nil
}

// Stop leaves the room and discards pending playback. Stopping an idle controller is a no-op.
func (c *ListenerController) Stop(ctx context.Context) error {
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
		done := make(chan struct{})
		go func() {
			c.teardown(active, true)
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			_ = active.socket.Close()
			<-done
		}
	}
	c.queue.Clear()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.state.transition(domain.SessionStateIdle, domain.SessionReasonStopped)
		c.setLabelLocked(LabelIdle)
	}
	return nil
}

// SetAudioEnabled mutes or unmutes playback and tells the server when a session is open.
func (c *ListenerController) SetAudioEnabled(enabled bool) error {
	c.queue.SetAudioEnabled(enabled)

	c.mu.Lock()
	active := c.current
	c.mu.Unlock()
	if active == nil {
		return nil
	}
	if err := active.socket.SendControl(domain.ToggleAudioControl(enabled)); err != nil {
		c.logger.Warnw("failed to send toggle_audio", "session", active.id, "error", err)
		return err
	}
	return nil
}

// History returns translation entries, newest first.
func (c *ListenerController) History() []domain.TranslationEntry {
	return c.history.Entries()
}

// Status returns the listener's current state and label.
func (c *ListenerController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.state.current()
	status := domain.Status{
		Role:         domain.RoleListener,
		State:        state,
		Active:       state.Live(),
		Room:         c.room,
		Label:        c.label,
		AudioEnabled: c.queue.AudioEnabled(),
	}
	if c.current != nil {
		info := c.current.describe(state, status.AudioEnabled)
		status.Session = &info
	}
	return status
}

// HistoryTexts returns translation texts, newest first.
func (c *ListenerController) HistoryTexts() []string {
	return c.history.Texts()
}

// Close stops the session and shuts the playback queue down.
func (c *ListenerController) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	c.queue.Close()
	return err
}

func (c *ListenerController) resolve(req ListenerRequest) (ListenerRequest, error) {
	var err error
	if room := firstNonEmpty(req.Room, c.cfg.Room); room != "" {
		if req.Room, err = domain.NormalizeRoom(room); err != nil {
			return req, err
		}
	}
	if req.TargetLang, err = domain.NormalizeLanguage(firstNonEmpty(req.TargetLang, c.cfg.TargetLang)); err != nil {
		return req, err
	}
	return req, nil
}

func (c *ListenerController) open(ctx context.Context, req ListenerRequest) (*listenerSession, error) {
	socket, err := c.dialer.Dial(ctx, ports.Endpoint{Role: domain.RoleListener, Room: req.Room, Lang: req.TargetLang})
	if err != nil {
		return nil, err
	}
	if err := socket.SendControl(domain.StartControl(req.TargetLang, "", "")); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if !c.queue.AudioEnabled() {
		if err := socket.SendControl(domain.ToggleAudioControl(false)); err != nil {
			_ = socket.Close()
			return nil, err
		}
	}
	return &listenerSession{
		id:        uuid.NewString(),
		room:      req.Room,
		lang:      req.TargetLang,
		socket:    socket,
		watchDone: make(chan struct{}),
	}, nil
}

func (c *ListenerController) failStart(gen uint64, err error) error {
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

func (c *ListenerController) watch(session *listenerSession) {
	defer close(session.watchDone)

	for event := range session.socket.Events() {
		c.handleEvent(session, event)
	}

	if session.stopping.Load() {
		return
	}
	err := session.socket.Wait()
	go c.finish(session, err)
}

// handleEvent applies one server message: status to the label, text to history and audio to the queue.
// Events arriving after the session was stopped or replaced are dropped.
func (c *ListenerController) handleEvent(session *listenerSession, event domain.InboundEvent) {
	c.mu.Lock()
	live := c.current == session && !session.stopping.Load()
	if live && event.HasStatus() {
		c.setLabelLocked(event.Status)
	}
	c.mu.Unlock()
	if !live {
		return
	}
	if event.HasText() {
		if entry, ok := c.history.Push(event.Text, c.now()); ok {
			c.events.TranslationReceived(entry)
		}
	}
	if event.HasAudio() {
		c.queue.Enqueue(domain.PlaybackItem{
			Text:     event.Text,
			Audio:    event.Audio,
			AudioRef: event.AudioRef,
		})
	}
}

func (c *ListenerController) finish(session *listenerSession, err error) {
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
		c.logger.Infow("listener session closed by server", "session", session.id)
		if c.state.transition(domain.SessionStateDisconnected, domain.SessionReasonRemoteClosed) {
			c.setLabelLocked(LabelDisconnected)
		}
		return
	}
	c.logger.Warnw("listener session failed", "session", session.id, "error", err)
	if c.state.transition(domain.SessionStateError, domain.FailureReason(err)) {
		c.setLabelLocked(LabelError)
	}
	c.reportError(err)
}

func (c *ListenerController) teardown(session *listenerSession, graceful bool) {
	session.teardownOnce.Do(func() {
		session.stopping.Store(true)
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
		c.metrics.ActiveSessions.WithLabelValues(string(domain.RoleListener)).Dec()
		c.logger.Infow("listener session stopped", "session", session.id)
	})
}

func (c *ListenerController) reportError(err error) {
	code := domain.ErrorCodeFor(err)
	c.metrics.SessionErrors.WithLabelValues(string(code)).Inc()
	c.events.SessionError(code, err.Error())
}

func (c *ListenerController) setLabelLocked(label string) {
	if label == "" || label == c.label {
		return
	}
	c.label = label
	c.events.StatusChanged(domain.RoleListener, label)
}
