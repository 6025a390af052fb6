package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"flowstate/internal/domain"
	"flowstate/internal/logging"
	"flowstate/internal/metrics"
	"flowstate/internal/ports"
)

// Config controls websocket settings.
type Config struct {
	BaseURL          string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	OutboundDepth    int
	EventDepth       int
}

// Dialer implements ports.SocketDialer over gorilla/websocket.
type Dialer struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewDialer(cfg Config, logger *zap.SugaredLogger, m *metrics.Metrics) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.OutboundDepth <= 0 {
		cfg.OutboundDepth = 32
	}
	if cfg.EventDepth <= 0 {
		cfg.EventDepth = 64
	}
	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:  logging.OrNop(logger),
		metrics: metrics.OrDiscard(m),
	}
}

// Dial opens the socket for endpoint. Failures wrap domain.ErrConnection.
func (d *Dialer) Dial(ctx context.Context, endpoint ports.Endpoint) (ports.Socket, error) {
	wsURL, err := BuildSocketURL(d.cfg.BaseURL, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}

	conn, _, err := d.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", domain.ErrConnection, wsURL, err)
	}

	logger := d.logger.With("role", endpoint.Role, "room", endpoint.Room)
	logger.Infow("socket connected", "url", wsURL)

	session := &socketSession{
		conn:         conn,
		writeTimeout: d.cfg.WriteTimeout,
		events:       make(chan domain.InboundEvent, d.cfg.EventDepth),
		outbound:     make(chan outboundFrame, d.cfg.OutboundDepth),
		done:         make(chan struct{}),
		closing:      make(chan struct{}),
		logger:       logger,
		metrics:      d.metrics,
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	return session, nil
}

type outboundFrame struct {
	messageType int
	payload     []byte
}

// socketSession owns one connection. All writes go through writeLoop so frames reach the
// wire in the order they were queued.
type socketSession struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       *zap.SugaredLogger
	metrics      *metrics.Metrics

	events   chan domain.InboundEvent
	outbound chan outboundFrame
	done     chan struct{}
	closing  chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func (s *socketSession) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	copied := append([]byte(nil), pcm...)
	return s.enqueue(outboundFrame{messageType: websocket.BinaryMessage, payload: copied})
}

func (s *socketSession) SendControl(msg domain.ControlMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode control message: %w", err)
	}
	return s.enqueue(outboundFrame{messageType: websocket.TextMessage, payload: payload})
}

func (s *socketSession) enqueue(frame outboundFrame) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("socket send side is already closed")
	}

	select {
	case <-s.closing:
		if err := s.waitErr(); err != nil {
			return err
		}
		return fmt.Errorf("%w: socket closed", domain.ErrConnection)
	default:
	}

	select {
	case s.outbound <- frame:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return fmt.Errorf("%w: socket closed", domain.ErrConnection)
	}
}

// CloseSend flushes queued frames, then sends a normal close frame.
func (s *socketSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.outbound)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *socketSession) Events() <-chan domain.InboundEvent {
	return s.events
}

func (s *socketSession) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until both loops exit and returns the first abnormal error.
func (s *socketSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *socketSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *socketSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *socketSession) setErr(err error) {
	if err == nil {
		return
	}
	if isCleanClose(err) {
		return
	}
	select {
	case <-s.closing:
		// Errors caused by a local Close are expected.
		return
	default:
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
}

// isCleanClose reports whether err, possibly wrapped, carries a normal close code.
func isCleanClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	switch closeErr.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	default:
		return false
	}
}

func (s *socketSession) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case frame, ok := <-s.outbound:
			if !ok {
				s.writeClose()
				return
			}
			if err := s.write(frame.messageType, frame.payload); err != nil {
				s.setErr(fmt.Errorf("failed to send frame: %w", err))
				_ = s.conn.Close()
				return
			}
			if frame.messageType == websocket.BinaryMessage {
				s.metrics.FramesSent.WithLabelValues("audio").Inc()
				s.metrics.BytesSent.Add(float64(len(frame.payload)))
			} else {
				s.metrics.FramesSent.WithLabelValues("control").Inc()
			}
		case <-s.closing:
			return
		}
	}
}

func (s *socketSession) write(messageType int, payload []byte) error {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(messageType, payload)
}

func (s *socketSession) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.write(websocket.CloseMessage, msg); err != nil {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

func (s *socketSession) readLoop() {
	defer s.wg.Done()

	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read server event: %w", err))
			// Unblock a writer stuck on a dead connection.
			_ = s.conn.Close()
			s.stopWriter()
			return
		}

		if messageType != websocket.TextMessage {
			s.metrics.ProtocolErrors.Inc()
			s.logger.Debugw("dropping non-text server frame", "type", messageType, "bytes", len(payload))
			continue
		}

		event, err := DecodeInbound(payload)
		if err != nil {
			s.metrics.ProtocolErrors.Inc()
			s.logger.Warnw("dropping malformed server event", "error", err)
			continue
		}
		s.metrics.InboundEvents.Inc()

		select {
		case s.events <- event:
		case <-s.closing:
			return
		}
	}
}

// stopWriter releases writeLoop when the read side has already failed.
func (s *socketSession) stopWriter() {
	s.closeOnce.Do(func() {
		close(s.closing)
	})
}
