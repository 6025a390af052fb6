package ports

import (
	"context"

	"flowstate/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	BlockFrames int
	InputFormat string
	InputDevice string
}

// AudioHandle is an open input device. Stop disconnects the block callback and releases the device.
type AudioHandle interface {
	Stop() error
}

// AudioDevice opens an input that calls onBlock once per fixed-size block on a real-time context.
// onBlock must not retain the slice.
type AudioDevice interface {
	Open(ctx context.Context, cfg AudioConfig, onBlock func(samples []float32)) (AudioHandle, error)
}

// CaptureSession is a live capture pipeline.
type CaptureSession interface {
	Frames() <-chan domain.AudioFrame
	Activity() <-chan domain.VoiceActivity
	Dropped() uint64
	Stop() error
}

// Capture starts microphone capture sessions.
type Capture interface {
	Start(ctx context.Context) (CaptureSession, error)
}

// Endpoint selects the server socket for a role.
type Endpoint struct {
	Role domain.Role
	Room string
	Lang string
}

// Socket is an open websocket session with a single outbound writer.
type Socket interface {
	SendAudio(pcm []byte) error
	SendControl(msg domain.ControlMessage) error
	Events() <-chan domain.InboundEvent
	CloseSend() error
	Done() <-chan struct{}
	Wait() error
	Close() error
}

// SocketDialer opens sockets.
type SocketDialer interface {
	Dial(ctx context.Context, endpoint Endpoint) (Socket, error)
}

// ConfigureRequest is the form sent to the configure side-channel.
type ConfigureRequest struct {
	Room          string
	Action        string
	InputLang     string
	StorageMethod string
}

// Configurer calls the configure side-channel.
type Configurer interface {
	Configure(ctx context.Context, req ConfigureRequest) error
}

// Player renders one playback item and returns when it has finished or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, item domain.PlaybackItem) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(role domain.Role, state domain.SessionState, reason domain.SessionStateReason)
	StatusChanged(role domain.Role, label string)
	LevelChanged(level float64)
	TranslationReceived(entry domain.TranslationEntry)
	SessionError(code domain.ErrorCode, detail string)
}
