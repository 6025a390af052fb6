package domain

import "time"

// Role identifies which side of a translation room a session serves.
type Role string

const (
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

// SessionState models the connection lifecycle of a speaker or listener session.
type SessionState string

const (
	SessionStateIdle         SessionState = "idle"
	SessionStateConnecting   SessionState = "connecting"
	SessionStateActive       SessionState = "active"
	SessionStateSilence      SessionState = "silence"
	SessionStateError        SessionState = "error"
	SessionStateDisconnected SessionState = "disconnected"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady               SessionStateReason = "ready"
	SessionReasonConnecting          SessionStateReason = "connecting"
	SessionReasonStreaming           SessionStateReason = "streaming"
	SessionReasonListening           SessionStateReason = "listening"
	SessionReasonRestarted           SessionStateReason = "restarted"
	SessionReasonSilenceDetected     SessionStateReason = "silence_detected"
	SessionReasonVoiceResumed        SessionStateReason = "voice_resumed"
	SessionReasonStopped             SessionStateReason = "stopped"
	SessionReasonRemoteClosed        SessionStateReason = "remote_closed"
	SessionReasonPermissionDenied    SessionStateReason = "permission_denied"
	SessionReasonConnectionFailed    SessionStateReason = "connection_failed"
	SessionReasonConfigurationFailed SessionStateReason = "configuration_failed"
)

// ErrorCode identifies errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodePermission    ErrorCode = "permission"
	ErrorCodeConnection    ErrorCode = "connection"
	ErrorCodeProtocol      ErrorCode = "protocol"
	ErrorCodePlayback      ErrorCode = "playback"
	ErrorCodeConfiguration ErrorCode = "configuration"
	ErrorCodeAudioStop     ErrorCode = "audio_stop"
	ErrorCodeInvalidInput  ErrorCode = "invalid_input"
)

// VoiceActivity is the output of the level detector.
type VoiceActivity string

const (
	VoiceActivityVoice          VoiceActivity = "voice"
	VoiceActivityPendingSilence VoiceActivity = "pending_silence"
	VoiceActivitySilence        VoiceActivity = "silence"
)

// AudioFrame is one encoded capture block handed from the audio callback to the control side.
type AudioFrame struct {
	Seq   uint64
	PCM   []byte
	Level float64
}

// Session describes one speaker or listener connection.
type Session struct {
	ID            string       `json:"id"`
	Role          Role         `json:"role"`
	Room          string       `json:"room"`
	TargetLang    string       `json:"targetLang,omitempty"`
	InputLang     string       `json:"inputLang,omitempty"`
	StorageMethod string       `json:"storageMethod,omitempty"`
	State         SessionState `json:"state"`
	AudioEnabled  bool         `json:"audioEnabled"`
}

// TranslationEntry is one line of translated text shown to listeners.
type TranslationEntry struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// PlaybackItem is a unit of translated audio waiting to be rendered.
type PlaybackItem struct {
	ID       string
	Text     string
	Audio    []byte
	AudioRef string
	Sequence uint64
}

// HasAudio reports whether the item carries something playable.
func (p PlaybackItem) HasAudio() bool {
	return len(p.Audio) > 0 || p.AudioRef != ""
}

// Status summarizes the current runtime status.
type Status struct {
	Role         Role         `json:"role"`
	State        SessionState `json:"state"`
	Active       bool         `json:"active"`
	Room         string       `json:"room,omitempty"`
	Label        string       `json:"label,omitempty"`
	AudioEnabled bool         `json:"audioEnabled"`
	Message      string       `json:"message,omitempty"`
	Session      *Session     `json:"session,omitempty"`
}
