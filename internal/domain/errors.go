package domain

import "errors"

var (
	// ErrPermission means the audio input device could not be acquired.
	ErrPermission = errors.New("audio device permission denied")
	// ErrConnection covers socket dial failures and abnormal closes.
	ErrConnection = errors.New("connection error")
	// ErrProtocol marks an inbound payload that could not be understood.
	ErrProtocol = errors.New("protocol error")
	// ErrPlayback marks a single item that failed to render.
	ErrPlayback = errors.New("playback error")
	// ErrConfiguration means the configure side-channel rejected the session.
	ErrConfiguration = errors.New("configuration error")

	ErrInvalidLanguage   = errors.New("invalid language code")
	ErrInvalidRoom       = errors.New("invalid room")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// ErrorCodeFor maps an error chain to the code surfaced to the UI.
func ErrorCodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrPermission):
		return ErrorCodePermission
	case errors.Is(err, ErrConfiguration):
		return ErrorCodeConfiguration
	case errors.Is(err, ErrConnection):
		return ErrorCodeConnection
	case errors.Is(err, ErrProtocol):
		return ErrorCodeProtocol
	case errors.Is(err, ErrPlayback):
		return ErrorCodePlayback
	case errors.Is(err, ErrInvalidLanguage), errors.Is(err, ErrInvalidRoom):
		return ErrorCodeInvalidInput
	default:
		return ErrorCodeStartup
	}
}

// FailureReason maps a start failure to the state reason reported with SessionStateError.
func FailureReason(err error) SessionStateReason {
	switch {
	case errors.Is(err, ErrPermission):
		return SessionReasonPermissionDenied
	case errors.Is(err, ErrConfiguration):
		return SessionReasonConfigurationFailed
	default:
		return SessionReasonConnectionFailed
	}
}
