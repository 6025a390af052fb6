package domain

// Command names understood by the translation server.
type Command string

const (
	CommandStartTranslation Command = "start_translation"
	CommandStopTranslation  Command = "stop_translation"
	CommandToggleAudio      Command = "toggle_audio"
)

// DefaultStorageMethod tells the server not to persist audio.
const DefaultStorageMethod = "NO_RECORD"

// ControlMessage is sent as a JSON text frame.
type ControlMessage struct {
	Command       Command `json:"command"`
	Lang          string  `json:"lang,omitempty"`
	InputLang     string  `json:"inputLang,omitempty"`
	StorageMethod string  `json:"storageMethod,omitempty"`
	Audio         *bool   `json:"audio,omitempty"`
}

func StartControl(lang string, inputLang string, storageMethod string) ControlMessage {
	return ControlMessage{
		Command:       CommandStartTranslation,
		Lang:          lang,
		InputLang:     inputLang,
		StorageMethod: storageMethod,
	}
}

func StopControl() ControlMessage {
	return ControlMessage{Command: CommandStopTranslation}
}

func ToggleAudioControl(enabled bool) ControlMessage {
	return ControlMessage{Command: CommandToggleAudio, Audio: &enabled}
}

// InboundEvent is a parsed server message. Fields are optional and independent.
type InboundEvent struct {
	Status   string
	Text     string
	Audio    []byte
	AudioRef string
}

func (e InboundEvent) HasStatus() bool { return e.Status != "" }
func (e InboundEvent) HasText() bool   { return e.Text != "" }
func (e InboundEvent) HasAudio() bool  { return len(e.Audio) > 0 || e.AudioRef != "" }
