package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"flowstate/internal/domain"
)

type inboundMessage struct {
	Status         string          `json:"status"`
	Text           string          `json:"text"`
	TranslatedText string          `json:"translated_text"`
	Audio          json.RawMessage `json:"audio"`
}

// DecodeInbound parses one server text frame. Any failure wraps domain.ErrProtocol.
func DecodeInbound(payload []byte) (domain.InboundEvent, error) {
	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return domain.InboundEvent{}, fmt.Errorf("%w: %v", domain.ErrProtocol, err)
	}

	event := domain.InboundEvent{
		Status: strings.TrimSpace(msg.Status),
		Text:   strings.TrimSpace(msg.Text),
	}
	if event.Text == "" {
		event.Text = strings.TrimSpace(msg.TranslatedText)
	}

	if err := decodeAudio(msg.Audio, &event); err != nil {
		return domain.InboundEvent{}, err
	}

	if !event.HasStatus() && !event.HasText() && !event.HasAudio() {
		return domain.InboundEvent{}, fmt.Errorf("%w: message carries no status, text or audio", domain.ErrProtocol)
	}
	return event, nil
}

// decodeAudio accepts a base64 string (optionally a data: URL), an http(s) reference,
// or a JSON array of byte values.
func decodeAudio(raw json.RawMessage, event *domain.InboundEvent) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	if raw[0] == '[' {
		var values []byte
		var ints []int
		if err := json.Unmarshal(raw, &ints); err != nil {
			return fmt.Errorf("%w: audio array: %v", domain.ErrProtocol, err)
		}
		values = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return fmt.Errorf("%w: audio array value %d out of range", domain.ErrProtocol, v)
			}
			values[i] = byte(v)
		}
		event.Audio = values
		return nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return fmt.Errorf("%w: audio field: %v", domain.ErrProtocol, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		event.AudioRef = text
		return nil
	}
	if strings.HasPrefix(text, "data:") {
		idx := strings.Index(text, ";base64,")
		if idx < 0 {
			return fmt.Errorf("%w: audio data URL is not base64", domain.ErrProtocol)
		}
		text = text[idx+len(";base64,"):]
	}

	decoded, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return fmt.Errorf("%w: audio base64: %v", domain.ErrProtocol, err)
	}
	event.Audio = decoded
	return nil
}
