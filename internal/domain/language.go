package domain

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// NormalizeLanguage validates a BCP 47 code and returns its canonical form ("en-us" -> "en-US").
func NormalizeLanguage(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidLanguage)
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, code)
	}
	return tag.String(), nil
}

// NormalizeRoom trims a room identifier and rejects values that cannot form a path segment.
func NormalizeRoom(room string) (string, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoom)
	}
	if strings.ContainsAny(room, "/?#") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoom, room)
	}
	return room, nil
}
