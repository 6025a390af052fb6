package transport

import (
	"fmt"
	"net/url"
	"strings"

	"flowstate/internal/ports"
)

// BuildSocketURL maps an http(s) base to the role-scoped ws(s) endpoint:
// {base}/ws/{role}[/{room}][?lang=xx].
func BuildSocketURL(base string, endpoint ports.Endpoint) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("server URL is not configured")
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	socketURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if socketURL.Scheme != "ws" && socketURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid server URL scheme %q", socketURL.Scheme)
	}

	socketURL = socketURL.JoinPath("ws", string(endpoint.Role))
	if endpoint.Room != "" {
		socketURL = socketURL.JoinPath(endpoint.Room)
	}
	if endpoint.Lang != "" {
		query := socketURL.Query()
		query.Set("lang", endpoint.Lang)
		socketURL.RawQuery = query.Encode()
	}
	return socketURL.String(), nil
}
