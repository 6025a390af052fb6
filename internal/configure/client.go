package configure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"flowstate/internal/domain"
	"flowstate/internal/logging"
	"flowstate/internal/ports"
)

const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// Client posts session configuration to the server's configure endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logging.OrNop(logger),
	}
}

// Configure sends POST {base}/configure[/{room}]. Any non-2xx response wraps domain.ErrConfiguration.
func (c *Client) Configure(ctx context.Context, req ports.ConfigureRequest) error {
	endpoint, err := c.endpoint(req.Room)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	storage := req.StorageMethod
	if storage == "" {
		storage = domain.DefaultStorageMethod
	}
	form := url.Values{}
	form.Set("action", req.Action)
	form.Set("input_lang", req.InputLang)
	form.Set("storage_method", storage)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: request failed: %v", domain.ErrConfiguration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", domain.ErrConfiguration, endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debugw("session configured", "room", req.Room, "action", req.Action, "input_lang", req.InputLang)
	return nil
}

func (c *Client) endpoint(room string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("server URL is not configured")
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch base.Scheme {
	case "ws":
		base.Scheme = "http"
	case "wss":
		base.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", base.Scheme)
	}
	base = base.JoinPath("configure")
	if room != "" {
		base = base.JoinPath(room)
	}
	return base.String(), nil
}
