package configure

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"flowstate/internal/domain"
	"flowstate/internal/ports"
)

func TestConfigurePostsForm(t *testing.T) {
	t.Parallel()

	requests := make(chan *http.Request, 1)
	forms := make(chan url.Values, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		requests <- r
		forms <- r.PostForm
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second, zaptest.NewLogger(t).Sugar())
	err := client.Configure(context.Background(), ports.ConfigureRequest{
		Room:      "Sala1",
		Action:    ActionStart,
		InputLang: "es-ES",
	})
	if err != nil {
		t.Fatalf("configure failed: %v", err)
	}

	r := <-requests
	if r.Method != http.MethodPost || r.URL.Path != "/configure/Sala1" {
		t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
		t.Fatalf("unexpected content type: %s", ct)
	}
	form := <-forms
	if form.Get("action") != "start" || form.Get("input_lang") != "es-ES" || form.Get("storage_method") != "NO_RECORD" {
		t.Fatalf("unexpected form: %v", form)
	}
}

func TestConfigureWithoutRoom(t *testing.T) {
	t.Parallel()

	paths := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, nil)
	if err := client.Configure(context.Background(), ports.ConfigureRequest{Action: ActionStop}); err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if path := <-paths; path != "/configure" {
		t.Fatalf("unexpected path: %s", path)
	}
}

func TestConfigureNon2xxIsConfigurationError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "room busy", http.StatusConflict)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil)
	err := client.Configure(context.Background(), ports.ConfigureRequest{Room: "r", Action: ActionStart})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestConfigureUnreachableIsConfigurationError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	client := NewClient(base, time.Second, nil)
	err := client.Configure(context.Background(), ports.ConfigureRequest{Room: "r", Action: ActionStart})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestEndpointMapsSocketSchemes(t *testing.T) {
	t.Parallel()

	got, err := NewClient("wss://example.com/api", 0, nil).endpoint("a b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://example.com/api/configure/a%20b" {
		t.Fatalf("unexpected endpoint: %s", got)
	}

	if _, err := NewClient("", 0, nil).endpoint("r"); err == nil {
		t.Fatalf("expected error for empty base")
	}
	if _, err := NewClient("ftp://x", 0, nil).endpoint("r"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}
