package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"flowstate/internal/domain"
	"flowstate/internal/metrics"
)

func TestQueuePlaysInOrderAndSkipsFailures(t *testing.T) {
	t.Parallel()

	player := newScriptedPlayer()
	player.fail["two"] = errors.New("decoder exploded")

	var errMu sync.Mutex
	var reported []error
	m := metrics.Discard()
	queue := NewQueue(player, true, zaptest.NewLogger(t).Sugar(), m, WithErrorHandler(func(err error) {
		errMu.Lock()
		reported = append(reported, err)
		errMu.Unlock()
	}))

	for _, text := range []string{"one", "two", "three"} {
		if !queue.Enqueue(audioItem(text)) {
			t.Fatalf("expected %s to be queued", text)
		}
	}

	player.waitFinished(t, 3)

	started := player.snapshotStarted()
	want := []string{"one", "two", "three"}
	for i := range want {
		if started[i] != want[i] {
			t.Fatalf("unexpected play order: %v", started)
		}
	}
	if player.maxConcurrent() != 1 {
		t.Fatalf("expected at most one active item, got %d", player.maxConcurrent())
	}

	errMu.Lock()
	defer errMu.Unlock()
	if len(reported) != 1 || !errors.Is(reported[0], domain.ErrPlayback) {
		t.Fatalf("expected one playback error, got %v", reported)
	}
	queue.Close()
	if got := testutil.ToFloat64(m.PlaybackCompleted); got != 2 {
		t.Fatalf("unexpected completed count: %v", got)
	}
	if got := testutil.ToFloat64(m.PlaybackFailed); got != 1 {
		t.Fatalf("unexpected failed count: %v", got)
	}
}

func TestQueueSequenceFollowsArrival(t *testing.T) {
	t.Parallel()

	player := newScriptedPlayer()
	queue := NewQueue(player, true, nil, nil)

	queue.Enqueue(audioItem("a"))
	queue.Enqueue(audioItem("b"))
	player.waitFinished(t, 2)

	items := player.snapshotItems()
	if items[0].Sequence != 1 || items[1].Sequence != 2 {
		t.Fatalf("unexpected sequences: %d %d", items[0].Sequence, items[1].Sequence)
	}
	if items[0].ID == "" {
		t.Fatalf("expected generated item id")
	}
}

func TestQueueMuteStopsCurrentAndDiscardsPending(t *testing.T) {
	t.Parallel()

	player := newScriptedPlayer()
	player.block = true
	queue := NewQueue(player, true, nil, nil)

	queue.Enqueue(audioItem("one"))
	queue.Enqueue(audioItem("two"))
	queue.Enqueue(audioItem("three"))
	player.waitStarted(t, "one")

	if current, ok := queue.Current(); !ok || current.Text != "one" {
		t.Fatalf("expected one to be current, got %+v %t", current, ok)
	}

	queue.SetAudioEnabled(false)
	player.waitFinished(t, 1)

	if queue.Pending() != 0 {
		t.Fatalf("expected queue emptied, got %d", queue.Pending())
	}
	if !errors.Is(player.snapshotResults()[0], context.Canceled) {
		t.Fatalf("expected current item cancelled, got %v", player.snapshotResults()[0])
	}
	if queue.Enqueue(audioItem("muted")) {
		t.Fatalf("expected item arriving while muted to be discarded")
	}

	queue.SetAudioEnabled(true)
	queue.Enqueue(audioItem("four"))
	player.waitStarted(t, "four")
	player.releaseOne()
	player.waitFinished(t, 1)

	started := player.snapshotStarted()
	if len(started) != 2 || started[0] != "one" || started[1] != "four" {
		t.Fatalf("expected discarded items never replayed, got %v", started)
	}
	queue.Close()
}

func TestQueueIgnoresItemsWithoutAudio(t *testing.T) {
	t.Parallel()

	player := newScriptedPlayer()
	queue := NewQueue(player, true, nil, nil)

	if queue.Enqueue(domain.PlaybackItem{Text: "text only"}) {
		t.Fatalf("expected text-only item to be skipped")
	}
	if queue.Pending() != 0 {
		t.Fatalf("unexpected pending items")
	}
}

func TestQueueClearKeepsAudioEnabled(t *testing.T) {
	t.Parallel()

	player := newScriptedPlayer()
	player.block = true
	queue := NewQueue(player, true, nil, nil)

	queue.Enqueue(audioItem("one"))
	queue.Enqueue(audioItem("two"))
	player.waitStarted(t, "one")

	queue.Clear()
	player.waitFinished(t, 1)
	if !queue.AudioEnabled() {
		t.Fatalf("expected audio to stay enabled after clear")
	}
	if queue.Pending() != 0 {
		t.Fatalf("expected pending items dropped")
	}
	queue.Close()
}

func TestQueueCloseWaitsAndRejects(t *testing.T) {
	t.Parallel()

	player := newScriptedPlayer()
	player.block = true
	queue := NewQueue(player, true, nil, nil)

	queue.Enqueue(audioItem("one"))
	player.waitStarted(t, "one")

	closed := make(chan struct{})
	go func() {
		queue.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not return")
	}
	if _, ok := queue.Current(); ok {
		t.Fatalf("expected no current item after close")
	}
	if queue.Enqueue(audioItem("late")) {
		t.Fatalf("expected enqueue after close to be rejected")
	}
}

func audioItem(text string) domain.PlaybackItem {
	return domain.PlaybackItem{Text: text, Audio: []byte("RIFF" + text)}
}

type scriptedPlayer struct {
	mu        sync.Mutex
	started   []string
	items     []domain.PlaybackItem
	results   []error
	active    int
	maxActive int
	fail      map[string]error

	block    bool
	release  chan struct{}
	startedC chan string
	finished chan struct{}
}

func newScriptedPlayer() *scriptedPlayer {
	return &scriptedPlayer{
		fail:     map[string]error{},
		release:  make(chan struct{}, 8),
		startedC: make(chan string, 16),
		finished: make(chan struct{}, 16),
	}
}

func (p *scriptedPlayer) Play(ctx context.Context, item domain.PlaybackItem) error {
	p.mu.Lock()
	p.started = append(p.started, item.Text)
	p.items = append(p.items, item)
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.mu.Unlock()
	p.startedC <- item.Text

	var err error
	if p.block {
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-p.release:
		}
	} else {
		time.Sleep(2 * time.Millisecond)
	}
	if err == nil {
		err = p.fail[item.Text]
	}

	p.mu.Lock()
	p.active--
	p.results = append(p.results, err)
	p.mu.Unlock()
	p.finished <- struct{}{}
	return err
}

func (p *scriptedPlayer) releaseOne() {
	p.release <- struct{}{}
}

func (p *scriptedPlayer) waitStarted(t *testing.T, text string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-p.startedC:
			if got == text {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q to start", text)
		}
	}
}

func (p *scriptedPlayer) waitFinished(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-p.finished:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d finished items", n)
		}
	}
}

func (p *scriptedPlayer) snapshotStarted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.started...)
}

func (p *scriptedPlayer) snapshotItems() []domain.PlaybackItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.PlaybackItem(nil), p.items...)
}

func (p *scriptedPlayer) snapshotResults() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.results...)
}

func (p *scriptedPlayer) maxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}
