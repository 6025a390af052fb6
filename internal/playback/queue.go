package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowstate/internal/domain"
	"flowstate/internal/logging"
	"flowstate/internal/metrics"
	"flowstate/internal/ports"
)

// Queue renders playback items strictly one at a time in arrival order.
type Queue struct {
	player  ports.Player
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	onError func(error)

	mu       sync.Mutex
	items    []domain.PlaybackItem
	current  *activeItem
	enabled  bool
	closed   bool
	sequence uint64

	active sync.WaitGroup
}

type activeItem struct {
	item   domain.PlaybackItem
	cancel context.CancelFunc
}

// QueueOption customizes a Queue.
type QueueOption func(*Queue)

// WithErrorHandler receives every playback failure after it is logged.
func WithErrorHandler(fn func(error)) QueueOption {
	return func(q *Queue) {
		q.onError = fn
	}
}

func NewQueue(player ports.Player, audioEnabled bool, logger *zap.SugaredLogger, m *metrics.Metrics, opts ...QueueOption) *Queue {
	q := &Queue{
		player:  player,
		logger:  logging.OrNop(logger),
		metrics: metrics.OrDiscard(m),
		enabled: audioEnabled,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends an item and starts draining. Items without audio, or arriving while muted
// or after Close, are discarded and false is returned.
func (q *Queue) Enqueue(item domain.PlaybackItem) bool {
	if !item.HasAudio() {
		return false
	}

	q.mu.Lock()
	if q.closed || !q.enabled {
		q.mu.Unlock()
		q.metrics.PlaybackDiscarded.Inc()
		return false
	}
	q.sequence++
	item.Sequence = q.sequence
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.metrics.PlaybackQueued.Inc()
	q.drain()
	return true
}

// SetAudioEnabled mutes or unmutes. Muting stops the current item and discards everything
// queued; unmuting only affects items that arrive afterwards.
func (q *Queue) SetAudioEnabled(enabled bool) {
	q.mu.Lock()
	q.enabled = enabled
	if enabled {
		q.mu.Unlock()
		return
	}
	current := q.discardLocked()
	q.mu.Unlock()

	if current != nil {
		current.cancel()
	}
}

func (q *Queue) AudioEnabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

// Clear stops the current item and drops pending ones without changing the mute state.
func (q *Queue) Clear() {
	q.mu.Lock()
	current := q.discardLocked()
	q.mu.Unlock()

	if current != nil {
		current.cancel()
	}
}

func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Current returns the item being rendered, if any.
func (q *Queue) Current() (domain.PlaybackItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return domain.PlaybackItem{}, false
	}
	return q.current.item, true
}

// Close stops playback, rejects new items and waits for the active item to return.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	current := q.discardLocked()
	q.mu.Unlock()

	if current != nil {
		current.cancel()
	}
	q.active.Wait()
}

func (q *Queue) discardLocked() *activeItem {
	if n := len(q.items); n > 0 {
		q.metrics.PlaybackDiscarded.Add(float64(n))
		q.logger.Debugw("discarding queued playback", "items", n)
	}
	q.items = nil
	return q.current
}

// drain starts the head item unless one is already playing or nothing is queued.
func (q *Queue) drain() {
	q.mu.Lock()
	if q.current != nil || len(q.items) == 0 || q.closed {
		q.mu.Unlock()
		return
	}
	item := q.items[0]
	q.items[0] = domain.PlaybackItem{}
	q.items = q.items[1:]

	ctx, cancel := context.WithCancel(context.Background())
	q.current = &activeItem{item: item, cancel: cancel}
	q.active.Add(1)
	q.mu.Unlock()

	go q.play(ctx, cancel, item)
}

func (q *Queue) play(ctx context.Context, cancel context.CancelFunc, item domain.PlaybackItem) {
	started := time.Now()
	err := q.player.Play(ctx, item)
	cancelled := ctx.Err() != nil
	cancel()

	q.mu.Lock()
	q.current = nil
	q.mu.Unlock()

	switch {
	case err == nil:
		q.metrics.PlaybackCompleted.Inc()
		q.metrics.PlaybackDuration.Observe(time.Since(started).Seconds())
	case cancelled:
		q.metrics.PlaybackDiscarded.Inc()
		q.logger.Debugw("playback interrupted", "item", item.ID, "seq", item.Sequence)
	default:
		if !errors.Is(err, domain.ErrPlayback) {
			err = fmt.Errorf("%w: %v", domain.ErrPlayback, err)
		}
		q.metrics.PlaybackFailed.Inc()
		q.logger.Warnw("playback failed, skipping item", "item", item.ID, "seq", item.Sequence, "error", err)
		if q.onError != nil {
			q.onError(err)
		}
	}

	// Start the next item before releasing this one so Close never observes a gap.
	q.drain()
	q.active.Done()
}
