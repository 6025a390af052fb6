package audio

import (
	"math"
	"sync"
	"testing"
	"time"

	"flowstate/internal/domain"
)

func TestLevelDetectorStaysVoiceWhileLoud(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	changes := &activityRecorder{}
	detector := newLevelDetector(LevelConfig{}, clock.AfterFunc, changes.record)

	for i := 0; i < 100; i++ {
		detector.Process(constantBlock(0.02, 128))
		clock.Advance(100 * time.Millisecond)
	}

	if detector.State() != domain.VoiceActivityVoice {
		t.Fatalf("unexpected state: %s", detector.State())
	}
	if got := changes.snapshot(); len(got) != 0 {
		t.Fatalf("unexpected transitions: %v", got)
	}
}

func TestLevelDetectorReachesSilenceAfterHold(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	changes := &activityRecorder{}
	detector := newLevelDetector(LevelConfig{}, clock.AfterFunc, changes.record)

	detector.Process(constantBlock(0, 128))
	if detector.State() != domain.VoiceActivityPendingSilence {
		t.Fatalf("expected pending silence, got %s", detector.State())
	}

	clock.Advance(4999 * time.Millisecond)
	if detector.State() != domain.VoiceActivityPendingSilence {
		t.Fatalf("expected pending silence before hold elapses, got %s", detector.State())
	}

	clock.Advance(time.Millisecond)
	if detector.State() != domain.VoiceActivitySilence {
		t.Fatalf("expected silence after hold, got %s", detector.State())
	}

	want := []domain.VoiceActivity{domain.VoiceActivityPendingSilence, domain.VoiceActivitySilence}
	assertActivities(t, changes.snapshot(), want)
}

func TestLevelDetectorInterruptionDiscardsElapsedHold(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	changes := &activityRecorder{}
	detector := newLevelDetector(LevelConfig{}, clock.AfterFunc, changes.record)

	detector.Process(constantBlock(0, 128))
	clock.Advance(4999 * time.Millisecond)
	detector.Process(constantBlock(0.5, 128))
	if detector.State() != domain.VoiceActivityVoice {
		t.Fatalf("expected voice after loud block, got %s", detector.State())
	}

	// The stale timer must not fire.
	clock.Advance(10 * time.Millisecond)
	if detector.State() != domain.VoiceActivityVoice {
		t.Fatalf("expected stale timer to be ignored, got %s", detector.State())
	}

	// Let the envelope decay back under the threshold, then the full hold applies again.
	for detector.State() == domain.VoiceActivityVoice {
		detector.Process(constantBlock(0, 128))
	}
	clock.Advance(4999 * time.Millisecond)
	if detector.State() != domain.VoiceActivityPendingSilence {
		t.Fatalf("expected fresh hold period, got %s", detector.State())
	}
	clock.Advance(time.Millisecond)
	if detector.State() != domain.VoiceActivitySilence {
		t.Fatalf("expected silence, got %s", detector.State())
	}

	want := []domain.VoiceActivity{
		domain.VoiceActivityPendingSilence,
		domain.VoiceActivityVoice,
		domain.VoiceActivityPendingSilence,
		domain.VoiceActivitySilence,
	}
	assertActivities(t, changes.snapshot(), want)
	if clock.pending() != 0 {
		t.Fatalf("expected no outstanding timers, got %d", clock.pending())
	}
}

func TestLevelDetectorSilenceToVoice(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	changes := &activityRecorder{}
	detector := newLevelDetector(LevelConfig{Hold: time.Second}, clock.AfterFunc, changes.record)

	detector.Process(constantBlock(0, 16))
	clock.Advance(time.Second)
	detector.Process(constantBlock(0.3, 16))

	want := []domain.VoiceActivity{
		domain.VoiceActivityPendingSilence,
		domain.VoiceActivitySilence,
		domain.VoiceActivityVoice,
	}
	assertActivities(t, changes.snapshot(), want)
}

func TestLevelDetectorEnvelopeDecay(t *testing.T) {
	t.Parallel()

	detector := newLevelDetector(LevelConfig{}, newManualClock().AfterFunc, nil)

	if got := detector.Process(constantBlock(0.5, 64)); math.Abs(got-0.5) > 1e-6 {
		t.Fatalf("expected fast attack to 0.5, got %v", got)
	}
	if got := detector.Process(constantBlock(0, 64)); math.Abs(got-0.4) > 1e-6 {
		t.Fatalf("expected decay to 0.4, got %v", got)
	}
	if got := detector.Process(constantBlock(0.1, 64)); math.Abs(got-0.32) > 1e-6 {
		t.Fatalf("expected envelope to hold 0.32, got %v", got)
	}
	if got := detector.Process(constantBlock(3, 64)); got != 1 {
		t.Fatalf("expected level clamped to 1, got %v", got)
	}
}

func TestLevelDetectorResetCancelsTimer(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	changes := &activityRecorder{}
	detector := newLevelDetector(LevelConfig{}, clock.AfterFunc, changes.record)

	detector.Process(constantBlock(0, 32))
	detector.Reset()
	clock.Advance(time.Minute)

	if detector.State() != domain.VoiceActivityVoice {
		t.Fatalf("expected reset state voice, got %s", detector.State())
	}
	if detector.Level() != 0 {
		t.Fatalf("expected level reset, got %v", detector.Level())
	}
	assertActivities(t, changes.snapshot(), []domain.VoiceActivity{domain.VoiceActivityPendingSilence})
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if RMS(nil) != 0 {
		t.Fatalf("expected zero rms for empty block")
	}
	if got := RMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("unexpected rms: %v", got)
	}
}

func constantBlock(value float32, n int) []float32 {
	block := make([]float32, n)
	for i := range block {
		block[i] = value
	}
	return block
}

func assertActivities(t *testing.T, got []domain.VoiceActivity, want []domain.VoiceActivity) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("unexpected transitions: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected transition %d: got %v want %v", i, got, want)
		}
	}
}

type activityRecorder struct {
	mu      sync.Mutex
	changes []domain.VoiceActivity
}

func (r *activityRecorder) record(activity domain.VoiceActivity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, activity)
}

func (r *activityRecorder) snapshot() []domain.VoiceActivity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.VoiceActivity, len(r.changes))
	copy(out, r.changes)
	return out
}

// manualClock fires scheduled callbacks synchronously from Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock    *manualClock
	deadline time.Duration
	fn       func()
	stopped  bool
	fired    bool
}

func newManualClock() *manualClock {
	return &manualClock{}
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) timerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &manualTimer{clock: c, deadline: c.now + d, fn: f}
	c.timers = append(c.timers, timer)
	return timer
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired && timer.deadline <= c.now {
			timer.fired = true
			due = append(due, timer)
		}
	}
	c.mu.Unlock()

	for _, timer := range due {
		timer.fn()
	}
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired {
			count++
		}
	}
	return count
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}
