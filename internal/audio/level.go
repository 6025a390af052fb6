package audio

import (
	"math"
	"sync"
	"time"

	"github.com/samber/lo"

	"flowstate/internal/domain"
)

const (
	DefaultSilenceThreshold = 0.01
	DefaultSilenceHold      = 5000 * time.Millisecond
	DefaultLevelDecay       = 0.8
)

// LevelConfig tunes the voice activity detector.
type LevelConfig struct {
	Threshold float64
	Hold      time.Duration
	Decay     float64
}

func (c LevelConfig) withDefaults() LevelConfig {
	if c.Threshold <= 0 {
		c.Threshold = DefaultSilenceThreshold
	}
	if c.Hold <= 0 {
		c.Hold = DefaultSilenceHold
	}
	if c.Decay <= 0 || c.Decay >= 1 {
		c.Decay = DefaultLevelDecay
	}
	return c
}

type timerHandle interface {
	Stop() bool
}

// scheduleFunc runs f after d. Tests substitute a manual clock.
type scheduleFunc func(d time.Duration, f func()) timerHandle

func realAfterFunc(d time.Duration, f func()) timerHandle {
	return time.AfterFunc(d, f)
}

// LevelDetector follows the block energy envelope and classifies voice activity.
// Voice drops to PendingSilence when the level falls below the threshold and only reaches
// Silence if the hold timer expires with no louder block in between.
type LevelDetector struct {
	cfg       LevelConfig
	afterFunc scheduleFunc
	onChange  func(domain.VoiceActivity)

	// notifyMu orders onChange calls between the block callback and the timer goroutine.
	notifyMu sync.Mutex

	mu    sync.Mutex
	level float64
	state domain.VoiceActivity
	timer timerHandle
	gen   uint64
}

func NewLevelDetector(cfg LevelConfig, onChange func(domain.VoiceActivity)) *LevelDetector {
	return newLevelDetector(cfg, realAfterFunc, onChange)
}

func newLevelDetector(cfg LevelConfig, afterFunc scheduleFunc, onChange func(domain.VoiceActivity)) *LevelDetector {
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	if onChange == nil {
		onChange = func(domain.VoiceActivity) {}
	}
	return &LevelDetector{
		cfg:       cfg.withDefaults(),
		afterFunc: afterFunc,
		onChange:  onChange,
		state:     domain.VoiceActivityVoice,
	}
}

// Process updates the envelope with one block and returns the clamped level.
func (d *LevelDetector) Process(samples []float32) float64 {
	rms := RMS(samples)

	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()

	d.mu.Lock()
	d.level = math.Max(rms, d.level*d.cfg.Decay)
	level := d.level

	var changed bool
	var next domain.VoiceActivity
	if level < d.cfg.Threshold {
		if d.state == domain.VoiceActivityVoice {
			next, changed = domain.VoiceActivityPendingSilence, true
			d.startTimerLocked()
		}
	} else if d.state != domain.VoiceActivityVoice {
		next, changed = domain.VoiceActivityVoice, true
		d.cancelTimerLocked()
	}
	if changed {
		d.state = next
	}
	d.mu.Unlock()

	if changed {
		d.onChange(next)
	}
	return lo.Clamp(level, 0, 1)
}

// Level returns the smoothed level clamped to [0, 1].
func (d *LevelDetector) Level() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lo.Clamp(d.level, 0, 1)
}

func (d *LevelDetector) State() domain.VoiceActivity {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Reset cancels any pending timer and returns to the initial Voice state without notifying.
func (d *LevelDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelTimerLocked()
	d.level = 0
	d.state = domain.VoiceActivityVoice
}

func (d *LevelDetector) startTimerLocked() {
	d.cancelTimerLocked()
	gen := d.gen
	d.timer = d.afterFunc(d.cfg.Hold, func() {
		d.expire(gen)
	})
}

func (d *LevelDetector) cancelTimerLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *LevelDetector) expire(gen uint64) {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()

	d.mu.Lock()
	if gen != d.gen || d.state != domain.VoiceActivityPendingSilence {
		d.mu.Unlock()
		return
	}
	d.state = domain.VoiceActivitySilence
	d.timer = nil
	d.mu.Unlock()

	d.onChange(domain.VoiceActivitySilence)
}

// RMS returns sqrt(mean(s^2)) of a block, or 0 for an empty block.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
