package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"flowstate/internal/domain"
	"flowstate/internal/logging"
	"flowstate/internal/metrics"
	"flowstate/internal/ports"
)

// EngineConfig controls a capture pipeline.
type EngineConfig struct {
	Audio ports.AudioConfig
	Level LevelConfig
	// HandoffDepth bounds the frames waiting between the device callback and the consumer.
	HandoffDepth int
}

// Engine wires an AudioDevice to the level detector and the PCM encoder.
type Engine struct {
	device   ports.AudioDevice
	cfg      EngineConfig
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	schedule scheduleFunc
}

func NewEngine(device ports.AudioDevice, cfg EngineConfig, logger *zap.SugaredLogger, m *metrics.Metrics) *Engine {
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.BlockFrames <= 0 {
		cfg.Audio.BlockFrames = 128
	}
	if cfg.HandoffDepth <= 0 {
		cfg.HandoffDepth = 1
	}
	return &Engine{
		device:   device,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		metrics:  metrics.OrDiscard(m),
		schedule: realAfterFunc,
	}
}

// Start opens the device and returns the running session. Device failures wrap domain.ErrPermission.
func (e *Engine) Start(ctx context.Context) (ports.CaptureSession, error) {
	session := &captureSession{
		frames:   make(chan domain.AudioFrame, e.cfg.HandoffDepth),
		activity: make(chan domain.VoiceActivity, 1),
		logger:   e.logger,
		metrics:  e.metrics,
	}
	session.detector = newLevelDetector(e.cfg.Level, e.schedule, session.publishActivity)

	handle, err := e.device.Open(ctx, e.cfg.Audio, session.onBlock)
	if err != nil {
		session.closeChannels()
		return nil, fmt.Errorf("%w: %v", domain.ErrPermission, err)
	}
	session.handle = handle

	e.logger.Infow("audio capture started",
		"sample_rate", e.cfg.Audio.SampleRate,
		"block_frames", e.cfg.Audio.BlockFrames,
		"handoff_depth", e.cfg.HandoffDepth,
	)
	return session, nil
}

type captureSession struct {
	handle   ports.AudioHandle
	detector *LevelDetector
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics

	frames   chan domain.AudioFrame
	activity chan domain.VoiceActivity

	mu     sync.Mutex
	closed bool
	seq    uint64

	dropped  atomic.Uint64
	stopOnce sync.Once
	stopErr  error
}

// onBlock runs on the device's real-time context and never blocks.
func (s *captureSession) onBlock(samples []float32) {
	if len(samples) == 0 {
		return
	}
	level := s.detector.Process(samples)
	frame := domain.AudioFrame{PCM: EncodeBlock(samples), Level: level}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.seq++
	frame.Seq = s.seq
	select {
	case s.frames <- frame:
		s.metrics.FramesCaptured.Inc()
	default:
		s.dropped.Add(1)
		s.metrics.FramesDropped.Inc()
	}
	s.metrics.InputLevel.Set(level)
}

// publishActivity keeps only the latest activity value in the channel.
func (s *captureSession) publishActivity(activity domain.VoiceActivity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.metrics.VoiceActivity.WithLabelValues(string(activity)).Inc()
	select {
	case <-s.activity:
	default:
	}
	s.activity <- activity
}

func (s *captureSession) Frames() <-chan domain.AudioFrame { return s.frames }

func (s *captureSession) Activity() <-chan domain.VoiceActivity { return s.activity }

func (s *captureSession) Dropped() uint64 { return s.dropped.Load() }

// Stop disconnects the device, releases it, cancels the silence timer and closes the
// hand-off channels. Later calls return the first result.
func (s *captureSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.handle != nil {
			s.stopErr = s.handle.Stop()
		}
		s.detector.Reset()
		s.closeChannels()
		if dropped := s.dropped.Load(); dropped > 0 {
			s.logger.Debugw("audio capture stopped with dropped blocks", "dropped", dropped)
		}
	})
	return s.stopErr
}

func (s *captureSession) closeChannels() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)
	close(s.activity)
}
