package bootstrap

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"flowstate/internal/audio"
	"flowstate/internal/config"
	"flowstate/internal/configure"
	"flowstate/internal/domain"
	"flowstate/internal/logging"
	"flowstate/internal/metrics"
	"flowstate/internal/playback"
	"flowstate/internal/ports"
	"flowstate/internal/transport"
	"flowstate/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Speaker  *usecase.SpeakerController
	Listener *usecase.ListenerController
	Config   config.Config
	Logger   *zap.SugaredLogger
	Metrics  *metrics.Metrics
}

// Build loads configuration and wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return Services{}, err
	}
	return Assemble(cfg, eventSink, logger), nil
}

// Assemble wires services from an already loaded configuration.
func Assemble(cfg config.Config, eventSink ports.EventSink, logger *zap.SugaredLogger) Services {
	logger = logging.OrNop(logger)
	m := metrics.New(prometheus.NewRegistry())

	var device ports.AudioDevice
	switch cfg.Audio.Backend {
	case config.BackendFFMPEG:
		device = audio.NewFFMPEGDevice(cfg.Audio.RecorderCommand, logger)
	default:
		device = audio.NewPortAudioDevice(logger)
	}

	engine := audio.NewEngine(device, audio.EngineConfig{
		Audio: ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    1,
			BlockFrames: cfg.Audio.BlockFrames,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		Level: audio.LevelConfig{
			Threshold: cfg.Detector.Threshold,
			Hold:      cfg.Detector.Hold,
			Decay:     cfg.Detector.Decay,
		},
		HandoffDepth: cfg.Audio.HandoffDepth,
	}, logger, m)

	dialer := transport.NewDialer(transport.Config{BaseURL: cfg.Server.URL}, logger, m)
	configurer := configure.NewClient(cfg.Server.URL, 10*time.Second, logger)

	speaker := usecase.NewSpeakerController(engine, dialer, configurer, eventSink, logger, m, usecase.SpeakerConfig{
		Room:             cfg.Server.Room,
		InputLang:        cfg.Server.InputLang,
		TargetLang:       cfg.Server.TargetLang,
		StorageMethod:    cfg.Server.StorageMethod,
		ConfigureEnabled: cfg.Server.ConfigureEnabled,
		StopGrace:        cfg.Session.StopGrace,
	})

	player := playback.NewSpeakerPlayer(cfg.Listener.PlaybackSampleRate, 0, logger)
	queue := playback.NewQueue(player, cfg.Listener.AudioEnabled, logger, m, playback.WithErrorHandler(func(err error) {
		eventSink.SessionError(domain.ErrorCodeFor(err), err.Error())
	}))
	listener := usecase.NewListenerController(
		dialer,
		queue,
		playback.NewHistory(cfg.Listener.HistorySize),
		eventSink,
		logger,
		m,
		usecase.ListenerConfig{
			Room:       cfg.Server.Room,
			TargetLang: cfg.Server.TargetLang,
			StopGrace:  cfg.Session.StopGrace,
		},
	)

	return Services{
		Speaker:  speaker,
		Listener: listener,
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
	}
}

// Shutdown stops both roles and flushes the logger.
func (s Services) Shutdown(ctx context.Context) {
	if s.Speaker != nil {
		_ = s.Speaker.Stop(ctx)
	}
	if s.Listener != nil {
		_ = s.Listener.Close(ctx)
	}
	if s.Logger != nil {
		_ = s.Logger.Sync()
	}
}
