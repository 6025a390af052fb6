package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"flowstate/internal/logging"
	"flowstate/internal/ports"
)

// PortAudioDevice captures from the default input through a PortAudio callback stream.
type PortAudioDevice struct {
	logger *zap.SugaredLogger
}

func NewPortAudioDevice(logger *zap.SugaredLogger) *PortAudioDevice {
	return &PortAudioDevice{logger: logging.OrNop(logger)}
}

func (d *PortAudioDevice) Open(_ context.Context, cfg ports.AudioConfig, onBlock func([]float32)) (ports.AudioHandle, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	input, err := portaudio.DefaultInputDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("no default input device: %w", err)
	}

	params := portaudio.LowLatencyParameters(input, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.BlockFrames

	// The callback buffer is reused by PortAudio; onBlock encodes it before returning.
	stream, err := portaudio.OpenStream(params, func(in []float32) {
		onBlock(in)
	})
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	d.logger.Debugw("portaudio input opened", "device", input.Name, "sample_rate", cfg.SampleRate)
	return &portaudioHandle{stream: stream}, nil
}

type portaudioHandle struct {
	stream *portaudio.Stream

	stopOnce sync.Once
	stopErr  error
}

func (h *portaudioHandle) Stop() error {
	h.stopOnce.Do(func() {
		if err := h.stream.Stop(); err != nil {
			h.stopErr = err
		}
		if err := h.stream.Close(); err != nil && h.stopErr == nil {
			h.stopErr = err
		}
		if err := portaudio.Terminate(); err != nil && h.stopErr == nil {
			h.stopErr = err
		}
	})
	return h.stopErr
}
