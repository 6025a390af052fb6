package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowstate/internal/logging"
	"flowstate/internal/ports"
)

// FFMPEGDevice captures microphone audio through an ffmpeg child process emitting f32le.
type FFMPEGDevice struct {
	command string
	logger  *zap.SugaredLogger
}

func NewFFMPEGDevice(command string, logger *zap.SugaredLogger) *FFMPEGDevice {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGDevice{command: command, logger: logging.OrNop(logger)}
}

func (d *FFMPEGDevice) Open(ctx context.Context, cfg ports.AudioConfig, onBlock func([]float32)) (ports.AudioHandle, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.BlockFrames <= 0 {
		cfg.BlockFrames = 128
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	}

	cmd := exec.CommandContext(ctx, d.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	handle := &ffmpegHandle{
		stdout:   stdout,
		stderr:   &stderr,
		process:  cmd.Process,
		waitErr:  make(chan error, 1),
		readDone: make(chan struct{}),
		logger:   d.logger,
	}

	// Blocks are read before Wait so buffered output is not lost when the process exits.
	go handle.readBlocks(cfg.BlockFrames, onBlock)
	go func() {
		<-handle.readDone
		handle.waitErr <- cmd.Wait()
		close(handle.waitErr)
	}()

	select {
	case err := <-handle.waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(250 * time.Millisecond):
	}

	d.logger.Debugw("ffmpeg capture started", "command", d.command, "input", cfg.InputDevice, "format", cfg.InputFormat)
	return handle, nil
}

type ffmpegHandle struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer
	logger *zap.SugaredLogger

	process  *os.Process
	waitErr  chan error
	readDone chan struct{}

	stopMu   sync.Mutex
	stopping bool

	stopOnce sync.Once
	stopErr  error
}

func (h *ffmpegHandle) readBlocks(frames int, onBlock func([]float32)) {
	defer close(h.readDone)

	raw := make([]byte, frames*4)
	block := make([]float32, frames)
	for {
		if _, err := io.ReadFull(h.stdout, raw); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !h.isStopping() {
				h.logger.Warnw("ffmpeg capture read failed", "error", err)
			}
			return
		}
		if h.isStopping() {
			return
		}
		for i := range block {
			block[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		onBlock(block)
	}
}

func (h *ffmpegHandle) isStopping() bool {
	h.stopMu.Lock()
	defer h.stopMu.Unlock()
	return h.stopping
}

func (h *ffmpegHandle) Stop() error {
	h.stopOnce.Do(func() {
		h.stopMu.Lock()
		h.stopping = true
		h.stopMu.Unlock()

		if h.process != nil {
			_ = h.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-h.waitErr:
			if ok {
				h.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if h.process != nil {
				_ = h.process.Kill()
			}
			// Grandchildren may still hold the pipe open; unblock the reader.
			_ = h.stdout.Close()
			err, ok := <-h.waitErr
			if ok {
				h.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := h.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if h.stopErr == nil {
				h.stopErr = closeErr
			}
		}

		if h.stopErr != nil && h.stderr != nil && h.stderr.Len() > 0 {
			h.stopErr = fmt.Errorf("%w: %s", h.stopErr, stringsTrimSpaceSafe(h.stderr.String()))
		}
	})

	return h.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
