package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPortAudio = "portaudio"
	BackendFFMPEG    = "ffmpeg"
)

// Config stores runtime configuration for the speaker and listener apps.
type Config struct {
	Server   ServerConfig
	Audio    AudioConfig
	Detector DetectorConfig
	Listener ListenerConfig
	Session  SessionConfig
	Log      LogConfig
}

type ServerConfig struct {
	URL              string
	Room             string
	InputLang        string
	TargetLang       string
	StorageMethod    string
	ConfigureEnabled bool
}

type AudioConfig struct {
	Backend         string
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	BlockFrames     int
	HandoffDepth    int
}

type DetectorConfig struct {
	Threshold float64
	Hold      time.Duration
	Decay     float64
}

type ListenerConfig struct {
	HistorySize        int
	AudioEnabled       bool
	PlaybackSampleRate int
}

type SessionConfig struct {
	StopGrace time.Duration
}

type LogConfig struct {
	Level       string
	MetricsAddr string
}

// Load reads an optional .env file and resolves configuration from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Server: ServerConfig{
			URL:              envOrDefault("FLOWSTATE_SERVER_URL", "http://localhost:8000"),
			Room:             envOrDefault("FLOWSTATE_ROOM", "default"),
			InputLang:        envOrDefault("FLOWSTATE_INPUT_LANG", ""),
			TargetLang:       envOrDefault("FLOWSTATE_TARGET_LANG", "en"),
			StorageMethod:    envOrDefault("FLOWSTATE_STORAGE_METHOD", "NO_RECORD"),
			ConfigureEnabled: envOrDefaultBool("FLOWSTATE_CONFIGURE_ENABLED", true),
		},
		Audio: AudioConfig{
			Backend:         strings.ToLower(envOrDefault("FLOWSTATE_AUDIO_BACKEND", BackendPortAudio)),
			RecorderCommand: envOrDefault("FLOWSTATE_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("FLOWSTATE_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     firstNonEmpty(os.Getenv("FLOWSTATE_AUDIO_INPUT_DEVICE"), "default"),
			SampleRate:      envOrDefaultInt("FLOWSTATE_SAMPLE_RATE", 16000),
			BlockFrames:     envOrDefaultInt("FLOWSTATE_BLOCK_FRAMES", 128),
			HandoffDepth:    envOrDefaultInt("FLOWSTATE_HANDOFF_DEPTH", 1),
		},
		Detector: DetectorConfig{
			Threshold: envOrDefaultFloat("FLOWSTATE_SILENCE_THRESHOLD", 0.01),
			Hold:      time.Duration(firstNonNegativeInt("FLOWSTATE_SILENCE_HOLD_MS", 5000)) * time.Millisecond,
			Decay:     envOrDefaultFloat("FLOWSTATE_LEVEL_DECAY", 0.8),
		},
		Listener: ListenerConfig{
			HistorySize:        envOrDefaultInt("FLOWSTATE_HISTORY_SIZE", 3),
			AudioEnabled:       envOrDefaultBool("FLOWSTATE_AUDIO_ENABLED", true),
			PlaybackSampleRate: envOrDefaultInt("FLOWSTATE_PLAYBACK_SAMPLE_RATE", 44100),
		},
		Session: SessionConfig{
			StopGrace: time.Duration(firstNonNegativeInt("FLOWSTATE_STOP_GRACE_MS", 4000)) * time.Millisecond,
		},
		Log: LogConfig{
			Level:       envOrDefault("FLOWSTATE_LOG_LEVEL", "info"),
			MetricsAddr: envOrDefault("FLOWSTATE_METRICS_ADDR", ""),
		},
	}

	if cfg.Audio.Backend != BackendPortAudio && cfg.Audio.Backend != BackendFFMPEG {
		return Config{}, fmt.Errorf("unsupported audio backend %q", cfg.Audio.Backend)
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.BlockFrames <= 0 {
		cfg.Audio.BlockFrames = 128
	}
	if cfg.Audio.HandoffDepth <= 0 {
		cfg.Audio.HandoffDepth = 1
	}
	if cfg.Detector.Threshold <= 0 {
		cfg.Detector.Threshold = 0.01
	}
	if cfg.Detector.Decay <= 0 || cfg.Detector.Decay >= 1 {
		cfg.Detector.Decay = 0.8
	}
	if cfg.Listener.HistorySize <= 0 {
		cfg.Listener.HistorySize = 3
	}
	if cfg.Listener.PlaybackSampleRate <= 0 {
		cfg.Listener.PlaybackSampleRate = 44100
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func firstNonNegativeInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err == nil && parsed >= 0 {
		return parsed
	}
	return fallback
}
