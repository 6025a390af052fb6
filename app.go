package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"flowstate/internal/bootstrap"
	"flowstate/internal/domain"
	"flowstate/internal/usecase"
)

const (
	eventSession     = "flowstate:session"
	eventStatus      = "flowstate:status"
	eventLevel       = "flowstate:level"
	eventTranslation = "flowstate:translation"
	eventError       = "flowstate:error"
)

// App is the Wails application root.
type App struct {
	ctx      context.Context
	services bootstrap.Services
	bootErr  error
}

// Status combines both roles for the UI.
type Status struct {
	Speaker  domain.Status `json:"speaker"`
	Listener domain.Status `json:"listener"`
	Message  string        `json:"message,omitempty"`
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}
	a.services = services

	if addr := services.Config.Log.MetricsAddr; addr != "" {
		go func() {
			if err := services.Metrics.Serve(ctx, addr, services.Logger); err != nil {
				services.Logger.Warnw("metrics server stopped", "addr", addr, "error", err)
			}
		}()
	}
	a.SessionStateChanged(domain.RoleSpeaker, domain.SessionStateIdle, domain.SessionReasonReady)
	a.SessionStateChanged(domain.RoleListener, domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(_ context.Context) {
	if a.bootErr != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.services.Shutdown(ctx)
}

// StartSpeaker starts capturing and streaming microphone audio.
func (a *App) StartSpeaker(req usecase.SpeakerRequest) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Speaker.Start(a.ctx, req); err != nil {
		if errors.Is(err, usecase.ErrStartSuperseded) {
			return a.services.Speaker.Status(), nil
		}
		return a.services.Speaker.Status(), err
	}
	return a.services.Speaker.Status(), nil
}

// StopSpeaker ends the speaker session. It is safe to call when nothing is running.
func (a *App) StopSpeaker() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Speaker.Stop(a.ctx); err != nil {
		return domain.Status{}, err
	}
	return a.services.Speaker.Status(), nil
}

// StartListener joins a room and starts receiving translations.
func (a *App) StartListener(req usecase.ListenerRequest) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Listener.Start(a.ctx, req); err != nil {
		if errors.Is(err, usecase.ErrStartSuperseded) {
			return a.services.Listener.Status(), nil
		}
		return a.services.Listener.Status(), err
	}
	return a.services.Listener.Status(), nil
}

// StopListener leaves the room and drops pending playback.
func (a *App) StopListener() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Listener.Stop(a.ctx); err != nil {
		return domain.Status{}, err
	}
	return a.services.Listener.Status(), nil
}

// SetAudioEnabled mutes or unmutes translated audio.
func (a *App) SetAudioEnabled(enabled bool) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Listener.SetAudioEnabled(enabled); err != nil {
		a.SessionError(domain.ErrorCodeConnection, err.Error())
	}
	return a.services.Listener.Status(), nil
}

// GetStatus returns both roles' current status.
func (a *App) GetStatus() Status {
	if a.bootErr != nil {
		failed := domain.Status{State: domain.SessionStateError, Message: a.bootErr.Error()}
		return Status{Speaker: failed, Listener: failed, Message: a.bootErr.Error()}
	}
	if a.services.Speaker == nil {
		return Status{
			Speaker:  domain.Status{Role: domain.RoleSpeaker, State: domain.SessionStateIdle},
			Listener: domain.Status{Role: domain.RoleListener, State: domain.SessionStateIdle},
		}
	}
	return Status{Speaker: a.services.Speaker.Status(), Listener: a.services.Listener.Status()}
}

// GetHistory returns received translations, newest first.
func (a *App) GetHistory() []domain.TranslationEntry {
	if a.services.Listener == nil {
		return []domain.TranslationEntry{}
	}
	return a.services.Listener.History()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	cfg := a.services.Config
	return map[string]string{
		"serverUrl":        cfg.Server.URL,
		"room":             cfg.Server.Room,
		"inputLang":        cfg.Server.InputLang,
		"targetLang":       cfg.Server.TargetLang,
		"storageMethod":    cfg.Server.StorageMethod,
		"audioBackend":     cfg.Audio.Backend,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"sampleRate":       strconv.Itoa(cfg.Audio.SampleRate),
		"historySize":      strconv.Itoa(cfg.Listener.HistorySize),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services.Speaker == nil || a.services.Listener == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(role domain.Role, state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"role":    string(role),
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// StatusChanged emits the status label shown under each role's controls.
func (a *App) StatusChanged(role domain.Role, label string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventStatus, map[string]string{
		"role":  string(role),
		"label": label,
	})
}

// LevelChanged feeds the input level meter.
func (a *App) LevelChanged(level float64) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventLevel, level)
}

// TranslationReceived emits a new translation along with the visible history.
func (a *App) TranslationReceived(entry domain.TranslationEntry) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTranslation, map[string]any{
		"entry":   entry,
		"history": a.historyTexts(),
	})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) historyTexts() []string {
	if a.services.Listener == nil {
		return []string{}
	}
	return a.services.Listener.HistoryTexts()
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonConnecting:
		return "Connecting to the translation server..."
	case domain.SessionReasonStreaming:
		return "Recording and streaming..."
	case domain.SessionReasonListening:
		return "Listening for translations..."
	case domain.SessionReasonRestarted:
		return "Session restarted; previous connection closed"
	case domain.SessionReasonSilenceDetected:
		return "Waiting for your voice..."
	case domain.SessionReasonVoiceResumed:
		return "Voice detected"
	case domain.SessionReasonStopped:
		return "Stopped"
	case domain.SessionReasonRemoteClosed:
		return "Server closed the connection"
	case domain.SessionReasonPermissionDenied:
		return "Microphone access denied"
	case domain.SessionReasonConnectionFailed:
		return "Connection failed"
	case domain.SessionReasonConfigurationFailed:
		return "Room configuration failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermission:
		return "Microphone unavailable"
	case domain.ErrorCodeConnection:
		return "Connection error"
	case domain.ErrorCodeProtocol:
		return "Unexpected server message"
	case domain.ErrorCodePlayback:
		return "Could not play translated audio"
	case domain.ErrorCodeConfiguration:
		return "Room configuration failed"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeInvalidInput:
		return "Invalid room or language"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
