package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voicedesc/internal/bootstrap"
	"voicedesc/internal/config"
	"voicedesc/internal/domain"
	"voicedesc/internal/usecase"
)

const (
	eventCapture      = "voicedesc:capture"
	eventUpload       = "voicedesc:upload"
	eventDescription  = "voicedesc:description"
	eventTranscribing = "voicedesc:transcribing"
	eventError        = "voicedesc:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	pipeline *usecase.Pipeline
	services bootstrap.Services
	cfg      config.Config
	bootErr  error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.emit(eventError, map[string]string{"code": "startup", "message": "Startup failed", "detail": err.Error()})
		return
	}

	a.services = services
	a.cfg = services.Config
	a.pipeline = services.Pipeline
	a.CaptureStateChanged(domain.CaptureStateIdle, domain.ReasonReady)
}

func (a *App) shutdown(ctx context.Context) {
	if a.pipeline == nil {
		return
	}
	if err := a.services.Shutdown(ctx); err != nil {
		a.services.Logger.Warn("shutdown incomplete", map[string]interface{}{"error": err.Error()})
	}
}

// StartRecording opens the microphone and begins capture.
func (a *App) StartRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.pipeline.StartRecording(a.ctx); err != nil {
		return a.pipeline.Status(), err
	}
	return a.pipeline.Status(), nil
}

// StopRecording finalizes capture and hands the recording to upload and transcription.
func (a *App) StopRecording() (domain.StopResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.StopResult{}, err
	}
	return a.pipeline.StopRecording(a.ctx)
}

// AbortRecording discards an in-progress recording.
func (a *App) AbortRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.pipeline.Abort(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		return err
	}
	return nil
}

// EditDescription applies a manual edit from the description field.
func (a *App) EditDescription(text string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	a.pipeline.EditDescription(text)
	return a.pipeline.Status(), nil
}

// GetStatus returns the current capture and description state.
func (a *App) GetStatus() domain.Status {
	if a.pipeline == nil {
		if a.bootErr != nil {
			return domain.Status{Capture: domain.CaptureStateIdle, Error: a.bootErr.Error()}
		}
		return domain.Status{Capture: domain.CaptureStateIdle}
	}
	return a.pipeline.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"storage":          a.cfg.Storage.Provider,
		"transcription":    a.cfg.Transcription.BaseURL,
		"rulesFile":        a.cfg.Rules.Path,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.pipeline == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// CaptureStateChanged emits capture lifecycle updates to the frontend.
func (a *App) CaptureStateChanged(state domain.CaptureState, reason domain.StateReason) {
	a.emit(eventCapture, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": captureReasonMessage(reason),
	})
}

func (a *App) UploadComplete(key string) {
	a.emit(eventUpload, map[string]string{"key": key})
}

func (a *App) DescriptionChanged(text string) {
	a.emit(eventDescription, map[string]string{"text": text})
}

func (a *App) TranscribingChanged(active bool) {
	a.emit(eventTranscribing, map[string]bool{"active": active})
}

// PipelineError shows the caller-facing message for a failed stage.
func (a *App) PipelineError(code domain.ErrorCode, message string) {
	a.emit(eventError, map[string]string{"code": string(code), "message": message})
}

func (a *App) emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}

func captureReasonMessage(reason domain.StateReason) string {
	switch reason {
	case domain.ReasonReady:
		return "Ready"
	case domain.ReasonRecordingStarted:
		return "Recording"
	case domain.ReasonRecordingRestarted:
		return "Recording restarted; previous capture discarded"
	case domain.ReasonRecordingStopped:
		return "Recording stopped. Transcribing..."
	case domain.ReasonRecordingDiscarded:
		return "Recording discarded"
	case domain.ReasonDeviceUnavailable:
		return domain.UserMessage(domain.ErrorCodeDeviceUnavailable)
	default:
		return ""
	}
}
