package ports

import (
	"context"
	"io"

	"voicedesc/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	Bitrate     string
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session. Reads yield encoded fragments.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture acquires the recording device.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// ObjectStore persists recordings and resolves their public location.
type ObjectStore interface {
	Put(ctx context.Context, key string, payload []byte, contentType string, overwrite bool) (domain.StoredRef, error)
	// PublicURL returns "" when no URL can be resolved for key.
	PublicURL(key string) string
}

// Transcriber turns a public audio URL into recognized text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// TextRules transforms recognized text using deterministic rules.
type TextRules interface {
	Apply(text string) (string, error)
}

// EventSink is the caller-facing surface of the pipeline.
type EventSink interface {
	CaptureStateChanged(state domain.CaptureState, reason domain.StateReason)
	UploadComplete(key string)
	DescriptionChanged(text string)
	TranscribingChanged(active bool)
	PipelineError(code domain.ErrorCode, message string)
}
