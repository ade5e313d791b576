package domain

import "time"

// CaptureState models the record/stop lifecycle of the recording device.
type CaptureState string

const (
	CaptureStateIdle      CaptureState = "idle"
	CaptureStateRecording CaptureState = "recording"
	CaptureStateStopped   CaptureState = "stopped"
)

// StateReason provides a structured reason for capture transitions.
type StateReason string

const (
	ReasonReady              StateReason = "ready"
	ReasonRecordingStarted   StateReason = "recording_started"
	ReasonRecordingRestarted StateReason = "recording_restarted"
	ReasonRecordingStopped   StateReason = "recording_stopped"
	ReasonRecordingDiscarded StateReason = "recording_discarded"
	ReasonDeviceUnavailable  StateReason = "device_unavailable"
)

// Single encoding produced by the recording device.
const (
	RecordingContentType = "audio/webm"
	RecordingExtension   = "webm"
)

// Recording is the assembled payload of one finished capture session.
type Recording struct {
	SessionID   string
	Name        string
	Payload     []byte
	ContentType string
	CreatedAt   time.Time
}

// StoredRef is what the object store reports after a successful put.
type StoredRef struct {
	Key  string
	Path string
}

// StoredRecording is an uploaded recording together with its public URL.
type StoredRecording struct {
	Key       string
	PublicURL string
}

// StopResult is returned once capture has been finalized and handed off.
type StopResult struct {
	Stopped   bool   `json:"stopped"`
	SessionID string `json:"sessionId,omitempty"`
	Key       string `json:"key,omitempty"`
	Bytes     int    `json:"bytes"`
}

// Status summarizes the caller-visible state of the pipeline.
type Status struct {
	Capture      CaptureState `json:"capture"`
	Description  string       `json:"description"`
	Transcribing bool         `json:"transcribing"`
	ErrorCode    ErrorCode    `json:"errorCode,omitempty"`
	Error        string       `json:"error,omitempty"`
}
