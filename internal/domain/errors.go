package domain

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a pipeline failure kind.
type ErrorCode string

const (
	ErrorCodeDeviceUnavailable      ErrorCode = "device_unavailable"
	ErrorCodeUploadFailed           ErrorCode = "upload_failed"
	ErrorCodeUploadResolutionFailed ErrorCode = "upload_resolution_failed"
	ErrorCodeMalformedTranscription ErrorCode = "malformed_transcription_response"
	ErrorCodeTranscriptionService   ErrorCode = "transcription_service_error"
)

// PipelineError is the error type returned at every stage boundary.
type PipelineError struct {
	Code ErrorCode
	// Detail is the diagnostic text that goes to the log.
	Detail string
	// Status and Body are set for transcription service responses.
	Status int
	Body   string
	Cause  error
}

func (e *PipelineError) Error() string {
	msg := string(e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (cause: %v)", msg, e.Cause)
	}
	return msg
}

func (e *PipelineError) Unwrap() error { return e.Cause }

// Message returns the user-facing text for the error.
func (e *PipelineError) Message() string {
	return UserMessage(e.Code)
}

// NewPipelineError creates a PipelineError with a diagnostic detail.
func NewPipelineError(code ErrorCode, detail string, cause error) *PipelineError {
	return &PipelineError{Code: code, Detail: detail, Cause: cause}
}

// DeviceUnavailable wraps a recording device acquisition failure.
func DeviceUnavailable(cause error) *PipelineError {
	return NewPipelineError(ErrorCodeDeviceUnavailable, "recording device could not be acquired", cause)
}

// UploadFailed wraps an object store failure.
func UploadFailed(key string, cause error) *PipelineError {
	return NewPipelineError(ErrorCodeUploadFailed, fmt.Sprintf("upload of %q failed", key), cause)
}

// UploadResolutionFailed reports an empty public URL for an uploaded key.
func UploadResolutionFailed(key string) *PipelineError {
	return NewPipelineError(ErrorCodeUploadResolutionFailed, fmt.Sprintf("no public url for %q", key), nil)
}

// MalformedTranscription reports a response without a usable transcript.
func MalformedTranscription(detail string, cause error) *PipelineError {
	return NewPipelineError(ErrorCodeMalformedTranscription, detail, cause)
}

// TranscriptionServiceError reports a non-success response or transport failure.
func TranscriptionServiceError(status int, body string, cause error) *PipelineError {
	detail := fmt.Sprintf("API Error %d: %s", status, body)
	if status == 0 {
		detail = "transcription request failed"
	}
	return &PipelineError{
		Code:   ErrorCodeTranscriptionService,
		Detail: detail,
		Status: status,
		Body:   body,
		Cause:  cause,
	}
}

// CodeOf extracts the pipeline error code from err, or "" when err is not a PipelineError.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// UserMessage maps an error code to the single message shown to the caller.
func UserMessage(code ErrorCode) string {
	switch code {
	case ErrorCodeDeviceUnavailable:
		return "Microphone is unavailable. Check permissions and try again."
	case ErrorCodeUploadFailed:
		return "Failed to upload recording. Please try again."
	case ErrorCodeUploadResolutionFailed:
		return "Failed to access uploaded audio."
	case ErrorCodeMalformedTranscription, ErrorCodeTranscriptionService:
		return "Failed to transcribe audio. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
