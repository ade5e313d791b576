package usecase

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"voicedesc/internal/domain"
	"voicedesc/internal/logger"
	"voicedesc/internal/ports"
)

const tracerName = "voicedesc/internal/usecase"

// Config controls the description pipeline.
type Config struct {
	Capture            CaptureConfig
	InitialDescription string
	// DiscardStaleTranscripts drops transcripts overtaken by a manual edit or newer session.
	DiscardStaleTranscripts bool
	TracerProvider          trace.TracerProvider
}

// Pipeline sequences capture, upload and transcription for each recording session
// and merges the result into the description.
type Pipeline struct {
	capture     *CaptureController
	upload      uploadStage
	transcriber ports.Transcriber
	rules       ports.TextRules
	coordinator *DescriptionCoordinator
	events      ports.EventSink
	tracer      trace.Tracer
	log         *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending *SessionToken
}

func NewPipeline(
	audio ports.AudioCapture,
	store ports.ObjectStore,
	transcriber ports.Transcriber,
	rules ports.TextRules,
	events ports.EventSink,
	cfg Config,
	log *logger.Logger,
) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		capture:     NewCaptureController(audio, cfg.Capture, log),
		upload:      newUploadStage(store, log),
		transcriber: transcriber,
		rules:       rules,
		coordinator: NewDescriptionCoordinator(cfg.InitialDescription, events, cfg.DiscardStaleTranscripts, log),
		events:      events,
		tracer:      tp.Tracer(tracerName),
		log:         log.WithComponent("pipeline"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// StartRecording acquires the recording device and begins a new session.
func (p *Pipeline) StartRecording(ctx context.Context) error {
	sessionID, restarted, err := p.capture.Start(ctx)
	if err != nil {
		p.setPending(nil)
		p.coordinator.Fail(nil, err)
		p.events.CaptureStateChanged(domain.CaptureStateIdle, domain.ReasonDeviceUnavailable)
		return err
	}

	p.setPending(p.coordinator.BeginSession(sessionID))

	reason := domain.ReasonRecordingStarted
	if restarted {
		reason = domain.ReasonRecordingRestarted
	}
	p.events.CaptureStateChanged(domain.CaptureStateRecording, reason)
	return nil
}

// StopRecording finalizes the capture and hands the recording to the upload and
// transcription stages, which continue in the background. Stopping while idle is a no-op.
func (p *Pipeline) StopRecording(ctx context.Context) (domain.StopResult, error) {
	recording, err := p.capture.Stop(ctx)
	if errors.Is(err, ErrNoActiveSession) {
		return domain.StopResult{}, nil
	}
	if err != nil {
		return domain.StopResult{}, err
	}
	p.events.CaptureStateChanged(domain.CaptureStateStopped, domain.ReasonRecordingStopped)

	token := p.takePending()
	if token == nil || token.ID != recording.SessionID {
		token = p.coordinator.BeginSession(recording.SessionID)
	}

	p.wg.Add(1)
	go p.process(token, recording)

	p.events.CaptureStateChanged(domain.CaptureStateIdle, domain.ReasonReady)
	return domain.StopResult{
		Stopped:   true,
		SessionID: recording.SessionID,
		Key:       recording.Name,
		Bytes:     len(recording.Payload),
	}, nil
}

// Abort discards an in-progress capture.
func (p *Pipeline) Abort() error {
	if err := p.capture.Abort(); err != nil {
		return err
	}
	p.setPending(nil)
	p.events.CaptureStateChanged(domain.CaptureStateIdle, domain.ReasonRecordingDiscarded)
	return nil
}

// EditDescription applies a manual edit. It is never blocked by transcription.
func (p *Pipeline) EditDescription(text string) {
	p.coordinator.Edit(text)
}

// SetOnChange replaces the caller's description callback.
func (p *Pipeline) SetOnChange(fn func(string)) {
	p.coordinator.SetOnChange(fn)
}

// Status returns the caller-visible pipeline state.
func (p *Pipeline) Status() domain.Status {
	status := domain.Status{Capture: p.capture.State()}
	p.coordinator.fillStatus(&status)
	return status
}

// Wait blocks until every in-flight session has finished processing.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close releases the device, cancels in-flight processing and waits for it.
func (p *Pipeline) Close() {
	_ = p.capture.Abort()
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) process(token *SessionToken, recording domain.Recording) {
	defer p.wg.Done()

	publicURL, err := p.uploadRecording(token, recording)
	if err != nil {
		p.coordinator.Fail(token, err)
		return
	}

	p.coordinator.RecordingUploaded(token, publicURL)

	text, err := p.transcribe(token, publicURL)
	if err != nil {
		p.coordinator.Fail(token, err)
		return
	}
	p.coordinator.ApplyTranscript(token, text)
}

func (p *Pipeline) uploadRecording(token *SessionToken, recording domain.Recording) (string, error) {
	ctx, span := p.tracer.Start(p.ctx, "voicedesc.upload", trace.WithAttributes(
		attribute.String("voicedesc.session_id", token.ID),
		attribute.String("voicedesc.key", recording.Name),
		attribute.Int("voicedesc.bytes", len(recording.Payload)),
	))
	defer span.End()

	key, err := p.upload.Put(ctx, recording)
	if err != nil {
		recordSpanError(span, err)
		return "", err
	}
	p.events.UploadComplete(key)

	publicURL, err := p.upload.Resolve(key)
	if err != nil {
		recordSpanError(span, err)
		return "", err
	}
	return publicURL, nil
}

func (p *Pipeline) transcribe(token *SessionToken, publicURL string) (string, error) {
	ctx, span := p.tracer.Start(p.ctx, "voicedesc.transcribe", trace.WithAttributes(
		attribute.String("voicedesc.session_id", token.ID),
	))
	defer span.End()

	text, err := p.transcriber.Transcribe(ctx, publicURL)
	if err != nil {
		recordSpanError(span, err)
		return "", err
	}
	if p.rules == nil {
		return text, nil
	}

	transformed, err := p.rules.Apply(text)
	if err != nil {
		err = domain.MalformedTranscription("transcript rules failed", err)
		recordSpanError(span, err)
		return "", err
	}
	return transformed, nil
}

func (p *Pipeline) setPending(token *SessionToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = token
}

func (p *Pipeline) takePending() *SessionToken {
	p.mu.Lock()
	defer p.mu.Unlock()
	token := p.pending
	p.pending = nil
	return token
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	if code := domain.CodeOf(err); code != "" {
		span.SetAttributes(attribute.String("voicedesc.error_code", string(code)))
	}
	span.SetStatus(codes.Error, err.Error())
}
