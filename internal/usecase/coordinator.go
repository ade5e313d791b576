package usecase

import (
	"errors"
	"sync"

	"voicedesc/internal/domain"
	"voicedesc/internal/logger"
	"voicedesc/internal/ports"
)

// SessionToken ties a pipeline run to the description generation it started in.
type SessionToken struct {
	ID         string
	generation uint64
	inFlight   bool
}

// DescriptionCoordinator owns the description value and the transcription status.
//
// Manual edits and transcripts both write the value; the last write wins unless
// discardStale is set, in which case a transcript is dropped when a manual edit
// or a newer session happened after its session started.
type DescriptionCoordinator struct {
	events       ports.EventSink
	log          *logger.Logger
	discardStale bool

	mu         sync.Mutex
	value      string
	inFlight   int
	lastErr    *domain.PipelineError
	generation uint64
	onChange   func(string)

	// Notifications queued under mu in write order and delivered by one
	// goroutine at a time with no lock held.
	queue       []func()
	dispatching bool
}

func NewDescriptionCoordinator(initial string, events ports.EventSink, discardStale bool, log *logger.Logger) *DescriptionCoordinator {
	if log == nil {
		log = logger.Nop()
	}
	return &DescriptionCoordinator{
		events:       events,
		log:          log.WithComponent("coordinator"),
		discardStale: discardStale,
		value:        initial,
		onChange:     events.DescriptionChanged,
	}
}

// SetOnChange replaces the caller's change callback. Nil restores the event sink.
func (c *DescriptionCoordinator) SetOnChange(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		fn = c.events.DescriptionChanged
	}
	c.onChange = fn
}

// Value returns the current description.
func (c *DescriptionCoordinator) Value() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Transcribing reports whether any session is waiting on the transcription service.
func (c *DescriptionCoordinator) Transcribing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight > 0
}

// LastError returns the latest recorded pipeline error, if any.
func (c *DescriptionCoordinator) LastError() *domain.PipelineError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *DescriptionCoordinator) fillStatus(status *domain.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status.Description = c.value
	status.Transcribing = c.inFlight > 0
	if c.lastErr != nil {
		status.ErrorCode = c.lastErr.Code
		status.Error = c.lastErr.Message()
	}
}

// Edit replaces the description with text typed by the caller.
func (c *DescriptionCoordinator) Edit(text string) {
	c.mu.Lock()
	c.value = text
	c.generation++
	c.notifyChangeLocked(text)
	c.mu.Unlock()

	c.dispatch()
}

// BeginSession issues the token for a newly started recording session.
func (c *DescriptionCoordinator) BeginSession(sessionID string) *SessionToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return &SessionToken{ID: sessionID, generation: c.generation}
}

// RecordingUploaded marks the session as transcribing and clears the prior error.
func (c *DescriptionCoordinator) RecordingUploaded(token *SessionToken, publicURL string) {
	c.mu.Lock()
	wasTranscribing := c.inFlight > 0
	if !token.inFlight {
		token.inFlight = true
		c.inFlight++
	}
	c.lastErr = nil
	if !wasTranscribing {
		c.enqueueLocked(func() { c.events.TranscribingChanged(true) })
	}
	c.mu.Unlock()

	c.log.Info("transcription requested", map[string]interface{}{
		logger.FieldSessionID: token.ID,
		"url":                 publicURL,
	})
	c.dispatch()
}

// ApplyTranscript writes recognized text into the description. It reports false
// when the transcript was discarded as stale.
func (c *DescriptionCoordinator) ApplyTranscript(token *SessionToken, text string) bool {
	c.mu.Lock()
	stale := c.discardStale && token.generation != c.generation
	if !stale {
		c.value = text
		c.notifyChangeLocked(text)
	}
	c.finishLocked(token)
	c.mu.Unlock()

	if stale {
		c.log.Warn("stale transcript discarded", map[string]interface{}{logger.FieldSessionID: token.ID})
	} else {
		c.log.Info("transcript applied", map[string]interface{}{logger.FieldSessionID: token.ID, "chars": len(text)})
	}
	c.dispatch()
	return !stale
}

// Fail records err as the single user-facing error. The description is left unchanged.
// token may be nil for failures that happen before a session exists.
func (c *DescriptionCoordinator) Fail(token *SessionToken, err error) {
	var pe *domain.PipelineError
	if !errors.As(err, &pe) {
		pe = domain.NewPipelineError(domain.ErrorCodeTranscriptionService, "unclassified pipeline failure", err)
	}

	c.mu.Lock()
	c.finishLocked(token)
	c.lastErr = pe
	c.enqueueLocked(func() { c.events.PipelineError(pe.Code, pe.Message()) })
	c.mu.Unlock()

	fields := map[string]interface{}{
		"code":            string(pe.Code),
		logger.FieldError: pe,
	}
	if token != nil {
		fields[logger.FieldSessionID] = token.ID
	}
	if pe.Status != 0 {
		fields["status"] = pe.Status
	}
	c.log.Error("pipeline failed", fields)
	c.dispatch()
}

// finishLocked ends the token's transcription and queues the flag change when
// it was the last one in flight.
func (c *DescriptionCoordinator) finishLocked(token *SessionToken) {
	if token == nil || !token.inFlight {
		return
	}
	token.inFlight = false
	c.inFlight--
	if c.inFlight == 0 {
		c.enqueueLocked(func() { c.events.TranscribingChanged(false) })
	}
}

// notifyChangeLocked queues a change notification. The callback is looked up at
// delivery time so a replacement applies to the next notification.
func (c *DescriptionCoordinator) notifyChangeLocked(text string) {
	c.enqueueLocked(func() {
		c.mu.Lock()
		notify := c.onChange
		c.mu.Unlock()
		notify(text)
	})
}

func (c *DescriptionCoordinator) enqueueLocked(fn func()) {
	c.queue = append(c.queue, fn)
}

// dispatch delivers queued notifications unless another goroutine already is.
// A write made from inside a callback is delivered after that callback returns.
func (c *DescriptionCoordinator) dispatch() {
	c.mu.Lock()
	if c.dispatching {
		c.mu.Unlock()
		return
	}
	c.dispatching = true
	defer func() {
		c.dispatching = false
		c.mu.Unlock()
	}()

	for len(c.queue) > 0 {
		fn := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
}
