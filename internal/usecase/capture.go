package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicedesc/internal/domain"
	"voicedesc/internal/logger"
	"voicedesc/internal/ports"
)

var ErrNoActiveSession = errors.New("no active recording session")

// CaptureConfig controls how the recording device is driven.
type CaptureConfig struct {
	Audio     ports.AudioConfig
	ChunkSize int
}

type captureSession struct {
	id     string
	cancel context.CancelFunc
	audio  ports.AudioSession
	buffer *fragmentBuffer
	done   chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

// release stops the device and waits for the pump to drain.
func (s *captureSession) release() error {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.audio.Stop()
		<-s.done
		s.cancel()
	})
	return s.releaseErr
}

// CaptureController owns the record/stop lifecycle against the recording device.
type CaptureController struct {
	audio ports.AudioCapture
	cfg   CaptureConfig
	log   *logger.Logger

	now   func() time.Time
	newID func() string

	// startMu serializes Start so that concurrent callers cannot both acquire the device.
	startMu sync.Mutex

	mu            sync.Mutex
	current       *captureSession
	lastKeyMillis int64
}

func NewCaptureController(audio ports.AudioCapture, cfg CaptureConfig, log *logger.Logger) *CaptureController {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CaptureController{
		audio: audio,
		cfg:   cfg,
		log:   log.WithComponent("capture"),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Start acquires the device and begins buffering fragments. A capture that is
// already running is discarded first and restarted reports true.
func (c *CaptureController) Start(ctx context.Context) (sessionID string, restarted bool, err error) {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.mu.Lock()
	previous := c.current
	c.current = nil
	c.mu.Unlock()

	if previous != nil {
		if err := previous.release(); err != nil {
			c.log.Warn("failed to release previous capture cleanly", map[string]interface{}{
				logger.FieldSessionID: previous.id,
				logger.FieldError:     err,
			})
		}
	}

	// The device outlives the caller's request context; only Stop or Abort end it.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	audioSession, err := c.audio.Start(sessionCtx, c.cfg.Audio)
	if err != nil {
		cancel()
		c.log.Error("recording device unavailable", map[string]interface{}{logger.FieldError: err})
		return "", previous != nil, domain.DeviceUnavailable(err)
	}

	active := &captureSession{
		id:     c.newID(),
		cancel: cancel,
		audio:  audioSession,
		buffer: newFragmentBuffer(),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.current = active
	c.mu.Unlock()

	go pumpFragments(active.audio, active.buffer, c.cfg.ChunkSize, c.log.WithFields(map[string]interface{}{
		logger.FieldSessionID: active.id,
	}), active.done)

	c.log.Info("recording started", map[string]interface{}{logger.FieldSessionID: active.id, "restarted": previous != nil})
	return active.id, previous != nil, nil
}

// Stop finalizes the device and assembles everything captured so far.
func (c *CaptureController) Stop(_ context.Context) (domain.Recording, error) {
	c.mu.Lock()
	active := c.current
	c.current = nil
	c.mu.Unlock()

	if active == nil {
		return domain.Recording{}, ErrNoActiveSession
	}

	if err := active.release(); err != nil {
		c.log.Warn("failed to stop audio capture cleanly", map[string]interface{}{
			logger.FieldSessionID: active.id,
			logger.FieldError:     err,
		})
	}

	createdAt := c.now()
	recording := domain.Recording{
		SessionID:   active.id,
		Name:        c.nextKey(createdAt),
		Payload:     active.buffer.Assemble(),
		ContentType: domain.RecordingContentType,
		CreatedAt:   createdAt,
	}

	c.log.Info("recording stopped", map[string]interface{}{
		logger.FieldSessionID: active.id,
		logger.FieldKey:       recording.Name,
		"fragments":           active.buffer.Count(),
		"bytes":               len(recording.Payload),
	})
	return recording, nil
}

// Abort discards an in-progress capture without producing a recording.
func (c *CaptureController) Abort() error {
	c.mu.Lock()
	active := c.current
	c.current = nil
	c.mu.Unlock()

	if active == nil {
		return ErrNoActiveSession
	}
	_ = active.release()
	c.log.Info("recording discarded", map[string]interface{}{logger.FieldSessionID: active.id})
	return nil
}

// State reports whether a capture is running.
func (c *CaptureController) State() domain.CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return domain.CaptureStateIdle
	}
	return domain.CaptureStateRecording
}

// nextKey names a recording after its creation time, never reusing a millisecond.
func (c *CaptureController) nextKey(at time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	millis := at.UnixMilli()
	if millis <= c.lastKeyMillis {
		millis = c.lastKeyMillis + 1
	}
	c.lastKeyMillis = millis
	return RecordingKey(millis)
}

// RecordingKey builds the storage key for a recording created at millis.
func RecordingKey(millis int64) string {
	return fmt.Sprintf("recording-%d.%s", millis, domain.RecordingExtension)
}
