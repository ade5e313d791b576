package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"voicedesc/internal/ports"
)

const (
	startupGrace = 250 * time.Millisecond
	stopTimeout  = 1200 * time.Millisecond
	pipeDrain    = 500 * time.Millisecond
)

// Recorder captures the microphone with ffmpeg and emits Opus-in-WebM fragments.
type Recorder struct {
	command string
}

func NewRecorder(command string) *Recorder {
	if strings.TrimSpace(command) == "" {
		command = "ffmpeg"
	}
	return &Recorder{command: command}
}

// Start launches ffmpeg. The device is considered unavailable when the process
// fails to launch or exits during the startup grace window.
func (r *Recorder) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	pr, pw := io.Pipe()

	cmd := exec.CommandContext(ctx, r.command, buildArgs(cfg)...)
	cmd.Stdout = pw
	cmd.WaitDelay = pipeDrain
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, fmt.Errorf("start %s: %w", r.command, err)
	}

	exited := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		exited <- err
		close(exited)
	}()

	select {
	case err := <-exited:
		_ = pr.Close()
		if err != nil {
			return nil, fmt.Errorf("recorder exited before capture started: %w: %s", err, stderr.Trimmed())
		}
		return nil, errors.New("recorder exited before capture started")
	case <-time.After(startupGrace):
	}

	return &recorderSession{
		stdout:  pr,
		stderr:  stderr,
		process: cmd.Process,
		exited:  exited,
	}, nil
}

func buildArgs(cfg ports.AudioConfig) []string {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Bitrate == "" {
		cfg.Bitrate = "32k"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-c:a", "libopus",
		"-b:a", cfg.Bitrate,
		"-f", "webm",
		"-",
	}
}

type recorderSession struct {
	stdout *io.PipeReader
	stderr *syncBuffer

	process *os.Process
	exited  <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *recorderSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *recorderSession) Close() error {
	return s.Stop()
}

// Stop asks ffmpeg to finalize the container and escalates to a kill when it
// does not exit in time. Reads return EOF once the process is gone.
func (s *recorderSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		var err error
		select {
		case err = <-s.exited:
		case <-time.After(stopTimeout):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err = <-s.exited
		}
		s.stopErr = normalizeExit(err)

		if s.stopErr != nil {
			if detail := s.stderr.Trimmed(); detail != "" {
				s.stopErr = fmt.Errorf("%w: %s", s.stopErr, detail)
			}
		}
	})
	return s.stopErr
}

// normalizeExit treats signal-induced exits and pipe drain timeouts as a clean stop.
func normalizeExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	return err
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Trimmed() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
