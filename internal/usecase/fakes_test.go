package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"voicedesc/internal/domain"
	"voicedesc/internal/ports"
)

// fakeAudioCapture hands out sessions in order. When gate is set each call
// blocks until it is closed.
type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []*fakeAudioSession
	err      error
	calls    int
	gate     chan struct{}
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

// fakeAudioSession yields queued fragments until Stop is called, then EOF.
type fakeAudioSession struct {
	fragments chan []byte

	stopOnce  sync.Once
	mu        sync.Mutex
	stopCalls int
	stopErr   error
}

func newFakeAudioSession(fragments ...[]byte) *fakeAudioSession {
	s := &fakeAudioSession{fragments: make(chan []byte, len(fragments)+16)}
	for _, fragment := range fragments {
		s.fragments <- fragment
	}
	return s
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	fragment, ok := <-f.fragments
	if !ok {
		return 0, io.EOF
	}
	return copy(p, fragment), nil
}

func (f *fakeAudioSession) Close() error { return f.Stop() }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.fragments) })
	return f.stopErr
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type putCall struct {
	key         string
	payload     []byte
	contentType string
	overwrite   bool
}

type fakeObjectStore struct {
	mu      sync.Mutex
	err     error
	baseURL string
	puts    []putCall
}

func (f *fakeObjectStore) Put(_ context.Context, key string, payload []byte, contentType string, overwrite bool) (domain.StoredRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, putCall{key: key, payload: append([]byte(nil), payload...), contentType: contentType, overwrite: overwrite})
	if f.err != nil {
		return domain.StoredRef{}, f.err
	}
	return domain.StoredRef{Key: key, Path: "audio-records/" + key}, nil
}

func (f *fakeObjectStore) PublicURL(key string) string {
	if f.baseURL == "" {
		return ""
	}
	return f.baseURL + "/" + key
}

func (f *fakeObjectStore) snapshotPuts() []putCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]putCall, len(f.puts))
	copy(out, f.puts)
	return out
}

type transcribeReply struct {
	text string
	err  error
}

// fakeTranscriber answers from replies in order. When gate is set each call
// blocks until a value is sent on it.
type fakeTranscriber struct {
	mu      sync.Mutex
	replies []transcribeReply
	urls    []string
	started chan string
	gate    chan struct{}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioURL string) (string, error) {
	f.mu.Lock()
	index := len(f.urls)
	f.urls = append(f.urls, audioURL)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- audioURL
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", domain.TranscriptionServiceError(0, "", ctx.Err())
		}
	}

	if index >= len(f.replies) {
		return "", errors.New("no reply configured")
	}
	reply := f.replies[index]
	return reply.text, reply.err
}

func (f *fakeTranscriber) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

type fakeRules struct {
	transform func(string) string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != nil {
		return f.transform(text), nil
	}
	return text, nil
}

type stateEvent struct {
	state  domain.CaptureState
	reason domain.StateReason
}

type errEvent struct {
	code    domain.ErrorCode
	message string
}

type fakeEventSink struct {
	mu sync.Mutex

	states       []stateEvent
	uploads      []string
	descriptions []string
	transcribing []bool
	errors       []errEvent
}

func (f *fakeEventSink) CaptureStateChanged(state domain.CaptureState, reason domain.StateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) UploadComplete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, key)
}

func (f *fakeEventSink) DescriptionChanged(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descriptions = append(f.descriptions, text)
}

func (f *fakeEventSink) TranscribingChanged(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcribing = append(f.transcribing, active)
}

func (f *fakeEventSink) PipelineError(code domain.ErrorCode, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, message: message})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) snapshotUploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

func (f *fakeEventSink) snapshotDescriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.descriptions...)
}

func (f *fakeEventSink) snapshotTranscribing() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.transcribing...)
}

type stepClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.step)
	return now
}
