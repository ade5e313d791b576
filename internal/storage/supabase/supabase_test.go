package supabase

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"voicedesc/internal/storage"
)

type capturedRequest struct {
	method      string
	path        string
	contentType string
	upsert      string
	auth        string
	body        string
}

type recordingServer struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	response string
}

func (r *recordingServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.requests = append(r.requests, capturedRequest{
		method:      req.Method,
		path:        req.URL.EscapedPath(),
		contentType: req.Header.Get("Content-Type"),
		upsert:      req.Header.Get("x-upsert"),
		auth:        req.Header.Get("Authorization"),
		body:        string(body),
	})
	status, response := r.status, r.response
	r.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, response)
}

func (r *recordingServer) snapshot() []capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]capturedRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

func TestPutUploadsWithUpsert(t *testing.T) {
	t.Parallel()

	backend := &recordingServer{response: `{"Key":"audio-records/recording-1.webm","Id":"abc"}`}
	server := httptest.NewServer(backend)
	defer server.Close()

	store := NewStorage(Config{URL: server.URL + "/", SecretKey: "service-role"}, WithHTTPClient(server.Client()))

	ref, err := store.Put(context.Background(), "recording-1.webm", []byte("opus"), "audio/webm", true)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if ref.Key != "recording-1.webm" || ref.Path != "audio-records/recording-1.webm" {
		t.Fatalf("unexpected ref: %+v", ref)
	}

	requests := backend.snapshot()
	if len(requests) != 1 {
		t.Fatalf("expected one request, got %d", len(requests))
	}
	got := requests[0]
	if got.method != http.MethodPost || got.path != "/storage/v1/object/audio-records/recording-1.webm" {
		t.Fatalf("unexpected request line: %s %s", got.method, got.path)
	}
	if got.contentType != "audio/webm" || got.upsert != "true" || got.auth != "Bearer service-role" {
		t.Fatalf("unexpected headers: %+v", got)
	}
	if got.body != "opus" {
		t.Fatalf("unexpected body: %q", got.body)
	}
}

func TestPutWithoutOverwrite(t *testing.T) {
	t.Parallel()

	backend := &recordingServer{}
	server := httptest.NewServer(backend)
	defer server.Close()

	store := NewStorage(Config{URL: server.URL, Bucket: "custom"}, WithHTTPClient(server.Client()))
	ref, err := store.Put(context.Background(), "a.webm", []byte("x"), "", false)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if ref.Path != "custom/a.webm" {
		t.Fatalf("expected fallback path, got %q", ref.Path)
	}

	got := backend.snapshot()[0]
	if got.upsert != "false" || got.auth != "" || got.contentType != "application/octet-stream" {
		t.Fatalf("unexpected headers: %+v", got)
	}
}

func TestPutFailureStatus(t *testing.T) {
	t.Parallel()

	backend := &recordingServer{status: http.StatusForbidden, response: `{"error":"new row violates row-level security policy"}`}
	server := httptest.NewServer(backend)
	defer server.Close()

	store := NewStorage(Config{URL: server.URL}, WithHTTPClient(server.Client()))
	_, err := store.Put(context.Background(), "a.webm", []byte("x"), "audio/webm", true)
	if err == nil {
		t.Fatalf("expected upload failure")
	}
}

func TestPutRequiresKey(t *testing.T) {
	t.Parallel()

	store := NewStorage(Config{URL: "https://project.supabase.co"})
	if _, err := store.Put(context.Background(), " ", nil, "", true); !errors.Is(err, storage.ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
}

func TestPublicURL(t *testing.T) {
	t.Parallel()

	store := NewStorage(Config{URL: "https://project.supabase.co/"})

	if got := store.PublicURL("recording-1.webm"); got != "https://project.supabase.co/storage/v1/object/public/audio-records/recording-1.webm" {
		t.Fatalf("unexpected public url: %q", got)
	}
	if got := store.PublicURL("dir/with space.webm"); got != "https://project.supabase.co/storage/v1/object/public/audio-records/dir/with%20space.webm" {
		t.Fatalf("unexpected escaped url: %q", got)
	}
	if got := store.PublicURL(""); got != "" {
		t.Fatalf("expected empty url for empty key, got %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.ApplyDefaults()
	if cfg.Bucket != DefaultBucket {
		t.Fatalf("expected default bucket, got %q", cfg.Bucket)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing url to fail validation")
	}
}
