package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"voicedesc/internal/domain"
	"voicedesc/internal/logger"
	"voicedesc/internal/ports"
)

const (
	speechToTextPath = "/speech-to-text"
	maxErrorBody     = 8 << 10
)

// Config controls the speech-to-text HTTP client.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client calls the remote speech-to-text service.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient builds a client. Requests carry no timeout of their own; the caller's
// context bounds them.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + speechToTextPath,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{},
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithComponent("transcription")
	return c
}

type speechToTextRequest struct {
	AudioURL string `json:"audio_url"`
}

type speechToTextResponse struct {
	Transcript *string `json:"transcript"`
}

// Transcribe submits audioURL and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, audioURL string) (string, error) {
	body, err := json.Marshal(speechToTextRequest{AudioURL: audioURL})
	if err != nil {
		return "", domain.TranscriptionServiceError(0, "", fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", domain.TranscriptionServiceError(0, "", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.log.Debug("sending audio for transcription", map[string]interface{}{"url": audioURL})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.TranscriptionServiceError(0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", domain.TranscriptionServiceError(resp.StatusCode, strings.TrimSpace(string(text)), nil)
	}

	var decoded speechToTextResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", domain.MalformedTranscription("response is not valid JSON", err)
	}
	if decoded.Transcript == nil || *decoded.Transcript == "" {
		return "", domain.MalformedTranscription("Invalid response format: transcript missing", nil)
	}

	c.log.Debug("transcription received", map[string]interface{}{"status": resp.StatusCode, "chars": len(*decoded.Transcript)})
	return *decoded.Transcript, nil
}

var _ ports.Transcriber = (*Client)(nil)
