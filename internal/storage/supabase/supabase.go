package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voicedesc/internal/config"
	"voicedesc/internal/domain"
	"voicedesc/internal/logger"
	"voicedesc/internal/ports"
	"voicedesc/internal/storage"
)

// DefaultBucket holds uploaded recordings unless configured otherwise.
const DefaultBucket = "audio-records"

func init() {
	storage.RegisterFactory(storage.ProviderSupabase, func(cfg config.StorageConfig, log *logger.Logger) (ports.ObjectStore, error) {
		c := Config{
			URL:       cfg.Supabase.URL,
			Bucket:    cfg.Supabase.Bucket,
			SecretKey: cfg.Supabase.SecretKey,
		}
		c.ApplyDefaults()
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return NewStorage(c, WithLogger(log)), nil
	})
}

// Config holds Supabase-specific configuration.
type Config struct {
	// URL is the Supabase project URL (e.g., https://xyz.supabase.co).
	URL string

	// Bucket is the storage bucket name.
	Bucket string

	// SecretKey is sent as a Bearer token when set.
	SecretKey string
}

func (c *Config) ApplyDefaults() {
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("supabase: url is required"))
	}
	if c.Bucket == "" {
		errs = append(errs, errors.New("supabase: bucket is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("supabase: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Storage stores recordings through the Supabase Storage REST API.
type Storage struct {
	baseURL    string
	bucket     string
	secretKey  string
	httpClient *http.Client
	log        *logger.Logger
}

type Option func(*Storage)

func WithHTTPClient(client *http.Client) Option {
	return func(s *Storage) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(s *Storage) {
		if log != nil {
			s.log = log
		}
	}
}

func NewStorage(cfg Config, opts ...Option) *Storage {
	cfg.ApplyDefaults()
	s := &Storage{
		baseURL:    cfg.URL + "/storage/v1",
		bucket:     cfg.Bucket,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithFields(map[string]interface{}{"provider": storage.ProviderSupabase, "bucket": s.bucket})
	return s
}

// Put uploads payload under key. With overwrite set an existing object is replaced.
func (s *Storage) Put(ctx context.Context, key string, payload []byte, contentType string, overwrite bool) (domain.StoredRef, error) {
	if strings.TrimSpace(key) == "" {
		return domain.StoredRef{}, storage.ErrMissingKey
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	u := fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, storage.EscapeKey(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return domain.StoredRef{}, fmt.Errorf("storage: supabase create request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", strconv.FormatBool(overwrite))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.StoredRef{}, fmt.Errorf("storage: supabase upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.StoredRef{}, fmt.Errorf("storage: supabase upload failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	ref := domain.StoredRef{Key: key, Path: s.bucket + "/" + key}
	var out struct {
		Key string `json:"Key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Key != "" {
		ref.Path = out.Key
	}

	s.log.Debug("object stored", map[string]interface{}{logger.FieldKey: key, "bytes": len(payload)})
	return ref, nil
}

// PublicURL returns the public object URL, or "" when key is empty.
func (s *Storage) PublicURL(key string) string {
	if strings.TrimSpace(key) == "" {
		return ""
	}
	return fmt.Sprintf("%s/object/public/%s/%s", s.baseURL, s.bucket, storage.EscapeKey(key))
}

func (s *Storage) setHeaders(req *http.Request) {
	if s.secretKey == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("apikey", s.secretKey)
}

var _ ports.ObjectStore = (*Storage)(nil)
