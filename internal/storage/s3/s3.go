package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"voicedesc/internal/config"
	"voicedesc/internal/domain"
	"voicedesc/internal/logger"
	"voicedesc/internal/ports"
	"voicedesc/internal/storage"
)

// DefaultRegion is the default AWS region.
const DefaultRegion = "us-east-1"

func init() {
	storage.RegisterFactory(storage.ProviderS3, func(cfg config.StorageConfig, log *logger.Logger) (ports.ObjectStore, error) {
		c := Config{
			Bucket:        cfg.S3.Bucket,
			Region:        cfg.S3.Region,
			Endpoint:      cfg.S3.Endpoint,
			AccessKey:     cfg.S3.AccessKeyID,
			SecretKey:     cfg.S3.SecretAccessKey,
			PublicBaseURL: cfg.S3.PublicBaseURL,
			UsePathStyle:  cfg.S3.UsePathStyle,
		}
		c.ApplyDefaults()
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return NewStorage(context.Background(), c, log)
	})
}

// Config holds S3-specific storage configuration.
type Config struct {
	Bucket string
	Region string

	// Endpoint is a custom S3-compatible endpoint (e.g. MinIO).
	Endpoint string

	AccessKey string
	SecretKey string

	// PublicBaseURL overrides the URL prefix handed to the transcription service,
	// for buckets fronted by a CDN.
	PublicBaseURL string

	UsePathStyle bool
}

func (c *Config) ApplyDefaults() {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	c.Endpoint = strings.TrimRight(strings.TrimSpace(c.Endpoint), "/")
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	if c.Endpoint != "" {
		c.UsePathStyle = true
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Bucket == "" {
		errs = append(errs, errors.New("s3: bucket is required"))
	}
	if c.Region == "" {
		errs = append(errs, errors.New("s3: region is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("s3: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Storage stores recordings in Amazon S3 or an S3-compatible service.
type Storage struct {
	client *awss3.Client
	cfg    Config
	log    *logger.Logger
}

func NewStorage(ctx context.Context, cfg Config, log *logger.Logger) (*Storage, error) {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		// S3-compatible servers often reject streaming checksum trailers.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &Storage{
		client: client,
		cfg:    cfg,
		log:    log.WithFields(map[string]interface{}{"provider": storage.ProviderS3, "bucket": cfg.Bucket}),
	}, nil
}

// Put uploads payload under key. Without overwrite the write is conditional on
// the key being absent.
func (s *Storage) Put(ctx context.Context, key string, payload []byte, contentType string, overwrite bool) (domain.StoredRef, error) {
	if strings.TrimSpace(key) == "" {
		return domain.StoredRef{}, storage.ErrMissingKey
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	input := &awss3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(payload))),
	}
	if !overwrite {
		input.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return domain.StoredRef{}, fmt.Errorf("storage: s3 upload: %w", err)
	}

	s.log.Debug("object stored", map[string]interface{}{logger.FieldKey: key, "bytes": len(payload)})
	return domain.StoredRef{Key: key, Path: s.cfg.Bucket + "/" + key}, nil
}

// PublicURL returns the object's public URL, or "" when key is empty.
func (s *Storage) PublicURL(key string) string {
	if strings.TrimSpace(key) == "" {
		return ""
	}
	escaped := storage.EscapeKey(key)

	switch {
	case s.cfg.PublicBaseURL != "":
		return fmt.Sprintf("%s/%s", s.cfg.PublicBaseURL, escaped)
	case s.cfg.Endpoint != "":
		return fmt.Sprintf("%s/%s/%s", s.cfg.Endpoint, s.cfg.Bucket, escaped)
	case s.cfg.UsePathStyle:
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", s.cfg.Region, s.cfg.Bucket, escaped)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, escaped)
	}
}

var _ ports.ObjectStore = (*Storage)(nil)
