package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"voicedesc/internal/logger"
)

const (
	envPrefix                = "VOICEDESC"
	envConfigFile            = "VOICEDESC_CONFIG"
	envDotenvFile            = "VOICEDESC_ENV_FILE"
	defaultTranscribeBaseURL = "https://speech-to-text-api-322039733047.asia-south1.run.app"
)

// Config stores runtime configuration for the description pipeline.
type Config struct {
	Log           logger.Config       `mapstructure:"log"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Rules         RulesConfig         `mapstructure:"rules"`
	Session       SessionConfig       `mapstructure:"session"`
	Server        ServerConfig        `mapstructure:"server"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

type AudioConfig struct {
	RecorderCommand string `mapstructure:"recorder_command" validate:"required"`
	InputFormat     string `mapstructure:"input_format" validate:"required"`
	InputDevice     string `mapstructure:"input_device" validate:"required"`
	SampleRate      int    `mapstructure:"sample_rate" validate:"gt=0"`
	Channels        int    `mapstructure:"channels" validate:"gt=0"`
	Bitrate         string `mapstructure:"bitrate"`
}

type StorageConfig struct {
	Provider string         `mapstructure:"provider" validate:"oneof=supabase s3"`
	Supabase SupabaseConfig `mapstructure:"supabase"`
	S3       S3Config       `mapstructure:"s3"`
}

type SupabaseConfig struct {
	URL       string `mapstructure:"url" validate:"omitempty,url"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket" validate:"required"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicBaseURL   string `mapstructure:"public_base_url" validate:"omitempty,url"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

type TranscriptionConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	APIKey  string `mapstructure:"api_key"`
}

type RulesConfig struct {
	Path           string `mapstructure:"path"`
	IterationLimit int    `mapstructure:"iteration_limit"`
}

type SessionConfig struct {
	ChunkSize               int    `mapstructure:"chunk_size"`
	InitialDescription      string `mapstructure:"initial_description"`
	DiscardStaleTranscripts bool   `mapstructure:"discard_stale_transcripts"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint" validate:"omitempty,url"`
	ServiceName string `mapstructure:"service_name"`
}

// Load resolves configuration from an optional YAML file, an optional .env file,
// VOICEDESC_* environment variables and defaults, in increasing precedence of
// environment over file.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	if err := loadDotenv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv(envConfigFile)); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if strings.TrimSpace(cfg.Rules.Path) == "" {
		cfg.Rules.Path = firstExisting(
			xdgRulesPath(),
			filepath.Join(home, ".config", "voicedesc", "substitutions.rules"),
		)
	}
	normalize(&cfg)

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")

	v.SetDefault("audio.recorder_command", "ffmpeg")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.input_device", "default")
	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.bitrate", "32k")

	v.SetDefault("storage.provider", "supabase")
	v.SetDefault("storage.supabase.url", "")
	v.SetDefault("storage.supabase.secret_key", "")
	v.SetDefault("storage.supabase.bucket", "audio-records")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")
	v.SetDefault("storage.s3.public_base_url", "")
	v.SetDefault("storage.s3.use_path_style", false)

	v.SetDefault("transcription.base_url", defaultTranscribeBaseURL)
	v.SetDefault("transcription.api_key", "")

	v.SetDefault("rules.path", "")
	v.SetDefault("rules.iteration_limit", 30)

	v.SetDefault("session.chunk_size", 4096)
	v.SetDefault("session.initial_description", "")
	v.SetDefault("session.discard_stale_transcripts", false)

	v.SetDefault("server.addr", ":8085")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "voicedesc")
}

func normalize(cfg *Config) {
	cfg.Log.ApplyDefaults()
	cfg.Storage.Provider = strings.ToLower(strings.TrimSpace(cfg.Storage.Provider))
	cfg.Transcription.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Transcription.BaseURL), "/")

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 48000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}
}

func validate(cfg *Config) error {
	if err := cfg.Log.Validate(); err != nil {
		return err
	}

	err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}

// loadDotenv populates the process environment from a .env file without
// overriding variables that are already set.
func loadDotenv() error {
	path := strings.TrimSpace(os.Getenv(envDotenvFile))
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return fmt.Errorf("env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func xdgRulesPath() string {
	dir := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "voicedesc", "substitutions.rules")
}

// firstExisting returns the first path that exists, or the first non-empty
// candidate when none do.
func firstExisting(paths ...string) string {
	fallback := ""
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
		if fallback == "" {
			fallback = p
		}
	}
	return fallback
}
