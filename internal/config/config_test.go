package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv(envConfigFile, "")
	t.Setenv(envDotenvFile, "")
	for _, entry := range os.Environ() {
		key, _, _ := strings.Cut(entry, "=")
		if strings.HasPrefix(key, envPrefix+"_") && key != envConfigFile && key != envDotenvFile {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
	return home
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Storage.Provider != "supabase" || cfg.Storage.Supabase.Bucket != "audio-records" {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Transcription.BaseURL != defaultTranscribeBaseURL {
		t.Fatalf("unexpected transcription base url: %q", cfg.Transcription.BaseURL)
	}
	if cfg.Audio.RecorderCommand != "ffmpeg" || cfg.Audio.SampleRate != 48000 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
	if cfg.Session.ChunkSize != 4096 || cfg.Session.DiscardStaleTranscripts {
		t.Fatalf("unexpected session defaults: %+v", cfg.Session)
	}
	if cfg.Server.Addr != ":8085" || cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Fatalf("unexpected log defaults: %+v", cfg.Log)
	}
}

func TestLoadUsesRulesFallbackOrder(t *testing.T) {
	home := isolate(t)
	homeRules := filepath.Join(home, ".config", "voicedesc", "substitutions.rules")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Rules.Path != homeRules {
		t.Fatalf("expected home rules path when nothing exists, got %q", cfg.Rules.Path)
	}

	xdg := filepath.Join(home, "xdg")
	xdgRules := filepath.Join(xdg, "voicedesc", "substitutions.rules")
	t.Setenv("XDG_CONFIG_HOME", xdg)

	if err := os.MkdirAll(filepath.Dir(homeRules), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(homeRules, []byte("a => b\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err = Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Rules.Path != homeRules {
		t.Fatalf("expected existing home rules, got %q", cfg.Rules.Path)
	}

	if err := os.MkdirAll(filepath.Dir(xdgRules), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(xdgRules, []byte("a => c\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err = Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Rules.Path != xdgRules {
		t.Fatalf("expected XDG rules priority, got %q", cfg.Rules.Path)
	}
}

func TestLoadRespectsEnvironmentOverrides(t *testing.T) {
	home := isolate(t)
	rules := filepath.Join(home, "my.rules")

	t.Setenv("VOICEDESC_STORAGE_PROVIDER", "S3")
	t.Setenv("VOICEDESC_STORAGE_S3_BUCKET", "recordings")
	t.Setenv("VOICEDESC_STORAGE_S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("VOICEDESC_STORAGE_S3_USE_PATH_STYLE", "true")
	t.Setenv("VOICEDESC_TRANSCRIPTION_BASE_URL", "https://stt.example.com/")
	t.Setenv("VOICEDESC_TRANSCRIPTION_API_KEY", "secret")
	t.Setenv("VOICEDESC_AUDIO_INPUT_FORMAT", "alsa")
	t.Setenv("VOICEDESC_AUDIO_INPUT_DEVICE", "mic0")
	t.Setenv("VOICEDESC_AUDIO_SAMPLE_RATE", "16000")
	t.Setenv("VOICEDESC_RULES_PATH", rules)
	t.Setenv("VOICEDESC_RULES_ITERATION_LIMIT", "42")
	t.Setenv("VOICEDESC_SESSION_CHUNK_SIZE", "512")
	t.Setenv("VOICEDESC_SESSION_INITIAL_DESCRIPTION", "draft")
	t.Setenv("VOICEDESC_SESSION_DISCARD_STALE_TRANSCRIPTS", "true")
	t.Setenv("VOICEDESC_SERVER_SHUTDOWN_TIMEOUT", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Storage.Provider != "s3" || cfg.Storage.S3.Bucket != "recordings" || !cfg.Storage.S3.UsePathStyle {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Transcription.BaseURL != "https://stt.example.com" || cfg.Transcription.APIKey != "secret" {
		t.Fatalf("unexpected transcription config: %+v", cfg.Transcription)
	}
	if cfg.Audio.InputFormat != "alsa" || cfg.Audio.InputDevice != "mic0" || cfg.Audio.SampleRate != 16000 {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Rules.Path != rules || cfg.Rules.IterationLimit != 42 {
		t.Fatalf("unexpected rules config: %+v", cfg.Rules)
	}
	if cfg.Session.ChunkSize != 512 || cfg.Session.InitialDescription != "draft" || !cfg.Session.DiscardStaleTranscripts {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Server.ShutdownTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected shutdown timeout: %s", cfg.Server.ShutdownTimeout)
	}
}

func TestLoadReadsConfigFileAndEnvWins(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "voicedesc.yml")
	body := strings.Join([]string{
		"storage:",
		"  provider: s3",
		"  s3:",
		"    bucket: from-file",
		"transcription:",
		"  base_url: https://file.example.com",
		"log:",
		"  format: json",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv(envConfigFile, path)
	t.Setenv("VOICEDESC_STORAGE_S3_BUCKET", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Storage.Provider != "s3" || cfg.Storage.S3.Bucket != "from-env" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Transcription.BaseURL != "https://file.example.com" || cfg.Log.Format != "json" {
		t.Fatalf("expected file values, got %+v %+v", cfg.Transcription, cfg.Log)
	}
}

func TestLoadReadsDotenvFile(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "voicedesc.env")
	if err := os.WriteFile(path, []byte("VOICEDESC_TRANSCRIPTION_API_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv(envDotenvFile, path)
	t.Cleanup(func() { os.Unsetenv("VOICEDESC_TRANSCRIPTION_API_KEY") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Transcription.APIKey != "from-dotenv" {
		t.Fatalf("expected dotenv value, got %q", cfg.Transcription.APIKey)
	}
}

func TestLoadMissingExplicitDotenvFails(t *testing.T) {
	home := isolate(t)
	t.Setenv(envDotenvFile, filepath.Join(home, "missing.env"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing env file to fail")
	}
}

func TestLoadNormalizesOutOfRangeNumbers(t *testing.T) {
	isolate(t)
	t.Setenv("VOICEDESC_AUDIO_CHANNELS", "-1")
	t.Setenv("VOICEDESC_RULES_ITERATION_LIMIT", "0")
	t.Setenv("VOICEDESC_SESSION_CHUNK_SIZE", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Audio.Channels != 1 {
		t.Fatalf("expected default channels, got %d", cfg.Audio.Channels)
	}
	if cfg.Rules.IterationLimit != 30 {
		t.Fatalf("expected default iteration limit, got %d", cfg.Rules.IterationLimit)
	}
	if cfg.Session.ChunkSize != 4096 {
		t.Fatalf("expected chunk size fallback, got %d", cfg.Session.ChunkSize)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"VOICEDESC_AUDIO_SAMPLE_RATE":      "bad",
		"VOICEDESC_STORAGE_PROVIDER":       "gcs",
		"VOICEDESC_TRANSCRIPTION_BASE_URL": "not a url",
		"VOICEDESC_LOG_FORMAT":             "xml",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			isolate(t)
			t.Setenv(key, value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%q to be rejected", key, value)
			}
		})
	}
}
