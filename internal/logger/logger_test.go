package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestConfigDefaultsAndValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	cfg.ApplyDefaults()
	if cfg.Level != "info" || cfg.Format != "console" || cfg.Output != "stderr" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	bad := Config{Level: "loud", Format: "json"}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected invalid level error")
	}
	bad = Config{Level: "info", Format: "xml"}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected invalid format error")
	}
}

func TestWithComponentAndFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf)).WithComponent("upload")
	l.Error("upload failed", map[string]interface{}{
		FieldKey:   "recording-1.webm",
		FieldError: errors.New("quota"),
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	if entry[FieldComponent] != "upload" {
		t.Fatalf("expected component field, got %v", entry[FieldComponent])
	}
	if entry[FieldKey] != "recording-1.webm" {
		t.Fatalf("expected key field, got %v", entry[FieldKey])
	}
	if entry[FieldError] != "quota" {
		t.Fatalf("expected error field, got %v", entry[FieldError])
	}
	if entry["message"] != "upload failed" {
		t.Fatalf("unexpected message: %v", entry["message"])
	}
}

func TestNopDiscards(t *testing.T) {
	t.Parallel()

	Nop().WithComponent("x").Info("ignored")
}
