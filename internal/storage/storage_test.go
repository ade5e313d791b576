package storage_test

import (
	"testing"

	"voicedesc/internal/config"
	"voicedesc/internal/storage"
	_ "voicedesc/internal/storage/s3"
	"voicedesc/internal/storage/supabase"
)

func TestNewSelectsProvider(t *testing.T) {
	t.Parallel()

	store, err := storage.New(config.StorageConfig{
		Provider: "Supabase",
		Supabase: config.SupabaseConfig{URL: "https://project.supabase.co"},
	}, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if _, ok := store.(*supabase.Storage); !ok {
		t.Fatalf("expected supabase storage, got %T", store)
	}
	if got := store.PublicURL("k.webm"); got != "https://project.supabase.co/storage/v1/object/public/audio-records/k.webm" {
		t.Fatalf("unexpected url: %q", got)
	}
}

func TestNewS3(t *testing.T) {
	t.Parallel()

	store, err := storage.New(config.StorageConfig{
		Provider: storage.ProviderS3,
		S3: config.S3Config{
			Bucket:          "recordings",
			Endpoint:        "http://localhost:9000",
			AccessKeyID:     "minio",
			SecretAccessKey: "minio123",
		},
	}, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if got := store.PublicURL("k.webm"); got != "http://localhost:9000/recordings/k.webm" {
		t.Fatalf("unexpected url: %q", got)
	}
}

func TestNewRejectsInvalidProviderConfig(t *testing.T) {
	t.Parallel()

	if _, err := storage.New(config.StorageConfig{Provider: storage.ProviderSupabase}, nil); err == nil {
		t.Fatalf("expected missing supabase url to fail")
	}
	if _, err := storage.New(config.StorageConfig{Provider: storage.ProviderS3}, nil); err == nil {
		t.Fatalf("expected missing s3 bucket to fail")
	}
}

func TestNewUnknownProvider(t *testing.T) {
	t.Parallel()

	if _, err := storage.New(config.StorageConfig{Provider: "gcs"}, nil); err == nil {
		t.Fatalf("expected unknown provider to fail")
	}
}

func TestEscapeKey(t *testing.T) {
	t.Parallel()

	if got := storage.EscapeKey("/a b/c?.webm"); got != "a%20b/c%3F.webm" {
		t.Fatalf("unexpected escaped key: %q", got)
	}
}
