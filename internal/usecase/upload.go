package usecase

import (
	"context"
	"strings"

	"voicedesc/internal/domain"
	"voicedesc/internal/logger"
	"voicedesc/internal/ports"
)

type uploadStage struct {
	store ports.ObjectStore
	log   *logger.Logger
}

func newUploadStage(store ports.ObjectStore, log *logger.Logger) uploadStage {
	return uploadStage{store: store, log: log.WithComponent("upload")}
}

// Put stores the recording under its generated name, overwriting any existing object.
func (u uploadStage) Put(ctx context.Context, recording domain.Recording) (string, error) {
	ref, err := u.store.Put(ctx, recording.Name, recording.Payload, recording.ContentType, true)
	if err != nil {
		return "", domain.UploadFailed(recording.Name, err)
	}

	key := ref.Key
	if key == "" {
		key = recording.Name
	}
	u.log.Info("recording uploaded", map[string]interface{}{
		logger.FieldSessionID: recording.SessionID,
		logger.FieldKey:       key,
		"bytes":               len(recording.Payload),
	})
	return key, nil
}

// Resolve returns the public URL of an uploaded key.
func (u uploadStage) Resolve(key string) (string, error) {
	publicURL := strings.TrimSpace(u.store.PublicURL(key))
	if publicURL == "" {
		return "", domain.UploadResolutionFailed(key)
	}
	u.log.Debug("public url resolved", map[string]interface{}{logger.FieldKey: key, "url": publicURL})
	return publicURL, nil
}
