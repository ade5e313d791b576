// Package storage selects the object store that holds uploaded recordings.
//
// Backends live in sub-packages and register themselves from init, so callers
// import the ones they want:
//
//	import _ "voicedesc/internal/storage/s3"
package storage

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"voicedesc/internal/config"
	"voicedesc/internal/logger"
	"voicedesc/internal/ports"
)

const (
	ProviderSupabase = "supabase"
	ProviderS3       = "s3"
)

var ErrMissingKey = errors.New("storage: object key is required")

// Factory builds an object store from the storage section of the config.
type Factory func(cfg config.StorageConfig, log *logger.Logger) (ports.ObjectStore, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a backend available to New under name.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// New creates the object store named by cfg.Provider.
func New(cfg config.StorageConfig, log *logger.Logger) (ports.ObjectStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	factoriesMu.RLock()
	f, ok := factories[provider]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unsupported provider %q (not registered)", cfg.Provider)
	}

	l := log.WithComponent("storage")
	l.Info("initializing storage", map[string]interface{}{"provider": provider})
	return f(cfg, l)
}

// EscapeKey escapes each path segment of key for use in a URL.
func EscapeKey(key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
