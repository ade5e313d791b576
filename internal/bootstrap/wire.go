package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"voicedesc/internal/audio"
	"voicedesc/internal/config"
	"voicedesc/internal/logger"
	"voicedesc/internal/ports"
	"voicedesc/internal/rules"
	"voicedesc/internal/storage"
	_ "voicedesc/internal/storage/s3"
	_ "voicedesc/internal/storage/supabase"
	"voicedesc/internal/transcription"
	"voicedesc/internal/usecase"
)

const serviceName = "voicedesc"

// Services is the assembled runtime graph.
type Services struct {
	Pipeline *usecase.Pipeline
	Config   config.Config
	Logger   *logger.Logger

	shutdown []func(context.Context) error
}

// Shutdown stops the pipeline and flushes telemetry.
func (s Services) Shutdown(ctx context.Context) error {
	if s.Pipeline != nil {
		s.Pipeline.Close()
	}
	var errs []error
	for _, fn := range s.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build loads configuration and wires all backend dependencies.
func Build(events ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, events)
}

// BuildWithConfig wires the runtime graph from an already loaded configuration.
func BuildWithConfig(cfg config.Config, events ports.EventSink) (Services, error) {
	log := logger.New(cfg.Log, serviceName)

	rulesEngine, err := rules.Load(rules.Config{
		Path:           cfg.Rules.Path,
		IterationLimit: cfg.Rules.IterationLimit,
	})
	if err != nil {
		return Services{}, err
	}
	if rulesEngine.Len() > 0 {
		log.Info("transcript rules loaded", map[string]interface{}{"path": cfg.Rules.Path, "rules": rulesEngine.Len()})
	}

	store, err := storage.New(cfg.Storage, log)
	if err != nil {
		return Services{}, err
	}

	var (
		shutdown []func(context.Context) error
		tp       trace.TracerProvider
	)
	if cfg.Telemetry.Endpoint != "" {
		provider, err := initTracer(context.Background(), cfg.Telemetry)
		if err != nil {
			return Services{}, fmt.Errorf("init tracing: %w", err)
		}
		tp = provider
		shutdown = append(shutdown, provider.Shutdown)
		log.Info("tracer initialized", map[string]interface{}{"endpoint": cfg.Telemetry.Endpoint})
	}

	pipeline := usecase.NewPipeline(
		audio.NewRecorder(cfg.Audio.RecorderCommand),
		store,
		transcription.NewClient(transcription.Config{
			BaseURL: cfg.Transcription.BaseURL,
			APIKey:  cfg.Transcription.APIKey,
		}, transcription.WithLogger(log)),
		rulesEngine,
		events,
		usecase.Config{
			Capture: usecase.CaptureConfig{
				Audio: ports.AudioConfig{
					SampleRate:  cfg.Audio.SampleRate,
					Channels:    cfg.Audio.Channels,
					Bitrate:     cfg.Audio.Bitrate,
					InputFormat: cfg.Audio.InputFormat,
					InputDevice: cfg.Audio.InputDevice,
				},
				ChunkSize: cfg.Session.ChunkSize,
			},
			InitialDescription:      cfg.Session.InitialDescription,
			DiscardStaleTranscripts: cfg.Session.DiscardStaleTranscripts,
			TracerProvider:          tp,
		},
		log,
	)

	return Services{Pipeline: pipeline, Config: cfg, Logger: log, shutdown: shutdown}, nil
}
