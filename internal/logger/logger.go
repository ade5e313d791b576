// Package logger wraps zerolog with the component/field helpers used across voicedesc.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	FieldComponent = "component"
	FieldService   = "service"
	FieldSessionID = "session_id"
	FieldKey       = "key"
	FieldError     = "error"
)

// Config contains logging configuration.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ApplyDefaults applies default values to logging configuration.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate validates logging configuration.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("log.level %q is invalid: %w", c.Level, err)
	}
	switch strings.ToLower(c.Format) {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("log.format must be one of [json console] (got: %s)", c.Format)
	}
}

// Logger wraps zerolog.Logger with component tagging.
type Logger struct {
	logger zerolog.Logger
}

// New creates a logger for service from cfg.
func New(cfg Config, service string) *Logger {
	cfg.ApplyDefaults()
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = outputWriter(cfg.Output)
	if strings.ToLower(cfg.Format) == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Str(FieldService, service).Logger()
	return &Logger{logger: zl}
}

// FromZerolog wraps an existing zerolog logger.
func FromZerolog(zl zerolog.Logger) *Logger {
	return &Logger{logger: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithComponent returns a logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{logger: l.logger.With().Str(FieldComponent, name).Logger()}
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zc := l.logger.With()
	for k, v := range fields {
		zc = zc.Interface(k, v)
	}
	return &Logger{logger: zc.Logger()}
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	emit(l.logger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	emit(l.logger.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	emit(l.logger.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	emit(l.logger.Error(), msg, fields)
}

func emit(event *zerolog.Event, msg string, fields []map[string]interface{}) {
	for _, fm := range fields {
		for k, v := range fm {
			if err, ok := v.(error); ok {
				event.AnErr(k, err)
				continue
			}
			event.Interface(k, v)
		}
	}
	event.Msg(msg)
}

func outputWriter(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout
	default:
		return os.Stderr
	}
}
