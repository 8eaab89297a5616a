// Package logging configures the process-wide structured JSON logger.
package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type settings struct {
	writers []io.Writer
	level   slog.Level
}

// Option customises Setup.
type Option func(*settings)

// WithWriter replaces stdout as the primary sink.
func WithWriter(w io.Writer) Option {
	return func(s *settings) {
		if w != nil {
			s.writers[0] = w
		}
	}
}

// WithFile additionally writes to a size-rotated file at path.
func WithFile(path string, maxSizeMB, maxBackups int) Option {
	return func(s *settings) {
		if strings.TrimSpace(path) == "" {
			return
		}
		s.writers = append(s.writers, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		})
	}
}

// WithLevel sets the minimum level emitted.
func WithLevel(level slog.Level) Option {
	return func(s *settings) { s.level = level }
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(service, env string, opts ...Option) *slog.Logger {
	cfg := settings{writers: []io.Writer{os.Stdout}, level: slog.LevelInfo}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	var out io.Writer = cfg.writers[0]
	if len(cfg.writers) > 1 {
		out = io.MultiWriter(cfg.writers...)
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return attr
			}
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	withAttrs := handler.WithAttrs(attrs)

	base := slog.New(withAttrs)
	slog.SetDefault(base)

	// Route packages that still use the log package through the same handler.
	stdBridge := slog.NewLogLogger(withAttrs, slog.LevelInfo)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}
