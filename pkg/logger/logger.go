// Package logger provides structured logging for the remediation pipeline.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/aws/smithy-go/logging"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Logger is the logging surface every component depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
}

// SlogLogger adapts *slog.Logger to the Logger interface.
type SlogLogger struct {
	l *slog.Logger
}

var (
	global Logger
	mu     sync.RWMutex
)

func init() {
	global = &SlogLogger{l: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))}
}

// NewLogger builds a logger writing to stderr.
func NewLogger(debug bool, format string) *SlogLogger {
	return NewLoggerTo(os.Stderr, debug, format)
}

// NewLoggerTo builds a logger writing to w. Format "json" selects the JSON handler;
// anything else renders text, colorized when w is a terminal.
func NewLoggerTo(w io.Writer, debug bool, format string) *SlogLogger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			handler = tint.NewHandler(w, &tint.Options{
				Level:      level,
				TimeFormat: time.Kitchen,
			})
		} else {
			handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
		}
	}

	return &SlogLogger{l: slog.New(handler)}
}

// SetupLogger configures the global logger.
func SetupLogger(debug bool, format string) {
	l := NewLogger(debug, format)
	slog.SetDefault(l.l)

	mu.Lock()
	defer mu.Unlock()
	global = l
}

// GetGlobalLogger returns the process-wide logger.
func GetGlobalLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Debug logs a debug message.
func (s *SlogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }

// Info logs an info message.
func (s *SlogLogger) Info(msg string, args ...any) { s.l.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogLogger) Warn(msg string, args ...any) { s.l.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// With returns a logger carrying additional attributes.
func (s *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{l: s.l.With(args...)}
}

// WithGroup returns a logger that nests attributes under name.
func (s *SlogLogger) WithGroup(name string) Logger {
	return &SlogLogger{l: s.l.WithGroup(name)}
}

// WithContext returns the global logger tagged with the correlation id stored in ctx, if any.
func WithContext(ctx context.Context) Logger {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return GetGlobalLogger().With("correlation_id", id)
	}
	return GetGlobalLogger()
}

type correlationKey struct{}

// ContextWithCorrelationID stores a correlation id for WithContext.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// WithFinding returns a logger with finding context.
func WithFinding(l Logger, findingID, resourceType string) Logger {
	return l.With("finding_id", findingID, "resource_type", resourceType)
}

// AWSLogger routes AWS SDK client logs through l.
func AWSLogger(l Logger) logging.Logger {
	return logging.LoggerFunc(func(classification logging.Classification, format string, v ...any) {
		switch classification {
		case logging.Warn:
			l.Warn("aws sdk", "message", fmt.Sprintf(format, v...))
		default:
			l.Debug("aws sdk", "message", fmt.Sprintf(format, v...))
		}
	})
}

// Debug logs a debug message on the global logger.
func Debug(msg string, args ...any) { GetGlobalLogger().Debug(msg, args...) }

// Info logs an info message on the global logger.
func Info(msg string, args ...any) { GetGlobalLogger().Info(msg, args...) }

// Warn logs a warning on the global logger.
func Warn(msg string, args ...any) { GetGlobalLogger().Warn(msg, args...) }

// Error logs an error on the global logger.
func Error(msg string, args ...any) { GetGlobalLogger().Error(msg, args...) }
