package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockLogger(t *testing.T) {
	mock := NewMockLogger()

	mock.Info("Polling queue", "queue", "findings")
	mock.Debug("Debug message")
	mock.Warn("Warning message")
	mock.Error("Engine failed", "error", "exit status 1")

	require.Len(t, mock.Entries(), 4)
	assert.True(t, mock.Has(slog.LevelInfo, "Polling queue"))
	assert.False(t, mock.Has(slog.LevelWarn, "Polling queue"))
	assert.True(t, mock.HasContaining(slog.LevelError, "Engine"))
	assert.False(t, mock.HasContaining(slog.LevelError, "Polling"))
	assert.Equal(t, 1, mock.Count(slog.LevelWarn))

	e, ok := mock.Find(slog.LevelError, "Engine failed")
	require.True(t, ok)
	assert.Equal(t, "exit status 1", e.Attrs["error"])

	mock.Reset()
	assert.Empty(t, mock.Entries())
}

func TestMockLoggerAttributes(t *testing.T) {
	tests := []struct {
		name  string
		log   func(l Logger)
		attrs map[string]any
	}{
		{
			name:  "with carries attributes",
			log:   func(l Logger) { l.With("finding_id", "f-1").Info("msg", "attempt", 2) },
			attrs: map[string]any{"finding_id": "f-1", "attempt": int64(2)},
		},
		{
			name:  "group qualifies later keys only",
			log:   func(l Logger) { l.With("queue", "q").WithGroup("batch").Info("msg", "size", 3) },
			attrs: map[string]any{"queue": "q", "batch.size": int64(3)},
		},
		{
			name:  "slog group values flatten",
			log:   func(l Logger) { l.Info("msg", slog.Group("engine", "exit", 1)) },
			attrs: map[string]any{"engine.exit": int64(1)},
		},
		{
			name:  "dangling value gets bad key",
			log:   func(l Logger) { l.Info("msg", "orphan") },
			attrs: map[string]any{"!BADKEY": "orphan"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockLogger()
			tt.log(mock)

			e, ok := mock.Find(slog.LevelInfo, "msg")
			require.True(t, ok, "derived loggers share the parent's entries")
			assert.Equal(t, tt.attrs, e.Attrs)
		})
	}
}

func TestLoggerInterface(_ *testing.T) {
	var _ Logger = &SlogLogger{}
	var _ Logger = &MockLogger{}

	exercise := func(l Logger) {
		l.Info("test")
		l.Debug("debug")
		l.Warn("warn")
		l.Error("error")
		l.With("key", "value").Info("with context")
		l.WithGroup("worker").Info("grouped")
	}

	exercise(NewMockLogger())
	exercise(NewLoggerTo(&bytes.Buffer{}, false, "text"))
}

func TestNewLoggerToJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, true, "json")

	l.Debug("Scaling service", "desired", 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Scaling service", entry["msg"])
	assert.Equal(t, "DEBUG", entry["level"])
	assert.EqualValues(t, 1, entry["desired"])
}

func TestNewLoggerToRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerTo(&buf, false, "text")

	l.Debug("hidden")
	assert.Empty(t, buf.String())

	l.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithContextCorrelationID(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "corr-123")
	assert.NotNil(t, WithContext(ctx))
	assert.NotNil(t, WithContext(context.Background()))
}

func TestWithFinding(t *testing.T) {
	mock := NewMockLogger()
	WithFinding(mock, "f-9", "S3").Info("Validated")

	e, ok := mock.Find(slog.LevelInfo, "Validated")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"finding_id": "f-9", "resource_type": "S3"}, e.Attrs)
}
