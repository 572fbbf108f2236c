package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/reelpool/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, `"key":"value"`)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &parsed))
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"debug logs at debug level", "debug", slog.LevelDebug, true},
		{"info does not log debug", "info", slog.LevelDebug, false},
		{"info logs at info level", "info", slog.LevelInfo, true},
		{"warn does not log info", "warn", slog.LevelInfo, false},
		{"warn logs at warn level", "warn", slog.LevelWarn, true},
		{"error does not log warn", "error", slog.LevelWarn, false},
		{"unknown falls back to info", "verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(config.LoggingConfig{Level: tt.configLevel, Format: "json"}, &buf)
			logger.Log(context.Background(), tt.logLevel, "test")

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestNewLogger_CustomTimeFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json", TimeFormat: "2006-01-02"}, &buf)
	logger.Info("test message")

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, time.Now().Format("2006-01-02"), parsed["time"])
}

func TestNewLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.Info("resolved",
		slog.String("token", "abc123"),
		slog.String("secret_key", "hunter2"),
		slog.String("location", "https://cdn.example.com/v/1.m3u8?token=deadbeef"),
		slog.String("item_id", "v1"),
	)

	output := buf.String()
	assert.NotContains(t, output, "abc123")
	assert.NotContains(t, output, "hunter2")
	assert.NotContains(t, output, "deadbeef")
	assert.Contains(t, output, `"item_id":"v1"`)
}

func TestNewLogger_PlainLocationsKept(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.Info("resolved", slog.String("location", "/var/cache/reelpool/v1.ts"))
	assert.Contains(t, buf.String(), "/var/cache/reelpool/v1.ts")
}

func TestParseLevel(t *testing.T) {
	level, ok := ParseLevel("warn")
	assert.True(t, ok)
	assert.Equal(t, slog.LevelWarn, level)

	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	WithComponent(logger, "pool").Info("test")
	assert.Contains(t, buf.String(), `"component":"pool"`)
}

func TestWithApp(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	WithApp(logger, "reelpool").Info("test")
	assert.Contains(t, buf.String(), `"app":"reelpool"`)
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	WithRequestID(logger, "req-123").Info("test")
	assert.Contains(t, buf.String(), `"request_id":"req-123"`)
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	assert.Same(t, logger, WithError(logger, nil))

	WithError(logger, errors.New("boom")).Info("test")
	assert.Contains(t, buf.String(), `"error":"boom"`)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Same(t, slog.Default(), LoggerFromContext(ctx))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx = ContextWithLogger(ContextWithRequestID(ctx, "req-9"), logger)

	assert.Equal(t, "req-9", RequestIDFromContext(ctx))
	assert.Same(t, logger, LoggerFromContext(ctx))
}

func TestTimedOperationWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	var err error
	done := TimedOperationWithError(context.Background(), logger, "catalog_import", &err)
	err = errors.New("manifest unreadable")
	done()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "operation started")
	assert.Contains(t, lines[1], "operation failed")
	assert.Contains(t, lines[1], "manifest unreadable")
}
