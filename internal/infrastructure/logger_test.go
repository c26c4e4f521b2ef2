package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensekit/internal/config"
	"licensekit/internal/shared/testutil"
)

func TestNewLogger_InjectsTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := newLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closeFn()

	ctx := WithTraceID(context.Background(), "trace-123")
	WithComponent(logger, "signer").InfoContext(ctx, "license generated", slog.String("license_id", "abc"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "license generated", entry["msg"])
	assert.Equal(t, "trace-123", entry["trace_id"])
	assert.Equal(t, "signer", entry["component"])
	assert.Equal(t, "abc", entry["license_id"])
}

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := newLogger(config.LoggingConfig{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := newLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Info("hello", slog.Int("count", 2))
	assert.True(t, strings.Contains(buf.String(), "msg=hello"))
	assert.True(t, strings.Contains(buf.String(), "count=2"))
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "licensekit.log")
	var console bytes.Buffer

	logger, closeFn, err := newLogger(config.LoggingConfig{Level: "info", Output: "both", FilePath: path}, &console)
	require.NoError(t, err)

	logger.Info("persisted")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "persisted")
	assert.Contains(t, console.String(), "persisted")
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestWithError(t *testing.T) {
	handler := testutil.NewBufferedSlogHandler(t)
	logger := slog.New(handler)

	WithError(logger, errors.New("watch failed")).Warn("blacklist watch unavailable")
	assert.Same(t, logger, WithError(logger, nil))

	records := handler.GetRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "watch failed", records[0].Attrs["error"])
}

func TestEnsureTraceID(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	first := GetTraceID(ctx)
	assert.Len(t, first, 36)

	assert.Equal(t, first, GetTraceID(EnsureTraceID(ctx)), "existing trace id is kept")
	assert.Empty(t, GetTraceID(context.Background()))
}
