package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensesrv/internal/config"
)

func lastEntry(t *testing.T, content []byte) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestInitializeLogger(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "logs", "test.log")
	logger, err := InitializeLogger(config.LoggingConfig{
		Level:    "info",
		Output:   "file",
		FilePath: logFile,
	})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Same(t, logger, GetLogger())

	logger.Info("test message", "device_id", "4210EF49")
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	entry := lastEntry(t, content)
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "4210EF49", entry["device_id"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Contains(t, entry, "source")
}

func TestInitializeLoggerOnce(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	dir := t.TempDir()
	first, err := InitializeLogger(config.LoggingConfig{Output: "file", FilePath: filepath.Join(dir, "a.log")})
	require.NoError(t, err)
	second, err := InitializeLogger(config.LoggingConfig{Output: "file", FilePath: filepath.Join(dir, "b.log")})
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, statErr := os.Stat(filepath.Join(dir, "b.log"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestTraceIDInjection(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug")

	ctx := WithTraceID(context.Background(), "test-trace-123")
	logger.InfoContext(ctx, "test with trace")

	entry := lastEntry(t, buf.Bytes())
	assert.Equal(t, "test-trace-123", entry["trace_id"])
}

func TestLicenseKeyMasked(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info")

	logger.Info("license issued", "license_key", "EYJK-IJOI-NDIX-MEVG-NDKI")
	logger.With("license_key", "ABCD-EFGH").Info("derived logger")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, buf.String(), "IJOI")
	assert.NotContains(t, buf.String(), "EFGH")
	assert.Equal(t, "EYJK-****", lastEntry(t, []byte(lines[0]))["license_key"])
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level   string
		debug   bool
		warning bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warning", false, true},
		{"error", false, false},
		{"bogus", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, tt.level)

			logger.Debug("debug line")
			assert.Equal(t, tt.debug, strings.Contains(buf.String(), "debug line"))
			logger.Warn("warn line")
			assert.Equal(t, tt.warning, strings.Contains(buf.String(), "warn line"))
		})
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	ctx = EnsureTraceID(ctx)
	id := GetTraceID(ctx)
	assert.Len(t, id, 36)
	assert.Equal(t, id, GetTraceID(EnsureTraceID(ctx)))
	assert.NotNil(t, LoggerWithContext(ctx))
	assert.NotNil(t, WithComponent(GetLogger(), "test"))
}
