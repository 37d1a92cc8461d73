package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLevel string
	}{
		{name: "debug keeps debug", level: "debug", wantLevel: "DEBUG"},
		{name: "info drops debug", level: "info", wantLevel: "INFO"},
		{name: "warn drops info", level: "warn", wantLevel: "WARN"},
		{name: "error drops warn", level: "error", wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			logger, err := New(&Config{Level: tt.level, Format: "json", writer: output})
			require.NoError(t, err)

			logger.Debug("job fetched", slog.String("git_url", "https://example.com/a.git"))
			logger.Info("job fetched", slog.String("git_url", "https://example.com/a.git"))
			logger.Warn("job fetched", slog.String("git_url", "https://example.com/a.git"))
			logger.Error("job fetched", slog.String("git_url", "https://example.com/a.git"))

			entries := decodeLines(t, output)
			require.NotEmpty(t, entries)
			assert.Equal(t, tt.wantLevel, entries[0]["level"])
			assert.Equal(t, "job fetched", entries[0]["msg"])
			assert.Equal(t, "https://example.com/a.git", entries[0]["git_url"])
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "console", NoColor: true, TimeFormat: time.TimeOnly, writer: output})
	require.NoError(t, err)

	logger.Info("Waiting for the queue")

	assert.Contains(t, output.String(), "INF")
	assert.Contains(t, output.String(), "Waiting for the queue")
}

func TestNew_SourceLocation(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", EnableSource: true, writer: output})
	require.NoError(t, err)

	logger.Info("message with source")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestNew_FileOutputError(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "worker.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelInfo}, // case-sensitive
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_Component(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", writer: output})
	require.NoError(t, err)

	logger.Component("intake").Info("Got message from queue", slog.String("git_url", "https://example.com/r.git"))
	logger.Info("untagged")

	entries := decodeLines(t, output)
	require.Len(t, entries, 2)
	assert.Equal(t, "intake", entries[0]["component"])
	assert.Equal(t, "https://example.com/r.git", entries[0]["git_url"])
	assert.NotContains(t, entries[1], "component")
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	logger, err := New(&Config{Output: "stderr"})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
	assert.NotNil(t, Discard())
}
