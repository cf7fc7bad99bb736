package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"trace", LevelDebug},
		{"info", LevelInfo},
		{" Info ", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{"off", LevelNone},
		{"invalid", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "NONE", LevelNone.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestFileLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "test.log")

	l, err := New(LevelInfo, logPath, "conn")
	require.NoError(t, err)

	l.Info("opened %s", "ws://localhost:8080/")
	l.Debug("should not appear")
	l.WithPrefix("read").Warn("short payload")
	require.NoError(t, l.Close())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)

	out := string(content)
	assert.Contains(t, out, "[INFO] [conn] opened ws://localhost:8080/")
	assert.Contains(t, out, "[WARN] [conn:read] short payload")
	assert.NotContains(t, out, "should not appear")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelInfo, &buf, "")

	l.Debug("debug1")
	l.SetLevel(LevelDebug)
	l.Debug("debug2")

	assert.NotContains(t, buf.String(), "debug1")
	assert.Contains(t, buf.String(), "debug2")
	assert.True(t, l.Enabled(LevelDebug))
}

func TestDisabledLogger(t *testing.T) {
	l, err := New(LevelDebug, "", "x")
	require.NoError(t, err)
	assert.False(t, l.Enabled(LevelError))
	assert.NotPanics(t, func() {
		l.Error("dropped")
	})
}

func TestGlobalLogger(t *testing.T) {
	require.NotNil(t, Global())
	assert.NotPanics(t, func() {
		Debug("debug")
		Info("info")
		Warn("warn")
		Error("error")
	})
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogPath, "")

	level, path := FromEnv("info", "/tmp/x.log")
	assert.Equal(t, "debug", level)
	assert.Equal(t, "/tmp/x.log", path)
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(LevelInfo, &buf, "download")

	log := Slog(l).With("worker", 2).WithGroup("region")
	log.Info("region written", "index", 7, slog.Group("bytes", "raw", 1024))
	log.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "[INFO] [download] region written worker=2 region.index=7 region.bytes.raw=1024")
	assert.NotContains(t, out, "hidden")
	assert.Nil(t, NewSlogHandler(nil))
}
