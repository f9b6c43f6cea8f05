package mqttd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	t.Run("string representation", func(t *testing.T) {
		assert.Equal(t, "DEBUG", LogLevelDebug.String())
		assert.Equal(t, "INFO", LogLevelInfo.String())
		assert.Equal(t, "WARN", LogLevelWarn.String())
		assert.Equal(t, "ERROR", LogLevelError.String())
		assert.Equal(t, "NONE", LogLevelNone.String())
		assert.Equal(t, "UNKNOWN", LogLevel(99).String())
	})

	t.Run("level ordering", func(t *testing.T) {
		assert.True(t, LogLevelDebug < LogLevelInfo)
		assert.True(t, LogLevelInfo < LogLevelWarn)
		assert.True(t, LogLevelWarn < LogLevelError)
		assert.True(t, LogLevelError < LogLevelNone)
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LogLevelDebug, false},
		{"INFO", LogLevelInfo, false},
		{"", LogLevelInfo, false},
		{" warn ", LogLevelWarn, false},
		{"warning", LogLevelWarn, false},
		{"Error", LogLevelError, false},
		{"off", LogLevelNone, false},
		{"none", LogLevelNone, false},
		{"verbose", LogLevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()

	t.Run("all methods are no-ops", func(_ *testing.T) {
		logger.Debug("test", nil)
		logger.Info("test", nil)
		logger.Warn("test", nil)
		logger.Error("test", nil)
	})

	t.Run("with fields returns same logger", func(t *testing.T) {
		newLogger := logger.WithFields(LogFields{"key": "value"})
		assert.Equal(t, logger, newLogger)
	})

	t.Run("level operations", func(t *testing.T) {
		assert.Equal(t, LogLevelNone, logger.Level())

		logger.SetLevel(LogLevelDebug)
		assert.Equal(t, LogLevelDebug, logger.Level())
	})
}

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var lines []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line), sc.Text())
		lines = append(lines, line)
	}
	return lines
}

func TestZerologLogger(t *testing.T) {
	t.Run("debug level logs all", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewZerologLogger(buf, LogLevelDebug)

		logger.Debug("debug message", nil)
		logger.Info("info message", nil)
		logger.Warn("warn message", nil)
		logger.Error("error message", nil)

		lines := decodeLogLines(t, buf)
		require.Len(t, lines, 4)

		levels := []string{"debug", "info", "warn", "error"}
		for i, line := range lines {
			assert.Equal(t, levels[i], line[zerolog.LevelFieldName])
			assert.Contains(t, line, zerolog.TimestampFieldName)
		}
		assert.Equal(t, "info message", lines[1][zerolog.MessageFieldName])
	})

	t.Run("info level skips debug", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewZerologLogger(buf, LogLevelInfo)

		logger.Debug("debug message", nil)
		logger.Info("info message", nil)

		assert.NotContains(t, buf.String(), "debug message")
		assert.Contains(t, buf.String(), "info message")
	})

	t.Run("none level is silent", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewZerologLogger(buf, LogLevelNone)

		logger.Error("error message", nil)
		assert.Zero(t, buf.Len())
	})

	t.Run("fields", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewZerologLogger(buf, LogLevelInfo)

		logger.Info("client connected", LogFields{
			LogFieldClientID: "sensor-1",
			LogFieldQoS:      1,
		})

		lines := decodeLogLines(t, buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "sensor-1", lines[0][LogFieldClientID])
		assert.InDelta(t, 1, lines[0][LogFieldQoS], 0)
	})

	t.Run("with fields", func(t *testing.T) {
		buf := &bytes.Buffer{}
		base := NewZerologLogger(buf, LogLevelInfo)
		child := base.WithFields(LogFields{LogFieldRemoteAddr: "10.0.0.1:5000"})

		child.Info("child", LogFields{LogFieldTopic: "a/b"})
		base.Info("base", nil)

		lines := decodeLogLines(t, buf)
		require.Len(t, lines, 2)
		assert.Equal(t, "10.0.0.1:5000", lines[0][LogFieldRemoteAddr])
		assert.Equal(t, "a/b", lines[0][LogFieldTopic])
		assert.NotContains(t, lines[1], LogFieldRemoteAddr)
		assert.Equal(t, LogLevelInfo, child.Level())
	})

	t.Run("set level", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewZerologLogger(buf, LogLevelError)

		logger.Info("hidden", nil)
		logger.SetLevel(LogLevelDebug)
		logger.Debug("shown", nil)

		assert.Equal(t, LogLevelDebug, logger.Level())
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("wraps existing logger", func(t *testing.T) {
		buf := &bytes.Buffer{}
		zl := zerolog.New(buf).With().Str("component", "broker").Logger()
		logger := NewZerologLoggerFrom(zl, LogLevelWarn)

		logger.Info("hidden", nil)
		logger.Warn("shown", nil)

		lines := decodeLogLines(t, buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "broker", lines[0]["component"])
	})
}

func TestLoggerInterface(_ *testing.T) {
	var _ Logger = (*NoOpLogger)(nil)
	var _ Logger = (*ZerologLogger)(nil)
}
