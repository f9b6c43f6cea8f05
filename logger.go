package mqttd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug is the debug log level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the info log level.
	LogLevelInfo
	// LogLevelWarn is the warn log level.
	LogLevelWarn
	// LogLevelError is the error log level.
	LogLevelError
	// LogLevelNone disables all logging.
	LogLevelNone
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a level name such as "debug" or "WARN" to a LogLevel.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "info", "":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none", "off":
		return LogLevelNone, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// LogFields represents key-value pairs for structured logging.
type LogFields map[string]any

// Logger defines the interface for logging.
type Logger interface {
	// Debug logs a debug message.
	Debug(msg string, fields LogFields)

	// Info logs an info message.
	Info(msg string, fields LogFields)

	// Warn logs a warning message.
	Warn(msg string, fields LogFields)

	// Error logs an error message.
	Error(msg string, fields LogFields)

	// WithFields returns a new logger with the given fields added.
	WithFields(fields LogFields) Logger

	// Level returns the current log level.
	Level() LogLevel

	// SetLevel sets the log level.
	SetLevel(level LogLevel)
}

// NoOpLogger is a logger that does nothing.
type NoOpLogger struct {
	level LogLevel
}

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{level: LogLevelNone}
}

// Debug does nothing.
func (n *NoOpLogger) Debug(_ string, _ LogFields) {}

// Info does nothing.
func (n *NoOpLogger) Info(_ string, _ LogFields) {}

// Warn does nothing.
func (n *NoOpLogger) Warn(_ string, _ LogFields) {}

// Error does nothing.
func (n *NoOpLogger) Error(_ string, _ LogFields) {}

// WithFields returns the same logger.
func (n *NoOpLogger) WithFields(_ LogFields) Logger {
	return n
}

// Level returns the log level.
func (n *NoOpLogger) Level() LogLevel {
	return n.level
}

// SetLevel sets the log level.
func (n *NoOpLogger) SetLevel(level LogLevel) {
	n.level = level
}

// ZerologLogger is a Logger backed by zerolog.
type ZerologLogger struct {
	logger zerolog.Logger
	level  LogLevel
}

// NewZerologLogger creates a logger writing JSON lines to w.
// A nil writer selects os.Stderr.
func NewZerologLogger(w io.Writer, level LogLevel) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	return NewZerologLoggerFrom(zerolog.New(w).With().Timestamp().Logger(), level)
}

// NewZerologLoggerFrom wraps an existing zerolog logger.
func NewZerologLoggerFrom(logger zerolog.Logger, level LogLevel) *ZerologLogger {
	return &ZerologLogger{
		logger: logger.Level(zerologLevel(level)),
		level:  level,
	}
}

// Debug logs a debug message.
func (z *ZerologLogger) Debug(msg string, fields LogFields) {
	z.logger.Debug().Fields(map[string]any(fields)).Msg(msg)
}

// Info logs an info message.
func (z *ZerologLogger) Info(msg string, fields LogFields) {
	z.logger.Info().Fields(map[string]any(fields)).Msg(msg)
}

// Warn logs a warning message.
func (z *ZerologLogger) Warn(msg string, fields LogFields) {
	z.logger.Warn().Fields(map[string]any(fields)).Msg(msg)
}

// Error logs an error message.
func (z *ZerologLogger) Error(msg string, fields LogFields) {
	z.logger.Error().Fields(map[string]any(fields)).Msg(msg)
}

// WithFields returns a new logger with the given fields added.
func (z *ZerologLogger) WithFields(fields LogFields) Logger {
	return &ZerologLogger{
		logger: z.logger.With().Fields(map[string]any(fields)).Logger(),
		level:  z.level,
	}
}

// Level returns the current log level.
func (z *ZerologLogger) Level() LogLevel {
	return z.level
}

// SetLevel sets the log level.
func (z *ZerologLogger) SetLevel(level LogLevel) {
	z.level = level
	z.logger = z.logger.Level(zerologLevel(level))
}

func zerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

// Standard field names for MQTT logging.
const (
	// LogFieldClientID is the client ID field.
	LogFieldClientID = "client_id"

	// LogFieldSession is the server-assigned connection index.
	LogFieldSession = "session"

	// LogFieldTopic is the topic field.
	LogFieldTopic = "topic"

	// LogFieldPacketID is the packet ID field.
	LogFieldPacketID = "packet_id"

	// LogFieldPacketType is the packet type field.
	LogFieldPacketType = "packet_type"

	// LogFieldQoS is the QoS field.
	LogFieldQoS = "qos"

	// LogFieldReturnCode is the CONNACK return code field.
	LogFieldReturnCode = "return_code"

	// LogFieldError is the error field.
	LogFieldError = "error"

	// LogFieldRemoteAddr is the remote address field.
	LogFieldRemoteAddr = "remote_addr"

	// LogFieldListener is the listener address field.
	LogFieldListener = "listener"

	// LogFieldBytes is the bytes field.
	LogFieldBytes = "bytes"
)
