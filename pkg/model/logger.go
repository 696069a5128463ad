package model

import (
	"log"
	"os"
	"strings"
)

// Logger defines the interface for logging operations
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	IsLevelEnabled(level LogLevel) bool
}

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// ParseLogLevel maps a level name ("debug", "info", "warn", "error") to a
// LogLevel. Unknown names fall back to LogLevelInfo.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// DefaultLogger implements the Logger interface using the standard log
// package. An optional prefix names the component emitting the message.
type DefaultLogger struct {
	level  LogLevel
	prefix string
	logger *log.Logger
}

// NewDefaultLogger creates a new DefaultLogger with the specified log level
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	return &DefaultLogger{
		level:  level,
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

// WithPrefix returns a copy of the logger that tags every message with the
// given component name.
func (l *DefaultLogger) WithPrefix(prefix string) *DefaultLogger {
	return &DefaultLogger{
		level:  l.level,
		prefix: "[" + prefix + "] ",
		logger: l.logger,
	}
}

func (l *DefaultLogger) output(tag, format string, args ...any) {
	l.logger.Printf(tag+" "+l.prefix+format, args...)
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(format string, args ...any) {
	if l.level <= LogLevelDebug {
		l.output("[DEBUG]", format, args...)
	}
}

// Info logs an informational message
func (l *DefaultLogger) Info(format string, args ...any) {
	if l.level <= LogLevelInfo {
		l.output("[INFO]", format, args...)
	}
}

// Warn logs a warning message
func (l *DefaultLogger) Warn(format string, args ...any) {
	if l.level <= LogLevelWarn {
		l.output("[WARN]", format, args...)
	}
}

// Error logs an error message
func (l *DefaultLogger) Error(format string, args ...any) {
	if l.level <= LogLevelError {
		l.output("[ERROR]", format, args...)
	}
}

// IsLevelEnabled returns true if the given log level is enabled
func (l *DefaultLogger) IsLevelEnabled(level LogLevel) bool {
	return l.level <= level
}

// NoOpLogger is a logger implementation that discards all log messages
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug discards the debug message
func (l *NoOpLogger) Debug(format string, args ...any) {}

// Info discards the informational message
func (l *NoOpLogger) Info(format string, args ...any) {}

// Warn discards the warning message
func (l *NoOpLogger) Warn(format string, args ...any) {}

// Error discards the error message
func (l *NoOpLogger) Error(format string, args ...any) {}

// IsLevelEnabled always returns false for NoOpLogger
func (l *NoOpLogger) IsLevelEnabled(level LogLevel) bool {
	return false
}

var (
	// DefaultLoggerInstance is the default logger used by the package
	DefaultLoggerInstance Logger = NewDefaultLogger(LogLevelInfo)
)

// SetDefaultLogger sets the default logger instance
func SetDefaultLogger(logger Logger) {
	DefaultLoggerInstance = logger
}

// GetDefaultLogger returns the current default logger instance
func GetDefaultLogger() Logger {
	return DefaultLoggerInstance
}
