// Package logging provides structured logging for the streaming console.
// It wraps log/slog with level gating, component scoping and redaction of credentials.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of log messages
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a LogLevel, defaulting to InfoLevel
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides structured logging with component scoping
type Logger struct {
	logger    *slog.Logger
	level     LogLevel
	component string
}

// Config represents logging configuration
type Config struct {
	Level     LogLevel
	Format    string    // "json" or "text"
	Output    string    // "stdout", "stderr", or file path
	Writer    io.Writer // overrides Output when set
	Component string
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:     InfoLevel,
		Format:    "text",
		Output:    "stderr",
		Component: "console",
	}
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	output := config.Writer
	if output == nil {
		switch config.Output {
		case "stdout":
			output = os.Stdout
		case "stderr", "":
			output = os.Stderr
		default:
			file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file %s: %w", config.Output, err)
			}
			output = file
		}
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel(config.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			key := strings.ToLower(a.Key)
			if key == "token" || key == "authorization" || strings.Contains(key, "password") {
				return slog.String(a.Key, "[REDACTED]")
			}
			return a
		},
	}

	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		logger:    slog.New(handler),
		level:     config.Level,
		component: config.Component,
	}, nil
}

// slogLevel converts our LogLevel to slog.Level
func slogLevel(level LogLevel) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns the component this logger is scoped to
func (l *Logger) Component() string {
	return l.component
}

// WithComponent creates a new logger for a specific component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		logger:    l.logger.With(slog.String("component", component)),
		level:     l.level,
		component: component,
	}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		logger:    l.logger.With(slog.Any(key, value)),
		level:     l.level,
		component: l.component,
	}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{
		logger:    l.logger.With(args...),
		level:     l.level,
		component: l.component,
	}
}

// Debug logs a debug level message
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.level <= DebugLevel {
		l.logger.Debug(msg, args...)
	}
}

// Info logs an info level message
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.level <= InfoLevel {
		l.logger.Info(msg, args...)
	}
}

// Warn logs a warning level message
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.level <= WarnLevel {
		l.logger.Warn(msg, args...)
	}
}

// Error logs an error level message
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.level <= ErrorLevel {
		l.logger.Error(msg, args...)
	}
}

// LogOperation logs the start and end of an operation with duration
func (l *Logger) LogOperation(operation string, fn func() error) error {
	start := time.Now()
	opLogger := l.WithField("operation", operation)

	opLogger.Debug("Operation starting")

	err := fn()
	duration := time.Since(start)

	if err != nil {
		opLogger.Error("Operation failed",
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return err
	}

	opLogger.Debug("Operation completed",
		slog.Duration("duration", duration))
	return nil
}

// LogConnectionAttempt logs connection attempt details. The endpoint is expected
// to be on the logger already, see WithField.
func (l *Logger) LogConnectionAttempt(authType string) {
	l.Info("Attempting connection",
		slog.String("auth_type", authType))
}

// LogConnectionSuccess logs successful connection establishment
func (l *Logger) LogConnectionSuccess(duration time.Duration) {
	l.Info("Connection established",
		slog.Duration("connection_duration", duration))
}

// LogConnectionFailure logs connection failure with detailed context
func (l *Logger) LogConnectionFailure(err error, duration time.Duration) {
	l.Error("Connection failed",
		slog.String("error", err.Error()),
		slog.Duration("attempt_duration", duration))
}

// LogReconnectAttempt logs one step of the reconnect loop
func (l *Logger) LogReconnectAttempt(attempt int, maxAttempts int, delay time.Duration) {
	l.Info("Reconnecting",
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", maxAttempts),
		slog.Duration("delay", delay))
}

// LogProbeResult logs the outcome of a pre-connect availability probe
func (l *Logger) LogProbeResult(url string, status int, responseTime time.Duration, err error) {
	fields := []interface{}{
		slog.String("url", url),
		slog.Int("status_code", status),
		slog.Duration("response_time", responseTime),
	}

	if err != nil {
		fields = append(fields, slog.String("error", err.Error()))
		l.Warn("Availability probe failed", fields...)
		return
	}
	l.Debug("Availability probe succeeded", fields...)
}

// LogEnvelope logs a wire envelope without its payload
func (l *Logger) LogEnvelope(direction string, envType string, id string, size int) {
	l.Debug("Envelope",
		slog.String("direction", direction),
		slog.String("type", envType),
		slog.String("id", id),
		slog.Int("bytes", size))
}

// LogConfigLoad logs configuration loading operations
func (l *Logger) LogConfigLoad(configPath string, profileName string) {
	l.Debug("Loading configuration",
		slog.String("config_path", configPath),
		slog.String("profile", profileName))
}

// LogConfigError logs configuration-related errors
func (l *Logger) LogConfigError(operation string, err error) {
	l.Error("Configuration error",
		slog.String("operation", operation),
		slog.String("error", err.Error()))
}

// LogUIStateChange logs user interface state transitions
func (l *Logger) LogUIStateChange(from string, to string, reason string) {
	l.Debug("UI state change",
		slog.String("from", from),
		slog.String("to", to),
		slog.String("reason", reason))
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitGlobalLogger initializes the global logger with the specified configuration
func InitGlobalLogger(config Config) error {
	logger, err := NewLogger(config)
	if err != nil {
		return fmt.Errorf("failed to initialize global logger: %w", err)
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
	return nil
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		// Fallback to default configuration if not initialized
		globalLogger, _ = NewLogger(DefaultConfig())
	}
	return globalLogger
}

// Component-specific logger creators
func GetProtocolLogger() *Logger {
	return GetGlobalLogger().WithComponent("protocol")
}

func GetTransportLogger() *Logger {
	return GetGlobalLogger().WithComponent("transport")
}

func GetStreamLogger() *Logger {
	return GetGlobalLogger().WithComponent("stream")
}

func GetConfigLogger() *Logger {
	return GetGlobalLogger().WithComponent("config")
}

func GetAuthLogger() *Logger {
	return GetGlobalLogger().WithComponent("auth")
}

func GetUILogger() *Logger {
	return GetGlobalLogger().WithComponent("ui")
}

func GetContentLogger() *Logger {
	return GetGlobalLogger().WithComponent("content")
}

func GetRegistryLogger() *Logger {
	return GetGlobalLogger().WithComponent("registry")
}
