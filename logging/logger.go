// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. CoordinatorLogger adds contextual cloning helpers
// (conversation, turn, component) plus domain specific helpers for pipeline
// steps, retries and handoffs.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger defines the minimal logging interface used throughout Engram.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// NoOpLogger discards all log messages. Useful for testing or when logging
// is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// LoggerConfig configures construction of a CoordinatorLogger.
type LoggerConfig struct {
	Level     slog.Level
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: slog.LevelInfo, Format: "json", Output: os.Stdout}
}

// CoordinatorLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods. It is cheap to copy via With* methods.
type CoordinatorLogger struct {
	logger         *slog.Logger
	level          slog.Level
	component      string
	conversationID string
	turnID         string
}

// NewLogger builds a CoordinatorLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *CoordinatorLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &CoordinatorLogger{logger: slog.New(handler), level: cfg.Level, component: cfg.Component}
}

func (l *CoordinatorLogger) clone() *CoordinatorLogger {
	nl := *l
	return &nl
}

// WithComponent sets the logical component (coordinator, pipeline, journal, ...).
func (l *CoordinatorLogger) WithComponent(c string) *CoordinatorLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// WithConversation attaches conversation and turn identifiers.
func (l *CoordinatorLogger) WithConversation(conversationID, turnID string) *CoordinatorLogger {
	nl := l.clone()
	nl.conversationID = conversationID
	nl.turnID = turnID
	return nl
}

func (l *CoordinatorLogger) attrs(extra ...slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(extra)+3)
	if l.component != "" {
		out = append(out, slog.String("component", l.component))
	}
	if l.conversationID != "" {
		out = append(out, slog.String("conversation_id", l.conversationID))
	}
	if l.turnID != "" {
		out = append(out, slog.String("turn_id", l.turnID))
	}
	return append(out, extra...)
}

func (l *CoordinatorLogger) log(level slog.Level, msg string, args ...any) {
	if level < l.level {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.logger.LogAttrs(context.Background(), level, msg, l.attrs()...)
}

// Debug logs at debug level.
func (l *CoordinatorLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *CoordinatorLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *CoordinatorLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *CoordinatorLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// LogStep records the outcome of one pipeline step attempt.
func (l *CoordinatorLogger) LogStep(step string, attempt int, dur time.Duration, err error) {
	attrs := l.attrs(
		slog.String("step", step),
		slog.Int("attempt", attempt),
		slog.Duration("duration", dur),
		slog.Bool("success", err == nil),
	)
	level := slog.LevelInfo
	msg := "Pipeline step completed"
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		level = slog.LevelWarn
		msg = "Pipeline step failed"
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// LogHandoff records an agent switch.
func (l *CoordinatorLogger) LogHandoff(from, to string) {
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "Agent handoff",
		l.attrs(slog.String("from_agent", from), slog.String("to_agent", to))...)
}

// LogQuarantine records a conversation being halted by a fatal error.
func (l *CoordinatorLogger) LogQuarantine(err error) {
	l.logger.LogAttrs(context.Background(), slog.LevelError, "Conversation quarantined",
		l.attrs(slog.String("error", err.Error()))...)
}
