// logging.go: Pluggable logging for the reload engine
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	"context"
	"log/slog"
	"sync"
)

// Logger defines the pluggable logging interface used by the watcher and its
// collaborators.
//
// Any logging framework can be plugged in by implementing these five methods.
// Arguments are alternating key-value pairs, as with log/slog.
//
// Example usage:
//
//	w, err := heimdall.NewWatcher(state, cfg,
//	    heimdall.WithLogger(slog.Default()))
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	With(args ...any) Logger
}

// NewLogger creates a Logger from supported logger types.
//
// Supported types:
//   - Logger interface: Used directly
//   - *slog.Logger: Wrapped in a SlogAdapter
//   - nil: Returns NoOpLogger for silent operation
//   - Unsupported types: Panic with descriptive message
func NewLogger(logger any) Logger {
	switch l := logger.(type) {
	case nil:
		return NewNoOpLogger()
	case Logger:
		return l
	case *slog.Logger:
		if l == nil {
			return NewNoOpLogger()
		}
		return NewSlogAdapter(l)
	default:
		panic("unsupported logger type: expected Logger interface, *slog.Logger or nil")
	}
}

// SlogAdapter adapts a *slog.Logger to the Logger interface.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Debug implements Logger interface
func (s *SlogAdapter) Debug(msg string, args ...any) {
	s.logger.Log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info implements Logger interface
func (s *SlogAdapter) Info(msg string, args ...any) {
	s.logger.Log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn implements Logger interface
func (s *SlogAdapter) Warn(msg string, args ...any) {
	s.logger.Log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error implements Logger interface
func (s *SlogAdapter) Error(msg string, args ...any) {
	s.logger.Log(context.Background(), slog.LevelError, msg, args...)
}

// With implements Logger interface
func (s *SlogAdapter) With(args ...any) Logger {
	return &SlogAdapter{logger: s.logger.With(args...)}
}

// NoOpLogger discards all log messages.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug implements Logger interface (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger interface (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger interface (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger interface (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger interface (no-op)
func (n *NoOpLogger) With(args ...any) Logger {
	return n
}

// TestLogger captures log messages; used by tests and by hosts that want to
// inspect reload history.
type TestLogger struct {
	mu       sync.RWMutex
	messages []TestLogMessage
	fields   []any
}

// TestLogMessage represents a captured log message.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new test logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

func (t *TestLogger) record(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := make([]any, 0, len(t.fields)+len(args))
	all = append(all, t.fields...)
	all = append(all, args...)
	t.messages = append(t.messages, TestLogMessage{Level: level, Message: msg, Args: all})
}

// Debug implements Logger interface (captures message)
func (t *TestLogger) Debug(msg string, args ...any) { t.record("DEBUG", msg, args) }

// Info implements Logger interface (captures message)
func (t *TestLogger) Info(msg string, args ...any) { t.record("INFO", msg, args) }

// Warn implements Logger interface (captures message)
func (t *TestLogger) Warn(msg string, args ...any) { t.record("WARN", msg, args) }

// Error implements Logger interface (captures message)
func (t *TestLogger) Error(msg string, args ...any) { t.record("ERROR", msg, args) }

// With returns a child logger that shares the parent's message buffer and
// prepends args to every record.
func (t *TestLogger) With(args ...any) Logger {
	child := &TestLogger{fields: append(append([]any{}, t.fields...), args...)}
	return &sharedTestLogger{root: t, child: child}
}

// sharedTestLogger writes into the root TestLogger buffer.
type sharedTestLogger struct {
	root  *TestLogger
	child *TestLogger
}

func (s *sharedTestLogger) log(level, msg string, args []any) {
	all := append(append([]any{}, s.child.fields...), args...)
	s.root.mu.Lock()
	s.root.messages = append(s.root.messages, TestLogMessage{Level: level, Message: msg, Args: all})
	s.root.mu.Unlock()
}

func (s *sharedTestLogger) Debug(msg string, args ...any) { s.log("DEBUG", msg, args) }
func (s *sharedTestLogger) Info(msg string, args ...any)  { s.log("INFO", msg, args) }
func (s *sharedTestLogger) Warn(msg string, args ...any)  { s.log("WARN", msg, args) }
func (s *sharedTestLogger) Error(msg string, args ...any) { s.log("ERROR", msg, args) }

func (s *sharedTestLogger) With(args ...any) Logger {
	return &sharedTestLogger{
		root:  s.root,
		child: &TestLogger{fields: append(append([]any{}, s.child.fields...), args...)},
	}
}

// Messages returns a snapshot of the captured messages.
func (t *TestLogger) Messages() []TestLogMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TestLogMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

// HasMessage checks if the logger captured message at level.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.messages {
		if msg.Level == level && msg.Message == message {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	t.messages = t.messages[:0]
	t.mu.Unlock()
}
