// Package logging provides a tiny abstraction over slog so the engine can
// depend on a minimal interface (Logger) while callers plug in any structured
// logger. It also offers domain helpers for the three events worth auditing:
// query lifecycle, tool invocations and model calls. Credential material never
// reaches this package; core.CredentialContext redacts itself before any
// value could be formatted.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger is the minimal structured logging interface used across the engine.
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

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{Logger: logger}
}

// NewJSONLogger builds a JSON Logger writing to w (os.Stdout if nil) at the
// given level.
func NewJSONLogger(w io.Writer, level slog.Level) *SlogAdapter {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &SlogAdapter{Logger: slog.New(handler)}
}

// NoOpLogger discards all log messages. Useful for tests or when logging is disabled.
type NoOpLogger struct{}

// Debug discards a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info discards an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn discards a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error discards an error message.
func (NoOpLogger) Error(string, ...any) {}

// ToolCall records one tool invocation outcome.
func ToolCall(l Logger, tool, callID string, dur time.Duration, err error) {
	if l == nil {
		return
	}
	if err != nil {
		l.Error("tool invocation failed", "tool", tool, "call_id", callID, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return
	}
	l.Info("tool invocation completed", "tool", tool, "call_id", callID, "duration_ms", dur.Milliseconds())
}

// ModelCall records one generation call outcome.
func ModelCall(l Logger, provider, model string, dur time.Duration, err error) {
	if l == nil {
		return
	}
	if err != nil {
		l.Error("model call failed", "provider", provider, "model", model, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return
	}
	l.Info("model call completed", "provider", provider, "model", model, "duration_ms", dur.Milliseconds())
}

// Query records a query reaching a terminal state.
func Query(l Logger, queryID, state string, iterations int, dur time.Duration) {
	if l == nil {
		return
	}
	l.Info("query finished", "query_id", queryID, "state", state, "iterations", iterations, "duration_ms", dur.Milliseconds())
}
