// Package logger provides the structured logger shared by the driver,
// backends, server and CLI.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the logging surface the rest of kvrun depends on. Tests inject
// Discard or a buffer-backed JSON logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
}

// Output formats accepted by Setup.
const (
	FormatPretty = "pretty"
	FormatJSON   = "json"
	FormatText   = "text"
)

type slogLogger struct {
	*slog.Logger
}

func (l slogLogger) With(args ...any) Logger      { return slogLogger{l.Logger.With(args...)} }
func (l slogLogger) WithGroup(name string) Logger { return slogLogger{l.Logger.WithGroup(name)} }

// New wraps an slog handler.
func New(h slog.Handler) Logger {
	return slogLogger{slog.New(h)}
}

func handlerOptions(level slog.Level, source bool) *slog.HandlerOptions {
	return &slog.HandlerOptions{Level: level, AddSource: source}
}

// Default is the stderr text logger used when no logger was configured.
func Default() Logger {
	return New(slog.NewTextHandler(os.Stderr, handlerOptions(slog.LevelInfo, false)))
}

// JSON logs one object per line. Used by `kvrun serve --log-format json`.
func JSON(w io.Writer, level slog.Level) Logger {
	return New(slog.NewJSONHandler(w, handlerOptions(level, true)))
}

// Pretty logs for a human at a terminal.
func Pretty(w io.Writer, level slog.Level) Logger {
	return New(NewPrettyHandler(w, handlerOptions(level, true)))
}

// Discard returns a Logger that drops every record.
func Discard() Logger {
	return New(slog.NewTextHandler(io.Discard, handlerOptions(slog.LevelError+1, false)))
}

type contextKey struct{}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger stored by WithContext, or Default.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(contextKey{}).(Logger); ok {
		return l
	}
	return Default()
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a level name to slog.Level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	if lvl, ok := levels[strings.ToLower(strings.TrimSpace(name))]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// Setup builds the process logger for a --log-format/--log-level pair.
func Setup(w io.Writer, format, level string) (Logger, error) {
	lvl := ParseLevel(level)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatPretty:
		return Pretty(w, lvl), nil
	case FormatJSON:
		return JSON(w, lvl), nil
	case FormatText:
		return New(slog.NewTextHandler(w, handlerOptions(lvl, false))), nil
	}
	return nil, fmt.Errorf("unknown log format %q (expected %s, %s or %s)", format, FormatPretty, FormatJSON, FormatText)
}
