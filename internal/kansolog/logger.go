// Package kansolog provides structured logging for objstore backends and
// the lease package, built on log/slog with a severity scale matching
// this codebase's own logging conventions (TRACE below DEBUG, WARNING
// instead of WARN).
package kansolog

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Severity levels, layered on top of slog.Level so TRACE can sit below
// slog's built-in LevelDebug.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

var severityNames = map[slog.Leveler]string{
	LevelTrace:   "TRACE",
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
}

// Format selects the handler used by New.
type Format int

const (
	// TextFormat writes human-readable "key=value" lines.
	TextFormat Format = iota
	// JSONFormat writes one JSON object per line.
	JSONFormat
)

// New builds a *slog.Logger writing to w at format, with the given
// minimum severity. The "severity" attribute replaces slog's default
// "level" key so output matches this codebase's convention.
func New(w io.Writer, format Format, minSeverity slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: minSeverity,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				level := a.Value.Any().(slog.Level)
				name, ok := severityNames[level]
				if !ok {
					name = level.String()
				}
				return slog.String("severity", name)
			}
			return a
		},
	}

	var handler slog.Handler
	switch format {
	case JSONFormat:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

var defaultLogger = New(os.Stderr, TextFormat, LevelInfo)

// Default returns the package-level logger used by objstore backends and
// the lease package when no logger is supplied explicitly.
func Default() *slog.Logger {
	return defaultLogger
}

// SetDefault replaces the package-level logger.
func SetDefault(l *slog.Logger) {
	defaultLogger = l
}

// FromContext returns the logger attached to ctx via WithContext, or
// Default() if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

type loggerContextKey struct{}

// WithContext returns a copy of ctx carrying l, retrievable with
// FromContext.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, l)
}
