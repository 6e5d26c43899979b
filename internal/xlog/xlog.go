// Package xlog is the service-wide structured logger. It mirrors the
// teacher's internal/logger package: a single package-level slog.Logger,
// configurable between text and JSON handlers, with severity-named
// helpers layered on top of slog's levels.
package xlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Severity mirrors slog.Level but with the names this service's
// components log under.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: LevelInfo}))

// Options configures Init.
type Options struct {
	Format string // "text" or "json"
	Level  slog.Level
	Output io.Writer
}

// Init replaces the package logger. Safe to call once at process start;
// not safe for concurrent use with logging calls.
func Init(opts Options) {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}

	ho := &slog.HandlerOptions{Level: opts.Level}
	var h slog.Handler
	if opts.Format == "json" {
		h = slog.NewJSONHandler(opts.Output, ho)
	} else {
		h = slog.NewTextHandler(opts.Output, ho)
	}

	defaultLogger = slog.New(h)
}

// With returns a child logger carrying the given attributes, e.g. a
// client or component name.
func With(args ...any) *slog.Logger {
	return defaultLogger.With(args...)
}

func Tracef(format string, args ...any) { logf(LevelTrace, format, args...) }
func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { logf(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { logf(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }

func logf(level slog.Level, format string, args ...any) {
	if !defaultLogger.Enabled(context.Background(), level) {
		return
	}
	defaultLogger.Log(context.Background(), level, sprintfOrFormat(format, args...))
}

func sprintfOrFormat(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
