// Package util provides shared helpers for logging, retries and rate
// limiting.
package util

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogOptions selects the level, encoding and destination of a logger.
type LogOptions struct {
	Level     string    // debug, info, warn or error; empty means info
	Format    string    // json (default) or text
	Output    io.Writer // defaults to stdout
	AddSource bool
}

// ParseLevel maps a level name to a slog.Level. The empty string is info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger creates a structured logger. An unrecognised level falls back
// to info and is reported once through the new logger.
func NewLogger(opts LogOptions) *slog.Logger {
	lvl, lvlErr := ParseLevel(opts.Level)
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	ho := &slog.HandlerOptions{Level: lvl, AddSource: opts.AddSource}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "text":
		handler = slog.NewTextHandler(out, ho)
	default:
		handler = slog.NewJSONHandler(out, ho)
	}

	logger := slog.New(handler)
	if lvlErr != nil {
		logger.Warn("falling back to info", "error", lvlErr)
	}
	return logger
}

// SetDefault configures the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
