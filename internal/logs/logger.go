// Package logs builds the process logger and moves log records through the
// shared log stream.
package logs

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a config level name to a slog level; unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler creates a console handler writing text, or JSON when format is
// "json". level may be a *slog.LevelVar so it can change at runtime.
func NewHandler(level slog.Leveler, format string, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
