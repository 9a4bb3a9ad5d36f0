// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default logger on stderr. Unknown levels fall back to info and
// unknown formats to text.
func Setup(logLevel, format string) {
	slog.SetDefault(New(os.Stderr, logLevel, format))
}

// New builds a logger writing to w with the given level and format ("text" or "json").
func New(w io.Writer, logLevel, format string) *slog.Logger {
	options := &slog.HandlerOptions{Level: ParseLevel(logLevel)}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, options))
	}

	return slog.New(slog.NewTextHandler(w, options))
}

// ParseLevel accepts debug, info, warn and error in any case.
func ParseLevel(logLevel string) slog.Level {
	var level slog.Level

	if err := level.UnmarshalText([]byte(strings.TrimSpace(logLevel))); err != nil {
		return slog.LevelInfo
	}

	return level
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
