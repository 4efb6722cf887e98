package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

func newLogger(levelStr, formatStr string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(formatStr), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// commandLogger builds the logger from the root's persistent flags. A
// subcommand executed on its own falls back to info-level text.
func commandLogger(cmd *cobra.Command) (*slog.Logger, bool) {
	level, format := "info", "text"
	if f := cmd.Flags().Lookup("log-level"); f != nil {
		level = f.Value.String()
	}
	if f := cmd.Flags().Lookup("log-format"); f != nil {
		format = f.Value.String()
	}
	return newLogger(level, format, cmd.ErrOrStderr()), strings.EqualFold(format, "json")
}
