package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/phsym/console-slog"
	"golang.org/x/term"
)

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger logs in color to a terminal and as JSON everywhere else.
func newLogger(out io.Writer, level string) *slog.Logger {
	lvl := parseLevel(level)

	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return slog.New(console.NewHandler(out, &console.HandlerOptions{Level: lvl}))
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
}
