package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newLogger creates the command logger on stderr. A terminal gets
// slog.TextHandler; anything else (CI, an MCP host, a pipe) gets
// slog.JSONHandler.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
