package util

import (
	"log/slog"
	"os"
)

var logger *slog.Logger

// InitLogger installs the process-wide slog logger. Verbose enables
// debug-level output.
func InitLogger(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
}

// GetLogger returns the process logger, initializing it at info level if
// InitLogger has not run yet.
func GetLogger() *slog.Logger {
	if logger == nil {
		InitLogger(false)
	}
	return logger
}

// Component returns a child logger tagged with a component name.
func Component(name string) *slog.Logger {
	return GetLogger().With("component", name)
}
