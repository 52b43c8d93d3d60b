// Package logging builds the JSON logger shared by every command.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"
)

// Level maps the global --quiet and --verbose flags to a slog level.
func Level(c *cli.Context) slog.Level {
	switch {
	case c.Bool("quiet"):
		return slog.LevelError
	case c.Bool("verbose"):
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing JSON to stderr.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewWithFile returns a logger writing JSON to stderr and appending to
// logPath. The returned close function releases the file.
func NewWithFile(level slog.Level, logPath string) (*slog.Logger, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0750); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Clean(logPath), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	w := io.MultiWriter(os.Stderr, f)
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	return logger, f.Close, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
