// Package logging sets up the file logger. The TUI owns the terminal, so
// logs go to a dated file unless a path or "-" (stderr) is given.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Stderr selects standard error instead of a file.
const Stderr = "-"

// DefaultPath returns ~/.dpv/logs/dpv-YYYY-MM-DD.log.
func DefaultPath(now time.Time) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	name := fmt.Sprintf("dpv-%s.log", now.Format("2006-01-02"))
	return filepath.Join(homeDir, ".dpv", "logs", name), nil
}

// Open creates a logger writing to path. The returned closer releases the
// file; it is a no-op for stderr.
func Open(path string, level log.Level) (*log.Logger, io.Closer, error) {
	if path == Stderr {
		return newLogger(os.Stderr, level), nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return newLogger(f, level), f, nil
}

// Discard returns a logger that writes nothing.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
	})
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
