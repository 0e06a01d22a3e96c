// Package logging owns the process-wide slog configuration: level parsing,
// optional mirroring to a log file, and per-component child loggers.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"rttgcs/internal/config"
)

// Manager hands out component loggers and owns the log file lifecycle.
// Configure may be called again at runtime when settings change.
type Manager struct {
	mu     sync.RWMutex
	logger *slog.Logger
	file   *os.File
}

func NewManager() *Manager {
	return &Manager{
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
}

// Configure rebuilds the root logger from cfg. When file logging is enabled
// output is mirrored to both stdout and filePath.
func (m *Manager) Configure(cfg config.LoggingConfig, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	writer := io.Writer(os.Stdout)
	if cfg.LogToFile {
		cleanPath := filepath.Clean(filePath)
		// #nosec G304 -- path is resolved by app runtime and points to user config dir.
		file, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		m.file = file
		writer = teeWriter{os.Stdout, file}
	}

	m.logger = slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(m.logger)

	return nil
}

// Logger returns a child logger tagged with the owning component name,
// e.g. "lifecycle", "comms", "statefeed".
func (m *Manager) Logger(component string) *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.logger.With("component", component)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return err
		}
		m.file = nil
	}

	return nil
}

func ParseLevel(raw string) (slog.Leveler, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return nil, fmt.Errorf("unsupported log level: %q", raw)
	}
}

// teeWriter duplicates writes to both destinations. The write succeeds as
// long as either destination accepted the full payload, so a full disk does
// not silence console logging.
type teeWriter struct {
	console io.Writer
	file    io.Writer
}

func (w teeWriter) Write(p []byte) (int, error) {
	nc, errConsole := w.console.Write(p)
	nf, errFile := w.file.Write(p)

	if (errConsole == nil && nc == len(p)) || (errFile == nil && nf == len(p)) {
		return len(p), nil
	}
	if errConsole != nil {
		return 0, errConsole
	}
	if errFile != nil {
		return 0, errFile
	}

	return 0, io.ErrShortWrite
}
