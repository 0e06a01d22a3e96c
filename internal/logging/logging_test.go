package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rttgcs/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw     string
		want    slog.Leveler
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", nil, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)

			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestConfigureWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	m := NewManager()
	if err := m.Configure(config.LoggingConfig{Level: "info", LogToFile: true}, path); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	m.Logger("test").Info("link established", "port", "/dev/ttyUSB0")

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "link established") {
		t.Errorf("log file missing message, got: %s", raw)
	}
	if !strings.Contains(string(raw), "component=test") {
		t.Errorf("log file missing component attribute, got: %s", raw)
	}
}

func TestConfigureRejectsBadLevel(t *testing.T) {
	m := NewManager()
	err := m.Configure(config.LoggingConfig{Level: "loud"}, "")
	if err == nil {
		t.Fatal("expected error for unsupported level")
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestTeeWriterToleratesOneFailure(t *testing.T) {
	var buf strings.Builder
	w := teeWriter{console: &buf, file: failWriter{}}

	n, err := w.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 5 {
		t.Errorf("n = %d, want 5", n)
	}
	if buf.String() != "hello" {
		t.Errorf("console got %q", buf.String())
	}
}

func TestTeeWriterBothFail(t *testing.T) {
	w := teeWriter{console: failWriter{}, file: failWriter{}}
	if _, err := w.Write([]byte("x")); err == nil {
		t.Fatal("expected error when both writers fail")
	}
}

var _ io.Writer = teeWriter{}
