package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pario-ai/aigate/pkg/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newWithWriter(config.LoggingConfig{Level: "warn"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "feature", "captions")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line should be filtered")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "captions") {
		t.Errorf("missing warn line: %q", out)
	}
}

func TestNewWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Dir: dir, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1}
	logger, err := newWithWriter(cfg, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("to_file")

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "to_file") {
		t.Errorf("log file missing entry: %q", data)
	}
}

func TestNewRejectsBadRotation(t *testing.T) {
	_, err := newWithWriter(config.LoggingConfig{Dir: t.TempDir()}, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error for zero rotation limits")
	}
}
