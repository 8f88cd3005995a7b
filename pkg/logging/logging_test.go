package logging

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewWritesStderrAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "vp.log")
	l, err := New(Options{Level: "info", File: path, MaxSizeMB: 1, Stderr: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.Debug("hidden")
	l.Info("feed updated", "feed", "latest_blocks")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	if strings.Contains(buf.String(), "hidden") {
		t.Error("debug line written at info level")
	}
	if !strings.Contains(buf.String(), "feed=latest_blocks") {
		t.Errorf("stderr = %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "feed updated") {
		t.Errorf("file = %q", data)
	}
}

func TestVerboseForcesDebug(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "error", Verbose: true, Stderr: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.Debug("details")
	if !strings.Contains(buf.String(), "details") {
		t.Error("verbose logger dropped debug line")
	}
	if err := l.Rotate(); err != nil {
		t.Errorf("Rotate without file: %v", err)
	}
}

func TestDiscardConsoleWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vp.log")
	l, err := New(Options{File: path, Stderr: io.Discard})
	if err != nil {
		t.Fatal(err)
	}
	l.Warn("only in file")
	l.Close()
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "only in file") {
		t.Errorf("file = %q", data)
	}
}
