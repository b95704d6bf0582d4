package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestColorTextHandlerPlainWhenColorDisabled(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false)
	l := slog.New(h)
	l.Info("hello", "k", "v")
	out := buf.String()
	if strings.Contains(out, "\033[") {
		t.Fatalf("color codes emitted with color disabled: %q", out)
	}
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "k=v") {
		t.Fatalf("output = %q", out)
	}
}

func TestColorTextHandlerColorsLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, true)
	l := slog.New(h)
	l.Warn("careful")
	out := buf.String()
	if !strings.Contains(out, "\033[33m") || !strings.Contains(out, "careful") {
		t.Fatalf("output = %q", out)
	}
}

func TestTeeHandlerWritesBoth(t *testing.T) {
	var a, b bytes.Buffer
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	tee := teeHandler{slog.NewTextHandler(&a, opts), slog.NewTextHandler(&b, opts)}
	l := slog.New(tee)
	l.Info("fan out", "side", "both")
	for name, buf := range map[string]*bytes.Buffer{"a": &a, "b": &b} {
		if !strings.Contains(buf.String(), "fan out") {
			t.Fatalf("destination %s missing record: %q", name, buf.String())
		}
	}
}

func TestTeeHandlerEnabledWhenEitherIs(t *testing.T) {
	var a, b bytes.Buffer
	tee := teeHandler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	if !tee.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("tee should be enabled when one destination accepts the level")
	}
}

func TestSetupCreatesLogFileDirectory(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	file := filepath.Join(t.TempDir(), "nested", "airflowctl.log")
	closer, err := Setup(Config{Level: slog.LevelInfo, File: file})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if closer == nil {
		t.Fatal("expected a closer for the file writer")
	}
	defer func() { _ = closer.Close() }()

	slog.Info("rotating file sink ready")
	if _, err := os.Stat(filepath.Dir(file)); err != nil {
		t.Fatalf("log directory not created: %v", err)
	}
	b, err := os.ReadFile(file) // #nosec G304
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(b), "rotating file sink ready") {
		t.Fatalf("file content = %q", string(b))
	}
}
