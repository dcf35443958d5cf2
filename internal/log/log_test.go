package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			if got := ParseLevel(tc.in); got != tc.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestInitWithWriter_Level(t *testing.T) {
	t.Setenv("GO_ENV", "")

	var buf bytes.Buffer
	InitWithWriter("warn", &buf)
	defer Init("info")

	Info("hidden message")
	Warn("visible message", "device", "/dev/video0")

	out := buf.String()
	if strings.Contains(out, "hidden message") {
		t.Errorf("info message should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "visible message") {
		t.Errorf("warn message should be written: %s", out)
	}
	if !strings.Contains(out, "device=/dev/video0") {
		t.Errorf("attributes should be written: %s", out)
	}
}

func TestWith_JSONInProduction(t *testing.T) {
	t.Setenv("GO_ENV", "production")

	var buf bytes.Buffer
	InitWithWriter("debug", &buf)
	defer Init("info")

	With("tag", "device-grabber").Debug("opened")

	out := buf.String()
	if !strings.HasPrefix(out, "{") {
		t.Errorf("expected JSON output in production, got %s", out)
	}
	if !strings.Contains(out, `"tag":"device-grabber"`) {
		t.Errorf("expected tag attribute, got %s", out)
	}
}
