package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func useBuffer(t *testing.T, level slog.Level, format string) *bytes.Buffer {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	slog.SetDefault(slog.New(NewHandler(&buf, level, format)))
	return &buf
}

func TestNew_HasComponent(t *testing.T) {
	buf := useBuffer(t, slog.LevelDebug, "text")

	New("interview").Info("hello")

	output := buf.String()
	if !strings.Contains(output, "component=interview") {
		t.Errorf("expected component=interview in output, got: %s", output)
	}
	if !strings.Contains(output, "hello") {
		t.Errorf("expected 'hello' in output, got: %s", output)
	}
}

func TestNewHandler_JSONFormat(t *testing.T) {
	buf := useBuffer(t, slog.LevelInfo, "JSON")

	New("json-test").Info("json check")

	if !strings.Contains(buf.String(), `"level":"INFO"`) {
		t.Errorf("expected JSON level in output, got: %s", buf.String())
	}
}

func TestNewHandler_LevelFilters(t *testing.T) {
	buf := useBuffer(t, slog.LevelWarn, "text")

	New("filter").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected INFO to be filtered at WARN, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
