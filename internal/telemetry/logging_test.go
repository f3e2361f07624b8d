package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	WithRunID(NewLogger(&buf, "INFO", "json"), "r-1").Info("hello")
	if !strings.Contains(buf.String(), `"run_id":"r-1"`) {
		t.Errorf("json output missing run_id: %s", buf.String())
	}

	buf.Reset()
	WithStepID(NewLogger(&buf, "INFO", "text"), "s-1").Info("hello")
	if !strings.Contains(buf.String(), "step_id=s-1") {
		t.Errorf("text output missing step_id: %s", buf.String())
	}

	buf.Reset()
	NewLogger(&buf, "WARN", "json").Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at WARN: %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	logger := Discard()
	ctx := WithLogger(context.Background(), logger)

	if FromContext(ctx) != logger {
		t.Error("expected logger from context")
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger")
	}
}
