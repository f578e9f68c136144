package logging

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
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, "json", slog.LevelInfo))
	logger.Info("stage complete", "stage", "cleanse")

	if !strings.Contains(buf.String(), `"stage":"cleanse"`) {
		t.Errorf("expected JSON output, got: %s", buf.String())
	}
}

func TestRunIDContext(t *testing.T) {
	id := NewRunID()
	if id == "" {
		t.Fatal("NewRunID returned empty string")
	}
	ctx := WithRunID(context.Background(), id)
	if got := RunID(ctx); got != id {
		t.Errorf("RunID = %q, want %q", got, id)
	}
	if got := RunID(context.Background()); got != "" {
		t.Errorf("RunID on bare context = %q, want empty", got)
	}
}
