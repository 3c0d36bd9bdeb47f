package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info level, got %s", log.GetLevel())
	}
}

func TestNewWithOptions(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantLevel zerolog.Level
		wantJSON  bool
	}{
		{name: "defaults", opts: Options{}, wantLevel: zerolog.InfoLevel},
		{name: "json debug", opts: Options{Level: "DEBUG", Format: "json"}, wantLevel: zerolog.DebugLevel, wantJSON: true},
		{name: "unknown level", opts: Options{Level: "chatty"}, wantLevel: zerolog.InfoLevel},
		{name: "warn console", opts: Options{Level: " warn ", Format: "console"}, wantLevel: zerolog.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.opts.Out = buf
			log := NewWithOptions(tt.opts)

			if log.GetLevel() != tt.wantLevel {
				t.Errorf("level = %s, want %s", log.GetLevel(), tt.wantLevel)
			}

			log.Error().Str("k", "v").Msg("hello")
			out := buf.String()
			if !strings.Contains(out, "hello") {
				t.Fatalf("Expected output to contain message, got: %s", out)
			}
			if isJSON := strings.HasPrefix(strings.TrimSpace(out), "{"); isJSON != tt.wantJSON {
				t.Errorf("JSON output = %v, want %v: %s", isJSON, tt.wantJSON, out)
			}
		})
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestNop(t *testing.T) {
	if Nop().GetLevel() != zerolog.Disabled {
		t.Error("Expected Nop logger to be disabled")
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"purchase_id": "123",
		"kind":        "ingest-receipt",
	})
	log.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, `"purchase_id":"123"`) {
		t.Errorf("Expected output to contain purchase_id field, got: %s", output)
	}
	if !strings.Contains(output, `"kind":"ingest-receipt"`) {
		t.Errorf("Expected output to contain kind field, got: %s", output)
	}
}
