package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func parseLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestNewDispatcherLogger(t *testing.T) {
	dl := NewDispatcherLogger(zerolog.New(&bytes.Buffer{}))
	if dl == nil {
		t.Fatal("expected non-nil DispatcherLogger")
	}
}

func TestDispatcherLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Debug("test message", "key1", "value1", "key2", 42)

	entry := parseLogLine(t, &buf)
	if entry["level"] != "debug" {
		t.Errorf("expected level 'debug', got %v", entry["level"])
	}
	if entry["message"] != "test message" {
		t.Errorf("expected message 'test message', got %v", entry["message"])
	}
	if entry["key1"] != "value1" {
		t.Errorf("expected key1='value1', got %v", entry["key1"])
	}
	if entry["key2"] != float64(42) { // JSON numbers are float64
		t.Errorf("expected key2=42, got %v", entry["key2"])
	}
}

func TestDispatcherLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Info("info message", "status", "ok")

	entry := parseLogLine(t, &buf)
	if entry["level"] != "info" {
		t.Errorf("expected level 'info', got %v", entry["level"])
	}
	if entry["status"] != "ok" {
		t.Errorf("expected status='ok', got %v", entry["status"])
	}
}

func TestDispatcherLogger_Error(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Error("error occurred", "code", 500, "reason", "internal")

	entry := parseLogLine(t, &buf)
	if entry["level"] != "error" {
		t.Errorf("expected level 'error', got %v", entry["level"])
	}
	if entry["code"] != float64(500) {
		t.Errorf("expected code=500, got %v", entry["code"])
	}
	if entry["reason"] != "internal" {
		t.Errorf("expected reason='internal', got %v", entry["reason"])
	}
}

func TestDispatcherLogger_NoKeyValues(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Debug("simple message")

	entry := parseLogLine(t, &buf)
	if entry["message"] != "simple message" {
		t.Errorf("expected message 'simple message', got %v", entry["message"])
	}
}

func TestDispatcherLogger_TrailingKeyDropped(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Info("odd pairs", "kept", 1, "dangling")

	entry := parseLogLine(t, &buf)
	if entry["kept"] != float64(1) {
		t.Errorf("expected kept=1, got %v", entry["kept"])
	}
	if _, ok := entry["dangling"]; ok {
		t.Error("expected dangling key to be dropped")
	}
}

func TestDispatcherLogger_ImplementsInterface(t *testing.T) {
	dl := NewDispatcherLogger(zerolog.New(&bytes.Buffer{}))

	// These assignments would fail to compile if the interface isn't satisfied
	var _ interface {
		Debug(msg string, keysAndValues ...any)
		Info(msg string, keysAndValues ...any)
		Error(msg string, keysAndValues ...any)
	} = dl
}
