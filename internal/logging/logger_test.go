package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

func newTestLogger(minLevel Level) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &Logger{mu: &sync.Mutex{}, out: buf, minLevel: minLevel}, buf
}

// TestLoggerJSONOutput verifies entries are valid JSON with the
// expected fields.
func TestLoggerJSONOutput(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)

	l.Info("record saved", map[string]interface{}{"record_id": "t1"})

	var e map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &e); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if e["level"] != "INFO" {
		t.Errorf("Expected level INFO, got %v", e["level"])
	}
	if e["message"] != "record saved" {
		t.Errorf("Expected message, got %v", e["message"])
	}
	ctx, ok := e["context"].(map[string]interface{})
	if !ok || ctx["record_id"] != "t1" {
		t.Errorf("Expected context record_id, got %v", e["context"])
	}
}

// TestLoggerLevelFiltering verifies entries below the minimum level
// are suppressed.
func TestLoggerLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(LevelWarn)

	l.Debug("noise")
	l.Info("noise")
	if buf.Len() != 0 {
		t.Errorf("Expected suppressed output, got %s", buf.String())
	}

	l.Warn("signal")
	if buf.Len() == 0 {
		t.Error("Expected warn output")
	}
}

// TestLoggerComponentScope verifies child loggers tag their component.
func TestLoggerComponentScope(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)

	l.With("autosave").Info("flushed")

	if !strings.Contains(buf.String(), `"component":"autosave"`) {
		t.Errorf("Expected component tag, got %s", buf.String())
	}
}

// TestLoggerError verifies error values are serialized.
func TestLoggerError(t *testing.T) {
	l, buf := newTestLogger(LevelDebug)

	l.Error("push failed", errors.New("connection refused"))

	if !strings.Contains(buf.String(), "connection refused") {
		t.Errorf("Expected error text, got %s", buf.String())
	}
}
