package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadMissingFile verifies a missing file yields the defaults.
func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Autosave.Debounce != 1200*time.Millisecond {
		t.Errorf("Expected default debounce, got %v", cfg.Autosave.Debounce)
	}
	if cfg.Sync.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.Sync.MaxRetries)
	}
}

// TestLoadOverlay verifies file values override defaults while
// unspecified values keep theirs.
func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gapday.yaml")
	body := `
remote:
  base_url: http://localhost:9090/v1
autosave:
  debounce: 500ms
  rate_per_minute: 30
  burst: 10
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Remote.BaseURL != "http://localhost:9090/v1" {
		t.Errorf("Expected overridden base URL, got %s", cfg.Remote.BaseURL)
	}
	if cfg.Autosave.Debounce != 500*time.Millisecond {
		t.Errorf("Expected 500ms debounce, got %v", cfg.Autosave.Debounce)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("Expected default data dir preserved, got %s", cfg.DataDir)
	}
}

// TestValidate rejects configurations the core cannot run with.
func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Autosave.Debounce = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero debounce")
	}

	cfg = Default()
	cfg.Remote.BaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty base URL")
	}
}

// TestLoadInvalidYAML verifies parse errors are surfaced.
func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("remote: ["), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected parse error")
	}
}
