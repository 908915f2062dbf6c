package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoad_missingFile verifies defaults apply when no config file exists.
func TestLoad_missingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != 8090 {
		t.Errorf("Port = %d, want 8090", cfg.Port)
	}
	if cfg.MaxBatchItems != 500 {
		t.Errorf("MaxBatchItems = %d, want 500", cfg.MaxBatchItems)
	}
	if cfg.LogLevel != "INFO" {
		t.Errorf("LogLevel = %s, want INFO", cfg.LogLevel)
	}
}

// TestLoad verifies YAML values override defaults while unset fields keep
// theirs.
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wildtrack.yaml")
	content := "port: 9000\nmax_batch_items: 50\nlog_level: DEBUG\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != 9000 || cfg.MaxBatchItems != 50 || cfg.LogLevel != "DEBUG" {
		t.Errorf("Config = %+v", cfg)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %s, want default ./data", cfg.DataDir)
	}
}

// TestLoad_invalid verifies validation rejects bad values.
func TestLoad_invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad port", "port: 70000\n"},
		{"zero batch", "max_batch_items: 0\n"},
		{"bad log level", "log_level: verbose\n"},
		{"malformed yaml", "port: [\n"},
	}

	for _, c := range cases {
		path := filepath.Join(t.TempDir(), "wildtrack.yaml")
		if err := os.WriteFile(path, []byte(c.content), 0o644); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}
}
