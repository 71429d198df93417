package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Queue.Retries != 3 {
		t.Errorf("Queue.Retries = %d, want 3", cfg.Queue.Retries)
	}
	if cfg.Queue.WorkItemTimeout != 30*time.Second {
		t.Errorf("Queue.WorkItemTimeout = %v, want 30s", cfg.Queue.WorkItemTimeout)
	}
	if cfg.Worker.Workers != 4 {
		t.Errorf("Worker.Workers = %d, want 4", cfg.Worker.Workers)
	}
	if cfg.Resilience.Enabled {
		t.Error("Resilience.Enabled should default to false")
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should default to true")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging defaults = %+v, want info/text", cfg.Logging)
	}
}

func TestLoadFromFile_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workq.json")

	overlay := map[string]any{
		"queue": map[string]any{
			"retries": 7,
		},
		"dedup": map[string]any{
			"enabled": true,
			"ttl":     int64(5 * time.Minute),
		},
	}
	data, err := json.Marshal(overlay)
	if err != nil {
		t.Fatalf("marshal overlay: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Queue.Retries != 7 {
		t.Errorf("Queue.Retries = %d, want 7 (overridden)", cfg.Queue.Retries)
	}
	if cfg.Queue.WorkItemTimeout != 30*time.Second {
		t.Errorf("Queue.WorkItemTimeout = %v, want unchanged default 30s", cfg.Queue.WorkItemTimeout)
	}
	if !cfg.Dedup.Enabled {
		t.Error("Dedup.Enabled should be true after overlay")
	}
	if cfg.Dedup.TTL != 5*time.Minute {
		t.Errorf("Dedup.TTL = %v, want 5m", cfg.Dedup.TTL)
	}
}

func TestLoadFromFile_MissingFileReturnsError(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromEnv_OverridesDefaults(t *testing.T) {
	t.Setenv("WORKQ_RETRIES", "9")
	t.Setenv("WORKQ_WORK_ITEM_TIMEOUT", "45s")
	t.Setenv("WORKQ_RESILIENCE_ENABLED", "true")
	t.Setenv("WORKQ_BREAKER_ERR_PCT", "75.5")
	t.Setenv("WORKQ_DEDUP_ENABLED", "yes")
	t.Setenv("WORKQ_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Queue.Retries != 9 {
		t.Errorf("Queue.Retries = %d, want 9", cfg.Queue.Retries)
	}
	if cfg.Queue.WorkItemTimeout != 45*time.Second {
		t.Errorf("Queue.WorkItemTimeout = %v, want 45s", cfg.Queue.WorkItemTimeout)
	}
	if !cfg.Resilience.Enabled {
		t.Error("Resilience.Enabled should be true")
	}
	if cfg.Resilience.BreakerErrPct != 75.5 {
		t.Errorf("Resilience.BreakerErrPct = %v, want 75.5", cfg.Resilience.BreakerErrPct)
	}
	if !cfg.Dedup.Enabled {
		t.Error("Dedup.Enabled should be true from \"yes\"")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadFromEnv_IgnoresUnsetVars(t *testing.T) {
	cfg := DefaultConfig()
	before := *cfg
	LoadFromEnv(cfg)
	if *cfg != before {
		t.Error("LoadFromEnv should not change config when no WORKQ_* vars are set")
	}
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{
		"true": true, "TRUE": true, "1": true, "yes": true, "YES": true,
		"false": false, "0": false, "no": false, "": false, "garbage": false,
	}
	for in, want := range cases {
		if got := parseBool(in); got != want {
			t.Errorf("parseBool(%q) = %v, want %v", in, got, want)
		}
	}
}
