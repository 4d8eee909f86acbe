package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.MaxBatchSize != 50 {
		t.Fatalf("unexpected default batch size: %d", cfg.Pipeline.MaxBatchSize)
	}
	if cfg.Correlation.Window != 5*time.Minute {
		t.Fatalf("unexpected default correlation window: %v", cfg.Correlation.Window)
	}
	if cfg.Lifecycle.TriageThreshold != 0.75 {
		t.Fatalf("unexpected default triage threshold: %v", cfg.Lifecycle.TriageThreshold)
	}
	if cfg.Actions.AutoApplyThreshold <= cfg.Actions.RecommendThreshold {
		t.Fatal("auto-apply threshold must default strictly above recommend threshold")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	content := `pipeline:
  maxBatchSize: 10
  maxBatchDelay: 250ms
correlation:
  window: 2m
  noiseFloor: 0.2
lifecycle:
  triageThreshold: 0.8
kv:
  enabled: true
  addr: localhost:6379
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.MaxBatchSize != 10 || cfg.Pipeline.MaxBatchDelay != 250*time.Millisecond {
		t.Fatalf("pipeline overrides not applied: %+v", cfg.Pipeline)
	}
	if cfg.Correlation.Window != 2*time.Minute || cfg.Correlation.NoiseFloor != 0.2 {
		t.Fatalf("correlation overrides not applied: %+v", cfg.Correlation)
	}
	if cfg.Lifecycle.TriageThreshold != 0.8 {
		t.Fatalf("lifecycle override not applied: %+v", cfg.Lifecycle)
	}
	// Untouched sections keep defaults.
	if cfg.Baseline.Alpha != 0.3 {
		t.Fatalf("baseline default lost: %+v", cfg.Baseline)
	}
	if !cfg.KV.Enabled || cfg.KV.Addr != "localhost:6379" {
		t.Fatalf("kv overrides not applied: %+v", cfg.KV)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MIRADOR_SENTINEL_MAX_BATCH_SIZE", "7")
	t.Setenv("MIRADOR_SENTINEL_NOISE_FLOOR", "0.25")
	t.Setenv("MIRADOR_SENTINEL_LOG_FORMAT", "json")
	t.Setenv("MIRADOR_SENTINEL_KV_ADDR", "valkey:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.MaxBatchSize != 7 {
		t.Fatalf("env batch size override not applied: %d", cfg.Pipeline.MaxBatchSize)
	}
	if cfg.Correlation.NoiseFloor != 0.25 {
		t.Fatalf("env noise floor override not applied: %v", cfg.Correlation.NoiseFloor)
	}
	if !cfg.Logging.JSON {
		t.Fatal("env log format override not applied")
	}
	if cfg.KV.Addr != "valkey:6379" {
		t.Fatalf("env kv addr override not applied: %q", cfg.KV.Addr)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	content := `actions:
  recommendThreshold: 0.9
  autoApplyThreshold: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for inverted thresholds")
	}
}
