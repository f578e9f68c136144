package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := []string{"delivered", "shipped", "approved"}
	if !reflect.DeepEqual(cfg.Scoring.QualifyingStatuses, want) {
		t.Errorf("QualifyingStatuses = %v, want %v", cfg.Scoring.QualifyingStatuses, want)
	}
	if cfg.Scoring.InactivityThresholdDays != 90 {
		t.Errorf("InactivityThresholdDays = %d, want 90", cfg.Scoring.InactivityThresholdDays)
	}
	ref, err := cfg.ReferenceDate()
	if err != nil || !ref.IsZero() {
		t.Errorf("ReferenceDate should be unset, got %v (%v)", ref, err)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "warehouse.yaml")
	yamlDoc := `
source:
  bucket_url: file:///data/olist
storage:
  backend: blob
  bucket_url: mem://
scoring:
  reference_date: "2026-01-31"
  inactivity_threshold_days: 60
watch:
  interval: 30s
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("QUALIFYING_STATUSES", "delivered, shipped")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source.BucketURL != "file:///data/olist" {
		t.Errorf("BucketURL = %q", cfg.Source.BucketURL)
	}
	if cfg.Scoring.InactivityThresholdDays != 60 {
		t.Errorf("InactivityThresholdDays = %d, want 60", cfg.Scoring.InactivityThresholdDays)
	}
	if !reflect.DeepEqual(cfg.Scoring.QualifyingStatuses, []string{"delivered", "shipped"}) {
		t.Errorf("env override not applied: %v", cfg.Scoring.QualifyingStatuses)
	}
	if cfg.Watch.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", cfg.Watch.Interval)
	}
	ref, err := cfg.ReferenceDate()
	if err != nil {
		t.Fatalf("ReferenceDate failed: %v", err)
	}
	if !ref.Equal(time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("ReferenceDate = %v", ref)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Backend = "postgres"
	cfg.Scoring.ReferenceDate = "31/01/2026"
	cfg.Scoring.QualifyingStatuses = nil

	if err := cfg.Validate(); err == nil {
		t.Error("invalid configuration should fail validation")
	}
}
