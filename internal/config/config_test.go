package config

import (
	"reflect"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %s, want 8080", cfg.Port)
	}
	if cfg.HighValueThreshold != 1000000 {
		t.Errorf("threshold = %d, want 1000000", cfg.HighValueThreshold)
	}
	if cfg.QueueBuffer != 100 || cfg.QueueWorkers != 4 {
		t.Errorf("queue sizing = %d/%d, want 100/4", cfg.QueueBuffer, cfg.QueueWorkers)
	}
	if cfg.MongoDatabase != "notiledger" {
		t.Errorf("mongo database = %s, want notiledger", cfg.MongoDatabase)
	}
	if cfg.AllowedSources != nil {
		t.Errorf("allowed sources = %v, want nil (all enabled)", cfg.AllowedSources)
	}
}

func TestLoadAllowedSources(t *testing.T) {
	t.Setenv("ALLOWED_SOURCES", "oobank, hnbank-legacy,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"oobank", "hnbank-legacy"}
	if !reflect.DeepEqual(cfg.AllowedSources, want) {
		t.Errorf("allowed sources = %v, want %v", cfg.AllowedSources, want)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HIGH_VALUE_THRESHOLD", "500000")
	t.Setenv("ENABLE_MODEL_FALLBACK", "true")
	t.Setenv("QUEUE_WORKERS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("port = %s, want 9090", cfg.Port)
	}
	if cfg.HighValueThreshold != 500000 {
		t.Errorf("threshold = %d, want 500000", cfg.HighValueThreshold)
	}
	if !cfg.EnableModelFallback {
		t.Error("model fallback should be enabled")
	}
	if cfg.QueueWorkers != 8 {
		t.Errorf("workers = %d, want 8", cfg.QueueWorkers)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("HIGH_VALUE_THRESHOLD", "not-a-number")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric threshold")
	}

	t.Setenv("HIGH_VALUE_THRESHOLD", "-1")
	if _, err := Load(); err == nil {
		t.Error("expected error for negative threshold")
	}
}
