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
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Alerting.EscalateTicks != 3 || cfg.Alerting.DeescalateTicks != 5 {
		t.Fatalf("unexpected hysteresis defaults: %d/%d", cfg.Alerting.EscalateTicks, cfg.Alerting.DeescalateTicks)
	}
	if cfg.Analysis.LowConfidenceThreshold != 0.5 {
		t.Fatalf("unexpected low-confidence threshold: %v", cfg.Analysis.LowConfidenceThreshold)
	}
	if cfg.Loop.TickInterval != 10*time.Second {
		t.Fatalf("unexpected tick interval: %v", cfg.Loop.TickInterval)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("alerting:\n  escalateTicks: 2\n  deescalateTicks: 7\ningest:\n  queueCapacity: 64\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("GUARDIAN_QUEUE_CAPACITY", "128")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Alerting.EscalateTicks != 2 || cfg.Alerting.DeescalateTicks != 7 {
		t.Fatalf("yaml values not applied: %d/%d", cfg.Alerting.EscalateTicks, cfg.Alerting.DeescalateTicks)
	}
	if cfg.Ingest.QueueCapacity != 128 {
		t.Fatalf("env override not applied, got %d", cfg.Ingest.QueueCapacity)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold out of range", func(c *Config) { c.Alerting.CoherenceMin = 1.5 }},
		{"deescalate not greater", func(c *Config) { c.Alerting.DeescalateTicks = c.Alerting.EscalateTicks }},
		{"zero tick interval", func(c *Config) { c.Loop.TickInterval = 0 }},
		{"min above window", func(c *Config) { c.Analysis.MinDiagnostics = c.Analysis.WindowDiagnostics + 1 }},
		{"zero queue", func(c *Config) { c.Ingest.QueueCapacity = 0 }},
		{"poller without urls", func(c *Config) { c.Poller.Enabled = true; c.Poller.DiagnosticsURL = ""; c.Poller.ActionPlansURL = "" }},
		{"broadcast without addr", func(c *Config) { c.Broadcast.Enabled = true; c.Broadcast.Addr = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
