package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	def := Default()
	if cfg.Server.Port != def.Server.Port {
		t.Errorf("Port = %d, want %d", cfg.Server.Port, def.Server.Port)
	}
	if cfg.Sizing.ProportionalFactor != def.Sizing.ProportionalFactor {
		t.Errorf("ProportionalFactor = %f, want %f",
			cfg.Sizing.ProportionalFactor, def.Sizing.ProportionalFactor)
	}
	if cfg.Monitor.IntervalSec != def.Monitor.IntervalSec {
		t.Errorf("IntervalSec = %d, want %d", cfg.Monitor.IntervalSec, def.Monitor.IntervalSec)
	}
}

func TestLoadAppliesOverridesAndBackfills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9000
engine:
  retry_max_attempts: 5
sizing:
  proportional_factor: 0.25
monitor:
  interval_sec: 10
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Engine.RetryMaxAttempts != 5 {
		t.Errorf("RetryMaxAttempts = %d, want 5", cfg.Engine.RetryMaxAttempts)
	}
	if cfg.Sizing.ProportionalFactor != 0.25 {
		t.Errorf("ProportionalFactor = %f, want 0.25", cfg.Sizing.ProportionalFactor)
	}
	if cfg.Monitor.IntervalSec != 10 {
		t.Errorf("IntervalSec = %d, want 10", cfg.Monitor.IntervalSec)
	}

	// Fields the file left out keep their defaults.
	def := Default()
	if cfg.Engine.ExecuteTimeoutMS != def.Engine.ExecuteTimeoutMS {
		t.Errorf("ExecuteTimeoutMS = %d, want default %d",
			cfg.Engine.ExecuteTimeoutMS, def.Engine.ExecuteTimeoutMS)
	}
	if cfg.SwapAPI.BaseURL != def.SwapAPI.BaseURL {
		t.Errorf("BaseURL = %q, want default %q", cfg.SwapAPI.BaseURL, def.SwapAPI.BaseURL)
	}
}

func TestLoadParsesCacheTTLs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "cache:\n  trackers_ttl_sec: 15\n  blacklist_ttl_sec: 120\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.TrackersTTLSec != 15 {
		t.Errorf("TrackersTTLSec = %d, want 15", cfg.Cache.TrackersTTLSec)
	}
	if cfg.Cache.BlacklistTTLSec != 120 {
		t.Errorf("BlacklistTTLSec = %d, want 120", cfg.Cache.BlacklistTTLSec)
	}
	if cfg.Cache.PriceTTLSec != 0 {
		t.Errorf("PriceTTLSec = %d, want 0 (unset)", cfg.Cache.PriceTTLSec)
	}
}

func TestTTLOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		seconds  int
		fallback time.Duration
		want     time.Duration
	}{
		{"set", 15, 30 * time.Second, 15 * time.Second},
		{"zero keeps fallback", 0, 30 * time.Second, 30 * time.Second},
		{"negative keeps fallback", -5, time.Minute, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TTLOrDefault(tt.seconds, tt.fallback); got != tt.want {
				t.Errorf("TTLOrDefault(%d, %v) = %v, want %v", tt.seconds, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("{unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestApplyDefaultsClampsSellFraction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "sizing:\n  max_sell_fraction: 1.5\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sizing.MaxSellFraction != Default().Sizing.MaxSellFraction {
		t.Errorf("MaxSellFraction = %f, want clamped to default %f",
			cfg.Sizing.MaxSellFraction, Default().Sizing.MaxSellFraction)
	}
}
