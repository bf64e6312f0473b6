package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Scanner.MaxKeyboards != 3 {
		t.Errorf("MaxKeyboards = %d, want 3", cfg.Scanner.MaxKeyboards)
	}
	if cfg.Scanner.Timeout() != 5*time.Minute {
		t.Errorf("Timeout = %v, want 5m", cfg.Scanner.Timeout())
	}
	if cfg.Broadcaster.AdvInterval() != time.Second {
		t.Errorf("AdvInterval = %v, want 1s", cfg.Broadcaster.AdvInterval())
	}
	if cfg.Broadcaster.DynamicInterval() != 200*time.Millisecond {
		t.Errorf("DynamicInterval = %v, want 200ms", cfg.Broadcaster.DynamicInterval())
	}
	if cfg.Scanner.PeriodicSync {
		t.Error("PeriodicSync = true, want off by default")
	}
	if cfg.Scanner.NameFixups["LalaPad"] != "LalaPadmini" {
		t.Errorf("NameFixups = %v, want seeded LalaPad entry", cfg.Scanner.NameFixups)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestLoadExplicitZeroTimeout(t *testing.T) {
	cfg, err := Load(writeConfig(t, "scanner:\n  timeout_ms: 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scanner.Timeout() != 0 {
		t.Errorf("Timeout = %v, want 0 (sweep disabled)", cfg.Scanner.Timeout())
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "max_keyboards too high", body: "scanner:\n  max_keyboards: 9\n"},
		{name: "timeout too high", body: "scanner:\n  timeout_ms: 3600001\n"},
		{name: "channel out of range", body: "scanner:\n  channel: 11\n"},
		{name: "adv interval too low", body: "broadcaster:\n  adv_interval_ms: 50\n"},
		{name: "dynamic interval too high", body: "broadcaster:\n  dynamic_interval_ms: 2000\n"},
		{name: "bad role", body: "broadcaster:\n  role: dongle\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("Load() accepted invalid config")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NATS_URL", "nats://example:4222")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "log:\n  level: warn\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NATS.URL != "nats://example:4222" {
		t.Errorf("NATS.URL = %q", cfg.NATS.URL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want env override", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("Load() succeeded on missing file")
	}
}
