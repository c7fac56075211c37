package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Master.Address != DefaultMasterAddr {
		t.Errorf("master address = %q, want %q", cfg.Master.Address, DefaultMasterAddr)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Errorf("default config file not written: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := `{"query": {"servers": ["192.0.2.1:27015"], "timeout_sec": 5}}`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.GetQuery(); len(got.Servers) != 1 || got.TimeoutSec != 5 {
		t.Errorf("query config not overlaid: %+v", got)
	}
	// Untouched sections keep their defaults.
	if cfg.Tracker.PollIntervalSec != 30 {
		t.Errorf("tracker poll interval = %d, want default 30", cfg.Tracker.PollIntervalSec)
	}
}

func TestValidateRejectsBadAddresses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Query.Servers = []string{"not-an-address"}

	result := Validate(cfg)
	if result.IsValid() {
		t.Fatal("expected validation error for malformed server address")
	}
}

func TestValidateDefaultIsValid(t *testing.T) {
	result := Validate(DefaultConfig())
	if !result.IsValid() {
		t.Fatalf("default config invalid: %v", result.Errors)
	}
}

func TestValidateMasterDisabledSkipsChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Master.Enabled = false
	cfg.Master.Address = ""
	cfg.Master.PageLimit = 0

	if result := Validate(cfg); !result.IsValid() {
		t.Fatalf("disabled master should not be validated: %v", result.Errors)
	}
}
