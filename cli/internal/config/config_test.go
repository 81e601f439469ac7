package config

import (
	"os"
	"path/filepath"
	"testing"
)

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore wd: %v", err)
		}
	})
}

func setHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	return home
}

func TestLoadMissingFileIsEmptyConfig(t *testing.T) {
	setHome(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server != "" || cfg.DBPath != "" {
		t.Fatalf("missing file should load empty, got %+v", cfg)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	home := setHome(t)

	cfg := &Config{
		DBPath:      "/var/lib/llmledger/ledger.db",
		PricingPath: "/etc/llmledger/pricing.json",
		Server:      "https://example.com",
		APIKey:      "llml_secret",
	}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if cfg.ClientID == "" {
		t.Fatal("Save did not assign a client ID")
	}

	info, err := os.Stat(filepath.Join(home, ".llmledger.yaml"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("config mode = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *loaded != *cfg {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
	}
}

func TestSaveKeepsExistingClientID(t *testing.T) {
	setHome(t)
	cfg := &Config{ClientID: "fixed-id"}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if cfg.ClientID != "fixed-id" {
		t.Fatalf("client ID overwritten: %q", cfg.ClientID)
	}
}

func TestResolveDBPathPrecedence(t *testing.T) {
	home := setHome(t)
	chdir(t, t.TempDir()) // keep the parent walk away from the repo tree

	// Env var wins over everything
	t.Setenv(EnvDBPath, "/tmp/env.db")
	p, err := ResolveDBPath(&Config{DBPath: "/tmp/cfg.db"})
	if err != nil {
		t.Fatalf("ResolveDBPath failed: %v", err)
	}
	if p != "/tmp/env.db" {
		t.Fatalf("path = %q, want env var value", p)
	}

	// Then the config file
	t.Setenv(EnvDBPath, "")
	p, err = ResolveDBPath(&Config{DBPath: "/tmp/cfg.db"})
	if err != nil {
		t.Fatalf("ResolveDBPath failed: %v", err)
	}
	if p != "/tmp/cfg.db" {
		t.Fatalf("path = %q, want config value", p)
	}

	// Then the home default
	p, err = ResolveDBPath(&Config{})
	if err != nil {
		t.Fatalf("ResolveDBPath failed: %v", err)
	}
	want := filepath.Join(home, ".llmledger", "ledger.db")
	if p != want {
		t.Fatalf("path = %q, want %q", p, want)
	}
}

func TestResolveDBPathFindsDataDir(t *testing.T) {
	setHome(t)
	t.Setenv(EnvDBPath, "")

	root := t.TempDir()
	dataDir := filepath.Join(root, ".llmledger")
	if err := os.MkdirAll(filepath.Join(root, "sub", "deeper"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Mkdir(dataDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	chdir(t, filepath.Join(root, "sub", "deeper"))

	p, err := ResolveDBPath(&Config{})
	if err != nil {
		t.Fatalf("ResolveDBPath failed: %v", err)
	}
	want := filepath.Join(dataDir, "ledger.db")
	if p != want {
		t.Fatalf("path = %q, want %q from parent walk", p, want)
	}
}

func TestResolvePricingPath(t *testing.T) {
	setHome(t)

	t.Setenv(EnvPricingPath, "/tmp/env-pricing.json")
	if p := ResolvePricingPath(&Config{PricingPath: "/tmp/cfg.json"}); p != "/tmp/env-pricing.json" {
		t.Fatalf("path = %q, want env var value", p)
	}

	t.Setenv(EnvPricingPath, "")
	if p := ResolvePricingPath(&Config{PricingPath: "/tmp/cfg.json"}); p != "/tmp/cfg.json" {
		t.Fatalf("path = %q, want config value", p)
	}

	// Nothing configured and no data dir: empty means unpriced ledgering
	chdir(t, t.TempDir())
	if p := ResolvePricingPath(&Config{}); p != "" {
		t.Fatalf("path = %q, want empty", p)
	}
}
