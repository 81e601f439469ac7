package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/google/uuid"
)

// Env vars honored before any config-file or heuristic resolution.
const (
	EnvDBPath      = "LLM_BILLING_DB_PATH"
	EnvPricingPath = "LLM_PRICING_PATH"
)

// dataDirName is the marker directory the parent walk looks for.
const dataDirName = ".llmledger"

// Config holds the CLI configuration.
type Config struct {
	DBPath      string `yaml:"db_path"`
	PricingPath string `yaml:"pricing_path"`
	Server      string `yaml:"server"`
	APIKey      string `yaml:"api_key"`
	ClientID    string `yaml:"client_id"`
}

// configPath returns the path to the config file.
func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".llmledger.yaml"), nil
}

// Load loads the configuration from disk. A missing file is an empty config.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to disk, assigning a client ID on first save.
func Save(cfg *Config) error {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
	}

	path, err := configPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ResolveDBPath decides where the ledger lives: env var, then config file,
// then a walk up from the working directory looking for a .llmledger data
// dir, then a default under the user home. The walk is a boundary-only
// convenience; the engine itself always receives the resolved path.
func ResolveDBPath(cfg *Config) (string, error) {
	if p := os.Getenv(EnvDBPath); p != "" {
		return p, nil
	}
	if cfg != nil && cfg.DBPath != "" {
		return cfg.DBPath, nil
	}
	if dir, ok := findDataDir(); ok {
		return filepath.Join(dir, "ledger.db"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, dataDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "ledger.db"), nil
}

// ResolvePricingPath decides where the pricing registry lives. An empty
// result means no registry is configured; events are then ledgered with
// price_missing set.
func ResolvePricingPath(cfg *Config) string {
	if p := os.Getenv(EnvPricingPath); p != "" {
		return p
	}
	if cfg != nil && cfg.PricingPath != "" {
		return cfg.PricingPath
	}
	if dir, ok := findDataDir(); ok {
		p := filepath.Join(dir, "pricing.json")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// findDataDir walks up from the working directory looking for an existing
// .llmledger directory, a few levels at most.
func findDataDir() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 5; i++ {
		candidate := filepath.Join(dir, dataDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
