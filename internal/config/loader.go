package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envRef = regexp.MustCompile(`\$\{(\w+)\}`)

// Load reads and parses a relay configuration from the given YAML file path.
// A .env file next to the config, if present, is loaded first; ${VAR}
// references in the YAML are then expanded from the environment before
// parsing. After parsing, defaults are applied.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envRef.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a relay config in standard locations and loads
// the first one found. Search order: ./relay.yaml, ~/.relay/config.yaml
func LoadDefault() (*Config, error) {
	candidates := []string{"relay.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".relay", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no relay config found (searched: %v)", candidates)
}

// applyDefaults fills in values the YAML may omit.
func applyDefaults(cfg *Config) {
	if cfg.Git.Remote == "" {
		cfg.Git.Remote = "origin"
	}
	if cfg.Git.BaseBranch == "" {
		cfg.Git.BaseBranch = "main"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Chat.TimeRangeDays == 0 {
		cfg.Chat.TimeRangeDays = 7
	}
	if cfg.Chat.SavePath == "" {
		cfg.Chat.SavePath = filepath.Join(".relay", "chat")
	}
	if cfg.Report.OutputDir == "" {
		cfg.Report.OutputDir = filepath.Join(".relay", "reports")
	}
}
