package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes JSONC config content.
func Parse(data []byte) (*Config, error) {
	// Expand environment variable templates (before standardizing, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Broker.Driver == "" {
		cfg.Broker.Driver = "redis"
	}
	if cfg.Broker.Driver == "redis" && cfg.Broker.Addr == "" {
		cfg.Broker.Addr = "127.0.0.1:6379"
	}
	if cfg.Broker.Driver == "sqlite" && cfg.Broker.Path == "" {
		cfg.Broker.Path = filepath.Join(KartonPath(), "broker.db")
	}

	if cfg.ObjectStore.Driver == "" {
		cfg.ObjectStore.Driver = "fs"
	}
	if cfg.ObjectStore.Bucket == "" {
		cfg.ObjectStore.Bucket = "karton"
	}
	if cfg.ObjectStore.Driver == "fs" && cfg.ObjectStore.Dir == "" {
		cfg.ObjectStore.Dir = filepath.Join(KartonPath(), "objects")
	}

	if cfg.Consumer.PollTimeout == 0 {
		cfg.Consumer.PollTimeout = Duration(5 * time.Second)
	}
	if cfg.Consumer.HeartbeatInterval == 0 {
		cfg.Consumer.HeartbeatInterval = Duration(30 * time.Second)
	}
	if cfg.Consumer.HeartbeatMaxAge == 0 {
		cfg.Consumer.HeartbeatMaxAge = Duration(2 * time.Minute)
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18430
	}
}
