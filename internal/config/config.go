// Package config loads the engine configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Referrals ReferralsConfig `yaml:"referrals"`
	Rewards   RewardsConfig   `yaml:"rewards"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	ListenAddr string   `yaml:"listen_addr"`
	APITokens  []string `yaml:"api_tokens"`
}

// DatabaseConfig selects the backing store. An empty DSN runs on the
// in-memory store.
type DatabaseConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ReferralsConfig covers referral behaviour. Expiry is parsed but a zero
// value disables it; no expiry sweep runs and stalled referrals keep their
// state.
type ReferralsConfig struct {
	Origin string        `yaml:"origin"`
	Expiry time.Duration `yaml:"expiry"`
}

// RewardsConfig tunes the fulfillment poller.
type RewardsConfig struct {
	FulfillmentInterval time.Duration `yaml:"fulfillment_interval"`
	FulfillmentTimeout  time.Duration `yaml:"fulfillment_timeout"`
}

// AuditConfig schedules the integrity sweep.
type AuditConfig struct {
	Schedule string `yaml:"schedule"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server:    ServerConfig{ListenAddr: ":8080"},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Referrals: ReferralsConfig{Origin: "http://localhost:8080"},
		Rewards: RewardsConfig{
			FulfillmentInterval: 15 * time.Second,
			FulfillmentTimeout:  2 * time.Minute,
		},
		Audit: AuditConfig{Schedule: "@hourly"},
	}
}

// Load reads config/trustrewards.yaml, falling back to defaults when the file
// is absent, then applies TRUSTREWARDS_* environment overrides.
func Load() (Config, error) {
	return LoadFromPath(filepath.Join("config", "trustrewards.yaml"))
}

// LoadFromPath loads the configuration from a specific file.
func LoadFromPath(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults apply.
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.ListenAddr == "" {
		return Config{}, fmt.Errorf("server.listen_addr is required")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRUSTREWARDS_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("TRUSTREWARDS_API_TOKENS"); v != "" {
		cfg.Server.APITokens = splitTokens(v)
	}
	if v := os.Getenv("TRUSTREWARDS_POSTGRES_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("TRUSTREWARDS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRUSTREWARDS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TRUSTREWARDS_REFERRAL_ORIGIN"); v != "" {
		cfg.Referrals.Origin = v
	}
	if v := os.Getenv("TRUSTREWARDS_AUDIT_SCHEDULE"); v != "" {
		cfg.Audit.Schedule = v
	}
	if v := os.Getenv("TRUSTREWARDS_FULFILLMENT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rewards.FulfillmentInterval = d
		}
	}
	if v := os.Getenv("TRUSTREWARDS_FULFILLMENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Rewards.FulfillmentTimeout = d
		}
	}
}

func splitTokens(raw string) []string {
	var tokens []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	return tokens
}
