package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a marketops instance.
type Config struct {
	Env      string          `yaml:"environment"`
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Bank     BankConfig      `yaml:"bank"`
	Session  SessionConfig   `yaml:"session"`
	Limits   RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Source     string `yaml:"source"`
	MaxRetries int    `yaml:"max_retries"`
}

// BankConfig points at the external funds-transfer service. The bank is a
// collaborator, not part of this system; only its base URL and call budget
// are ours to configure.
type BankConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// Load reads the YAML config at path (skipped when path is empty), applies
// defaults, then lets environment variables override the file so deploys can
// inject secrets without editing it.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DB_SOURCE"); v != "" {
		c.Database.Source = v
	}
	if v := os.Getenv("BANK_URL"); v != "" {
		c.Bank.URL = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Env = v
	}
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "development"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Database.MaxRetries == 0 {
		c.Database.MaxRetries = 3
	}
	if c.Bank.Timeout == 0 {
		c.Bank.Timeout = 5 * time.Second
	}
	if c.Session.ProbeTimeout == 0 {
		c.Session.ProbeTimeout = 2 * time.Second
	}
	if c.Session.WriteTimeout == 0 {
		c.Session.WriteTimeout = 5 * time.Second
	}
	if c.Limits.PerSecond == 0 {
		c.Limits.PerSecond = 20
	}
	if c.Limits.Burst == 0 {
		c.Limits.Burst = 40
	}
}

func (c *Config) Validate() error {
	if c.Database.Source == "" {
		return fmt.Errorf("database.source (or DB_SOURCE) is required")
	}
	if c.Bank.URL == "" {
		return fmt.Errorf("bank.url (or BANK_URL) is required")
	}
	if c.Limits.PerSecond < 0 || c.Limits.Burst < 0 {
		return fmt.Errorf("rate_limit values must be non-negative")
	}
	return nil
}
