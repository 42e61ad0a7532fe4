package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Variables follow the naming convention
// GATEKEEPER_SECTION_FIELD (e.g., GATEKEEPER_SERVER_LISTEN_ADDRESS) and always
// take precedence over file-based configuration.
//
// The loading sequence is:
//  1. Load YAML from file
//  2. Apply default values
//  3. Apply environment variable overrides
//  4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	if val := os.Getenv("GATEKEEPER_SERVER_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}
	if val := os.Getenv("GATEKEEPER_SERVER_IDENTITY_HEADER"); val != "" {
		cfg.Server.IdentityHeader = val
	}

	// Store overrides
	if val := os.Getenv("GATEKEEPER_STORE_BACKEND"); val != "" {
		cfg.Store.Backend = val
	}
	if val := os.Getenv("GATEKEEPER_STORE_REDIS_ADDR"); val != "" {
		cfg.Store.Redis.Addr = val
	}
	if val := os.Getenv("GATEKEEPER_STORE_REDIS_PASSWORD"); val != "" {
		cfg.Store.Redis.Password = val
	}
	if val := os.Getenv("GATEKEEPER_STORE_REDIS_OP_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Store.Redis.OpTimeout = d
		}
	}
	if val := os.Getenv("GATEKEEPER_STORE_SQLITE_PATH"); val != "" {
		cfg.Store.SQLite.Path = val
	}

	// Limits overrides
	if val := os.Getenv("GATEKEEPER_LIMITS_ENFORCE"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Limits.Enforce = &b
		}
	}
	if val := os.Getenv("GATEKEEPER_LIMITS_FAILURE_POLICY"); val != "" {
		cfg.Limits.FailurePolicy = val
	}

	// Notification overrides
	if val := os.Getenv("GATEKEEPER_NOTIFICATIONS_WEBHOOK_URL"); val != "" {
		cfg.Notifications.Webhook.URL = val
		cfg.Notifications.Webhook.Enabled = true
	}

	// Telemetry overrides
	if val := os.Getenv("GATEKEEPER_TELEMETRY_LOG_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("GATEKEEPER_TELEMETRY_LOG_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
}
