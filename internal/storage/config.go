// Manages server configuration stored in server_config.yaml.

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the name of the configuration file in the data directory.
const ConfigFileName = "server_config.yaml"

// ServerConfig stores all server-wide configuration.
// Loaded from server_config.yaml, created with defaults if missing.
type ServerConfig struct {
	// DataFile is the canonical records file, relative to the data directory.
	DataFile string `yaml:"data_file"`

	// AdminUser is the username allowed to upload, download and force a flush.
	AdminUser string `yaml:"admin_user"`

	// SaveThreshold is the number of pending mutations that triggers a flush.
	SaveThreshold int `yaml:"save_threshold"`

	// StaleAfter is the inactivity after which a session's checkout is released.
	StaleAfter time.Duration `yaml:"stale_after"`

	// ActiveWindow is the inactivity after which a session stops being reported
	// as active in statistics.
	ActiveWindow time.Duration `yaml:"active_window"`

	// ReloadWindow is how long after a full replace clients are told to reload.
	ReloadWindow time.Duration `yaml:"reload_window"`

	// History commits the data file to a git repository in the data directory
	// after every successful flush.
	History bool `yaml:"history"`

	// MaxRequestBodyBytes limits the size of any single HTTP request body.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`

	// RateLimits defines rate limiting configuration.
	RateLimits RateLimits `yaml:"rate_limits"`
}

// RateLimits defines rate limiting configuration (requests per minute).
type RateLimits struct {
	// WriteRatePerMin limits mutating requests per user.
	// 0 means unlimited.
	WriteRatePerMin int `yaml:"write_rate_per_min"`
}

// DefaultServerConfig returns the configuration used when no file exists.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		DataFile:            "records.json",
		AdminUser:           "admin",
		SaveThreshold:       3,
		StaleAfter:          10 * time.Minute,
		ActiveWindow:        5 * time.Minute,
		ReloadWindow:        5 * time.Second,
		MaxRequestBodyBytes: 10 * 1024 * 1024, // 10 MiB
		RateLimits: RateLimits{
			WriteRatePerMin: 600,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *ServerConfig) Validate() error {
	if c.DataFile == "" {
		return errors.New("data_file is required")
	}
	if filepath.IsAbs(c.DataFile) {
		return errors.New("data_file must be relative to the data directory")
	}
	if c.AdminUser == "" {
		return errors.New("admin_user is required")
	}
	if c.SaveThreshold <= 0 {
		return errors.New("save_threshold must be positive")
	}
	if c.StaleAfter <= 0 {
		return errors.New("stale_after must be positive")
	}
	if c.ActiveWindow <= 0 {
		return errors.New("active_window must be positive")
	}
	if c.ReloadWindow < 0 {
		return errors.New("reload_window must be non-negative")
	}
	if c.MaxRequestBodyBytes < 0 {
		return errors.New("max_request_body_bytes must be non-negative")
	}
	if c.RateLimits.WriteRatePerMin < 0 {
		return errors.New("rate_limits.write_rate_per_min must be non-negative")
	}
	return nil
}

// LoadServerConfig loads configuration from dataDir/server_config.yaml.
// Creates the file with defaults if it doesn't exist. Fields absent from the
// file keep their default value.
func LoadServerConfig(dataDir string) (*ServerConfig, error) {
	path := filepath.Join(dataDir, ConfigFileName)
	cfg := DefaultServerConfig()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", ConfigFileName, err)
		}
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ConfigFileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ConfigFileName, err)
	}
	return &cfg, nil
}

// Save saves configuration to dataDir/server_config.yaml.
func (c *ServerConfig) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, ConfigFileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", ConfigFileName, err)
	}
	return nil
}
