package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the complete chainfs configuration.
//
// This structure captures all configurable aspects of a chainfs process:
//   - Logging configuration
//   - Volume definitions (block driver + catalog per volume)
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (CHAINFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each driver and catalog implementation defines its own configuration type.
// A volume names a type and carries an options map; only the factory for the
// selected type interprets the map.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Volumes defines the volumes this process serves
	Volumes []VolumeConfig `mapstructure:"volumes" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// VolumeConfig defines a single named volume.
type VolumeConfig struct {
	// Name identifies the volume in the registry and the CLI
	Name string `mapstructure:"name" validate:"required"`

	// ReadOnly refuses write-mode opens on the volume if true
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`

	// Driver specifies the block driver type and type-specific configuration
	Driver DriverConfig `mapstructure:"driver"`

	// Catalog specifies the catalog type and type-specific configuration
	Catalog CatalogConfig `mapstructure:"catalog"`
}

// DriverConfig specifies block driver configuration.
//
// The Type field determines which driver implementation is used; Options is
// decoded by the matching factory.
type DriverConfig struct {
	// Type specifies which block driver implementation to use
	// Valid values: memory, badger, image, s3
	Type string `mapstructure:"type" validate:"required,oneof=memory badger image s3"`

	// Options contains driver-specific configuration
	Options map[string]any `mapstructure:"options"`
}

// CatalogConfig specifies catalog configuration.
//
// The Type field determines which catalog implementation is used; Options is
// decoded by the matching factory.
type CatalogConfig struct {
	// Type specifies which catalog implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=memory badger"`

	// Options contains catalog-specific configuration
	Options map[string]any `mapstructure:"options"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CHAINFS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default locations)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use CHAINFS_ prefix and underscores
	// Example: CHAINFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("CHAINFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Search order: ., $XDG_CONFIG_HOME/chainfs, /etc/chainfs
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
		v.AddConfigPath("/etc/chainfs")
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is acceptable - defaults apply. Viper
		// reports it as ConfigFileNotFoundError when searching paths and
		// as a plain open error when the path was given explicitly.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		// Other errors are problems
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "chainfs")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "chainfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
