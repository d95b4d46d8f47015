package config

import (
	"strings"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults (block size, cache sizes) are handled by the
//     store implementations themselves
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)

	// Add a default volume if none configured. A process with zero volumes
	// has nothing to do, and the memory stores need no external resources.
	if len(cfg.Volumes) == 0 {
		cfg.Volumes = []VolumeConfig{
			{
				Name:    "scratch",
				Driver:  DriverConfig{Type: "memory"},
				Catalog: CatalogConfig{Type: "memory"},
			},
		}
	}

	applyVolumeDefaults(cfg.Volumes)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)
}

// applyVolumeDefaults sets per-volume defaults.
func applyVolumeDefaults(volumes []VolumeConfig) {
	for i := range volumes {
		volume := &volumes[i]

		if volume.Driver.Type == "" {
			volume.Driver.Type = "memory"
		}
		if volume.Catalog.Type == "" {
			volume.Catalog.Type = "memory"
		}

		// Initialize option maps if nil so factories and the config
		// generator never see a nil map
		if volume.Driver.Options == nil {
			volume.Driver.Options = make(map[string]any)
		}
		if volume.Catalog.Options == nil {
			volume.Catalog.Options = make(map[string]any)
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
