package config

import (
	"context"
	"fmt"

	"github.com/marmos91/chainfs/internal/logger"
	"github.com/marmos91/chainfs/pkg/registry"
)

// BuildRegistry creates a fully configured Registry from the provided
// configuration.
//
// This function orchestrates the complete initialization process:
//  1. Creates the block driver and catalog for each configured volume
//  2. Registers each volume under its name
//  3. On any failure, closes everything already built before returning
//
// The resulting Registry contains all volumes ready for use by the CLI or an
// embedding application.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Complete configuration loaded from config file
//
// Returns:
//   - *registry.Registry: Fully initialized registry
//   - error: If any store creation or registration fails
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	reg, err := config.BuildRegistry(ctx, cfg)
//	if err != nil {
//	    log.Fatalf("Failed to initialize registry: %v", err)
//	}
//	defer reg.CloseAll()
func BuildRegistry(ctx context.Context, cfg *Config) (*registry.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}

	logger.Debug("Initializing registry from configuration")

	reg := registry.New()

	for i, volumeCfg := range cfg.Volumes {
		if err := buildVolume(ctx, reg, volumeCfg); err != nil {
			// Unwind: volumes built before this one are already open.
			if closeErr := reg.CloseAll(); closeErr != nil {
				logger.Warn("Cleanup after failed initialization: %v", closeErr)
			}
			return nil, fmt.Errorf("failed to build volume[%d] %q: %w", i, volumeCfg.Name, err)
		}
	}

	logger.Debug("Registered %d volume(s)", len(reg.ListVolumes()))

	return reg, nil
}

// buildVolume creates one volume's stores and registers it. On failure the
// stores created so far are closed before returning.
func buildVolume(ctx context.Context, reg *registry.Registry, volumeCfg VolumeConfig) error {
	logger.Debug("Creating volume %q (driver: %s, catalog: %s, read_only: %v)",
		volumeCfg.Name, volumeCfg.Driver.Type, volumeCfg.Catalog.Type, volumeCfg.ReadOnly)

	driver, err := CreateDriver(ctx, volumeCfg.Driver)
	if err != nil {
		return fmt.Errorf("driver: %w", err)
	}

	cat, err := CreateCatalog(ctx, volumeCfg.Catalog)
	if err != nil {
		if closeErr := driver.Close(); closeErr != nil {
			logger.Warn("Failed to close driver of %q during cleanup: %v", volumeCfg.Name, closeErr)
		}
		return fmt.Errorf("catalog: %w", err)
	}

	volume := &registry.Volume{
		Name:     volumeCfg.Name,
		Driver:   driver,
		Catalog:  cat,
		ReadOnly: volumeCfg.ReadOnly,
	}

	if err := reg.AddVolume(volume); err != nil {
		if closeErr := volume.Close(); closeErr != nil {
			logger.Warn("Failed to close volume %q during cleanup: %v", volumeCfg.Name, closeErr)
		}
		return err
	}

	logger.Debug("Volume %q registered successfully", volumeCfg.Name)
	return nil
}
