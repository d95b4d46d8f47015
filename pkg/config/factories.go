package config

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/chainfs/internal/logger"
	"github.com/marmos91/chainfs/pkg/store/block"
	blockbadger "github.com/marmos91/chainfs/pkg/store/block/badger"
	blockimage "github.com/marmos91/chainfs/pkg/store/block/image"
	blockmemory "github.com/marmos91/chainfs/pkg/store/block/memory"
	blocks3 "github.com/marmos91/chainfs/pkg/store/block/s3"
	"github.com/marmos91/chainfs/pkg/store/catalog"
	catalogbadger "github.com/marmos91/chainfs/pkg/store/catalog/badger"
	catalogmemory "github.com/marmos91/chainfs/pkg/store/catalog/memory"
)

// CreateDriver creates a block driver based on configuration.
//
// This factory function uses the Type field to determine which driver
// implementation to create, then decodes the type-specific configuration from
// the options map and passes it to the driver's constructor.
//
// Supported types:
//   - "memory": Uses pkg/store/block/memory (ephemeral, for tests and scratch volumes)
//   - "badger": Uses pkg/store/block/badger (BadgerDB directory, persistent)
//   - "image": Uses pkg/store/block/image (single image file, persistent)
//   - "s3": Uses pkg/store/block/s3 (S3 or compatible object storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Block driver configuration
//
// Returns:
//   - block.Driver: Initialized block driver
//   - error: Configuration or initialization error
func CreateDriver(ctx context.Context, cfg DriverConfig) (block.Driver, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryDriver(ctx, cfg.Options)
	case "badger":
		return createBadgerDriver(ctx, cfg.Options)
	case "image":
		return createImageDriver(ctx, cfg.Options)
	case "s3":
		return createS3Driver(ctx, cfg.Options)
	default:
		return nil, fmt.Errorf("unknown block driver type: %q (supported: memory, badger, image, s3)", cfg.Type)
	}
}

// createMemoryDriver creates an in-memory block driver.
func createMemoryDriver(ctx context.Context, options map[string]any) (block.Driver, error) {
	var driverCfg blockmemory.Config
	if err := mapstructure.Decode(options, &driverCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory driver config: %w", err)
	}

	driver, err := blockmemory.New(ctx, driverCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory driver: %w", err)
	}

	return driver, nil
}

// createBadgerDriver creates a BadgerDB-backed block driver.
func createBadgerDriver(ctx context.Context, options map[string]any) (block.Driver, error) {
	var driverCfg blockbadger.Config
	if err := mapstructure.Decode(options, &driverCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger driver config: %w", err)
	}

	// Validate required fields
	if driverCfg.Path == "" && !driverCfg.InMemory {
		return nil, fmt.Errorf("badger driver: path is required")
	}

	driver, err := blockbadger.New(ctx, driverCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger driver: %w", err)
	}

	logger.Info("Badger block driver initialized: path=%s block_size=%d",
		driverCfg.Path, driver.BlockSize())

	return driver, nil
}

// createImageDriver opens an image-file block driver.
//
// The image must already exist; "chainfs format" creates one.
func createImageDriver(ctx context.Context, options map[string]any) (block.Driver, error) {
	var driverCfg blockimage.Config
	if err := mapstructure.Decode(options, &driverCfg); err != nil {
		return nil, fmt.Errorf("failed to decode image driver config: %w", err)
	}

	// Validate required fields
	if driverCfg.Path == "" {
		return nil, fmt.Errorf("image driver: path is required")
	}

	driver, err := blockimage.Open(ctx, driverCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open image driver: %w", err)
	}

	logger.Info("Image block driver initialized: path=%s block_size=%d read_only=%v",
		driverCfg.Path, driver.BlockSize(), driverCfg.ReadOnly)

	return driver, nil
}

// createS3Driver creates an S3-backed block driver.
func createS3Driver(ctx context.Context, options map[string]any) (block.Driver, error) {
	// Define the flat configuration struct for the S3 driver. Client and
	// volume settings arrive in one options map and are split here.
	type S3DriverOptions struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
		BlockSize       uint32 `mapstructure:"block_size"`
		BlocksPerChunk  uint32 `mapstructure:"blocks_per_chunk"`
		ReadOnly        bool   `mapstructure:"read_only"`
	}

	var driverOpts S3DriverOptions
	if err := mapstructure.Decode(options, &driverOpts); err != nil {
		return nil, fmt.Errorf("failed to decode S3 driver config: %w", err)
	}

	// Validate required fields
	if driverOpts.Bucket == "" {
		return nil, fmt.Errorf("S3 driver: bucket is required")
	}
	if driverOpts.Region == "" {
		return nil, fmt.Errorf("S3 driver: region is required")
	}

	client, err := blocks3.NewClient(ctx, blocks3.ClientConfig{
		Region:          driverOpts.Region,
		Endpoint:        driverOpts.Endpoint,
		AccessKeyID:     driverOpts.AccessKeyID,
		SecretAccessKey: driverOpts.SecretAccessKey,
		MaxRetries:      driverOpts.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build S3 client: %w", err)
	}

	driver, err := blocks3.New(ctx, blocks3.Config{
		Client:         client,
		Bucket:         driverOpts.Bucket,
		KeyPrefix:      driverOpts.KeyPrefix,
		BlockSize:      driverOpts.BlockSize,
		BlocksPerChunk: driverOpts.BlocksPerChunk,
		ReadOnly:       driverOpts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 driver: %w", err)
	}

	logger.Info("S3 block driver initialized: bucket=%s, region=%s, prefix=%s",
		driverOpts.Bucket, driverOpts.Region, driverOpts.KeyPrefix)

	return driver, nil
}

// CreateCatalog creates a catalog based on configuration.
//
// This factory function uses the Type field to determine which catalog
// implementation to create, then decodes the type-specific configuration from
// the options map and passes it to the catalog's constructor.
//
// Supported types:
//   - "memory": Uses pkg/store/catalog/memory (ephemeral)
//   - "badger": Uses pkg/store/catalog/badger (BadgerDB directory, persistent)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Catalog configuration
//
// Returns:
//   - catalog.Catalog: Initialized catalog
//   - error: Configuration or initialization error
func CreateCatalog(ctx context.Context, cfg CatalogConfig) (catalog.Catalog, error) {
	switch cfg.Type {
	case "memory":
		return catalogmemory.New(ctx)
	case "badger":
		return createBadgerCatalog(ctx, cfg.Options)
	default:
		return nil, fmt.Errorf("unknown catalog type: %q (supported: memory, badger)", cfg.Type)
	}
}

// createBadgerCatalog creates a BadgerDB-backed catalog.
func createBadgerCatalog(ctx context.Context, options map[string]any) (catalog.Catalog, error) {
	var catalogCfg catalogbadger.Config
	if err := mapstructure.Decode(options, &catalogCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger catalog config: %w", err)
	}

	// Validate required fields
	if catalogCfg.Path == "" && !catalogCfg.InMemory {
		return nil, fmt.Errorf("badger catalog: path is required")
	}

	cat, err := catalogbadger.New(ctx, catalogCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger catalog: %w", err)
	}

	return cat, nil
}
