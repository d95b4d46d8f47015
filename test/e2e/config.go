package e2e

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/marmos91/chainfs/pkg/store/block"
	blockbadger "github.com/marmos91/chainfs/pkg/store/block/badger"
	blockimage "github.com/marmos91/chainfs/pkg/store/block/image"
	blockmemory "github.com/marmos91/chainfs/pkg/store/block/memory"
	"github.com/marmos91/chainfs/pkg/store/catalog"
	catalogbadger "github.com/marmos91/chainfs/pkg/store/catalog/badger"
	catalogmemory "github.com/marmos91/chainfs/pkg/store/catalog/memory"
)

// DriverType selects the block driver backing a test volume.
type DriverType string

const (
	DriverMemory DriverType = "memory"
	DriverBadger DriverType = "badger"
	DriverImage  DriverType = "image"
)

// CatalogType selects the catalog backing a test volume.
type CatalogType string

const (
	CatalogMemory CatalogType = "memory"
	CatalogBadger CatalogType = "badger"
)

// Every configuration formats its volume with the same small geometry, so
// modest payloads cross several block and chunk boundaries.
const (
	testBlockSize      = 64
	testBlocksPerChunk = 4
	testChunkCount     = 64
)

// TestConfig holds the configuration for a test run.
type TestConfig struct {
	Name    string
	Driver  DriverType
	Catalog CatalogType
}

// CreateDriver builds the block driver for this configuration. Persistent
// drivers put their files under baseDir.
func (tc *TestConfig) CreateDriver(ctx context.Context, baseDir string) (block.Driver, error) {
	switch tc.Driver {
	case DriverMemory:
		return blockmemory.New(ctx, blockmemory.Config{
			BlockSize:      testBlockSize,
			BlocksPerChunk: testBlocksPerChunk,
		})

	case DriverBadger:
		d, err := blockbadger.New(ctx, blockbadger.Config{
			Path:           filepath.Join(baseDir, "blocks"),
			BlockSize:      testBlockSize,
			BlocksPerChunk: testBlocksPerChunk,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create badger block driver: %w", err)
		}
		return d, nil

	case DriverImage:
		// Format then reopen, the same two steps a real volume goes
		// through between "chainfs format" and first use.
		path := filepath.Join(baseDir, "volume.img")
		created, err := blockimage.Create(ctx, path, blockimage.Geometry{
			BlockSize:      testBlockSize,
			BlocksPerChunk: testBlocksPerChunk,
			ChunkCount:     testChunkCount,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to format image: %w", err)
		}
		if err := created.Close(); err != nil {
			return nil, fmt.Errorf("failed to close formatted image: %w", err)
		}

		d, err := blockimage.Open(ctx, blockimage.Config{Path: path})
		if err != nil {
			return nil, fmt.Errorf("failed to open image: %w", err)
		}
		return d, nil

	default:
		return nil, fmt.Errorf("unknown driver type: %s", tc.Driver)
	}
}

// CreateCatalog builds the catalog for this configuration.
func (tc *TestConfig) CreateCatalog(ctx context.Context, baseDir string) (catalog.Catalog, error) {
	switch tc.Catalog {
	case CatalogMemory:
		return catalogmemory.New(ctx)

	case CatalogBadger:
		cat, err := catalogbadger.New(ctx, catalogbadger.Config{
			Path: filepath.Join(baseDir, "catalog"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create badger catalog: %w", err)
		}
		return cat, nil

	default:
		return nil, fmt.Errorf("unknown catalog type: %s", tc.Catalog)
	}
}

// AllConfigurations returns the volume configurations every test runs on.
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{Name: "memory-memory", Driver: DriverMemory, Catalog: CatalogMemory},
		{Name: "badger-badger", Driver: DriverBadger, Catalog: CatalogBadger},
		{Name: "image-badger", Driver: DriverImage, Catalog: CatalogBadger},
	}
}
