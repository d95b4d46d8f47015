// Package badger implements a block driver persisted in BadgerDB.
//
// Chunks live as key-value records inside an embedded BadgerDB instance:
// block payloads, successor pointers, and the volume geometry each get a
// key namespace (see keys.go). The driver suits volumes that want
// crash-safe persistence without managing a raw image file; committed
// writes land in BadgerDB's write-ahead log and survive restarts.
//
// Node numbers are leased from a badger.Sequence, so they come out densely
// from zero in normal operation. An unclean shutdown can skip up to one
// lease worth of numbers; nothing above the driver depends on density.
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/chainfs/pkg/store/block"
)

const (
	// DefaultBlockSize is used when a fresh volume's config leaves
	// BlockSize zero.
	DefaultBlockSize = 512

	// DefaultBlocksPerChunk is used when a fresh volume's config leaves
	// BlocksPerChunk zero.
	DefaultBlocksPerChunk = 8

	// DefaultBlockCacheSizeMB is BadgerDB's block cache size when the
	// config leaves it zero.
	DefaultBlockCacheSizeMB = 64

	// DefaultIndexCacheSizeMB is BadgerDB's index cache size when the
	// config leaves it zero.
	DefaultIndexCacheSizeMB = 32

	// sequenceBandwidth is how many node numbers one lease covers.
	sequenceBandwidth = 128
)

// Config contains the settings for opening a BadgerDB-backed volume.
type Config struct {
	// Path is the directory BadgerDB keeps its files in. BadgerDB creates
	// it if missing. Ignored when InMemory is set.
	Path string `mapstructure:"path"`

	// BlockSize and BlocksPerChunk shape a newly formatted volume. On
	// reopen a non-zero field must match the persisted geometry; zero
	// accepts whatever the volume was formatted with.
	BlockSize      uint32 `mapstructure:"block_size"`
	BlocksPerChunk uint32 `mapstructure:"blocks_per_chunk"`

	// InMemory runs BadgerDB without touching disk. Everything is gone
	// when the driver closes; meant for tests and throwaway volumes.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB.
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB.
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// Driver is a block driver over an embedded BadgerDB instance.
//
// All methods are safe for concurrent use; BadgerDB transactions provide
// the isolation and the driver itself only guards its closed flag.
type Driver struct {
	db  *badger.DB
	seq *badger.Sequence

	blockSize uint32
	perChunk  uint32

	mu     sync.RWMutex
	closed bool
}

// Compile-time interface checks.
var (
	_ block.Driver     = (*Driver)(nil)
	_ block.Allocator  = (*Driver)(nil)
	_ block.Syncer     = (*Driver)(nil)
	_ block.Enumerator = (*Driver)(nil)
)

// New opens (and on first use formats) a BadgerDB-backed volume.
func New(ctx context.Context, cfg Config) (*Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}

	// Block payloads are opaque bytes and the OS page cache already sits
	// under BadgerDB; keep the instance lean and quiet.
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = DefaultBlockCacheSizeMB
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = DefaultIndexCacheSizeMB
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	geo, err := loadOrFormatGeometry(db, volumeGeometry{
		BlockSize:      cfg.BlockSize,
		BlocksPerChunk: cfg.BlocksPerChunk,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	seq, err := db.GetSequence([]byte(keySequenceCounter), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to lease node sequence: %w", err)
	}

	return &Driver{
		db:        db,
		seq:       seq,
		blockSize: geo.BlockSize,
		perChunk:  geo.BlocksPerChunk,
	}, nil
}

// loadOrFormatGeometry reads the persisted volume geometry, formatting the
// volume with the requested shape (plus defaults) on first open. Non-zero
// requested fields must match an existing volume.
func loadOrFormatGeometry(db *badger.DB, requested volumeGeometry) (volumeGeometry, error) {
	var geo volumeGeometry

	err := db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyGeometrySingleton))
		if err == badger.ErrKeyNotFound {
			geo = requested
			if geo.BlockSize == 0 {
				geo.BlockSize = DefaultBlockSize
			}
			if geo.BlocksPerChunk == 0 {
				geo.BlocksPerChunk = DefaultBlocksPerChunk
			}

			encoded, err := encodeGeometry(geo)
			if err != nil {
				return err
			}
			return txn.Set([]byte(keyGeometrySingleton), encoded)
		}
		if err != nil {
			return fmt.Errorf("failed to check volume geometry: %w", err)
		}

		return item.Value(func(val []byte) error {
			decoded, err := decodeGeometry(val)
			if err != nil {
				return err
			}
			geo = decoded
			return nil
		})
	})
	if err != nil {
		return volumeGeometry{}, err
	}

	if requested.BlockSize != 0 && requested.BlockSize != geo.BlockSize {
		return volumeGeometry{}, fmt.Errorf("volume formatted with block size %d, config asks for %d",
			geo.BlockSize, requested.BlockSize)
	}
	if requested.BlocksPerChunk != 0 && requested.BlocksPerChunk != geo.BlocksPerChunk {
		return volumeGeometry{}, fmt.Errorf("volume formatted with %d blocks per chunk, config asks for %d",
			geo.BlocksPerChunk, requested.BlocksPerChunk)
	}
	return geo, nil
}

// checkOpen fails with ErrDriverClosed once Close has run.
func (d *Driver) checkOpen() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return block.ErrDriverClosed
	}
	return nil
}

// BlockSize returns the volume's block size, or 0 once the driver is
// closed.
func (d *Driver) BlockSize() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0
	}
	return d.blockSize
}

// BlocksPerNode returns the volume's chunk size. Every chunk of a BadgerDB
// volume has the same shape.
func (d *Driver) BlocksPerNode(block.Node) uint32 {
	return d.perChunk
}

// IsEndOfChain reports whether node is the chain terminator.
func (d *Driver) IsEndOfChain(node block.Node) bool {
	return node == block.EndOfChain
}

// Sync forces BadgerDB's write-ahead log to disk.
func (d *Driver) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.checkOpen(); err != nil {
		return err
	}

	if err := d.db.Sync(); err != nil {
		return fmt.Errorf("failed to sync BadgerDB: %w", err)
	}
	return nil
}

// Close releases the node sequence and closes the database. Operations on
// a closed driver return ErrDriverClosed.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	// Hand unused leased node numbers back so the next open continues
	// densely.
	if err := d.seq.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := d.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close BadgerDB driver: %w", errors.Join(errs...))
	}
	return nil
}
