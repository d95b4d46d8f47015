// Package badger implements a catalog persisted in BadgerDB.
//
// Entries live as key-value records keyed by normalized path (see keys.go),
// so lookups are point reads and listings are prefix scans that come back
// already sorted. It pairs naturally with the badger block driver: pointing
// both at directories under one root makes the volume travel as one unit.
package badger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/chainfs/pkg/store/catalog"
)

// Config contains the settings for opening a BadgerDB-backed catalog.
type Config struct {
	// Path is the directory BadgerDB keeps its files in. BadgerDB creates
	// it if missing. Ignored when InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory runs BadgerDB without touching disk. Everything is gone
	// when the catalog closes; meant for tests and throwaway volumes.
	InMemory bool `mapstructure:"in_memory"`
}

// Catalog is a path catalog over an embedded BadgerDB instance.
//
// All methods are safe for concurrent use; BadgerDB transactions provide
// the isolation and the catalog itself only guards its closed flag.
type Catalog struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

// Compile-time interface check.
var _ catalog.WritableCatalog = (*Catalog)(nil)

// New opens a BadgerDB-backed catalog.
func New(ctx context.Context, cfg Config) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}

	// Catalog records are tiny; modest caches go a long way.
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)
	opts = opts.WithBlockCacheSize(32 << 20)
	opts = opts.WithIndexCacheSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	return &Catalog{db: db}, nil
}

// checkOpen fails with ErrCatalogClosed once Close has run.
func (c *Catalog) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return catalog.ErrCatalogClosed
	}
	return nil
}

// Resolve returns the entry stored under path.
func (c *Catalog) Resolve(ctx context.Context, path string) (catalog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Entry{}, err
	}

	key, err := catalog.NormalizePath(path)
	if err != nil {
		return catalog.Entry{}, err
	}

	if err := c.checkOpen(); err != nil {
		return catalog.Entry{}, err
	}

	var entry catalog.Entry
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyEntry(key))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%s: %w", key, catalog.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read entry %s: %w", key, err)
		}

		return item.Value(func(val []byte) error {
			decoded, err := decodeEntry(key, val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			entry = decoded
			return nil
		})
	})
	if err != nil {
		return catalog.Entry{}, err
	}
	return entry, nil
}

// List returns the entries under prefix, sorted by path.
//
// BadgerDB iterates keys in byte order, so entries come out already sorted;
// the scan only has to drop siblings that share the byte prefix but not the
// path component ("/docsy" under a "/docs" scan).
func (c *Catalog) List(ctx context.Context, prefix string) ([]catalog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := "/"
	if strings.TrimSpace(prefix) != "" {
		var err error
		key, err = catalog.NormalizePath(prefix)
		if err != nil {
			return nil, err
		}
	}

	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	var out []catalog.Entry
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyEntry(key)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			path := entryPathFromKey(item.Key())
			if key != "/" && path != key && !strings.HasPrefix(path, key+"/") {
				continue
			}

			err := item.Value(func(val []byte) error {
				decoded, err := decodeEntry(path, val)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				out = append(out, decoded)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of entries in the catalog.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	count := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEntry)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Put stores entry under its normalized path, replacing any existing entry.
func (c *Catalog) Put(ctx context.Context, entry catalog.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key, err := catalog.NormalizePath(entry.Path)
	if err != nil {
		return err
	}
	entry.Path = key

	if err := c.checkOpen(); err != nil {
		return err
	}

	encoded, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyEntry(key), encoded)
	})
	if err != nil {
		return fmt.Errorf("failed to store entry %s: %w", key, err)
	}
	return nil
}

// Remove deletes the entry at path and returns it.
func (c *Catalog) Remove(ctx context.Context, path string) (catalog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Entry{}, err
	}

	key, err := catalog.NormalizePath(path)
	if err != nil {
		return catalog.Entry{}, err
	}

	if err := c.checkOpen(); err != nil {
		return catalog.Entry{}, err
	}

	var entry catalog.Entry
	err = c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyEntry(key))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%s: %w", key, catalog.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read entry %s: %w", key, err)
		}

		err = item.Value(func(val []byte) error {
			decoded, err := decodeEntry(key, val)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			entry = decoded
			return nil
		})
		if err != nil {
			return err
		}

		return txn.Delete(keyEntry(key))
	})
	if err != nil {
		return catalog.Entry{}, err
	}
	return entry, nil
}

// Close closes the database. Operations afterwards fail with
// ErrCatalogClosed.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB catalog: %w", err)
	}
	return nil
}
