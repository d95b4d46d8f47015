// Package memory provides an in-RAM catalog.
//
// Entries live in a map keyed by normalized path and vanish with the
// process. It pairs with the memory block driver for tests and scratch
// volumes.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/marmos91/chainfs/pkg/store/catalog"
)

// Catalog is an in-RAM path catalog. Safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]catalog.Entry
	closed  bool
}

// Compile-time interface check.
var _ catalog.WritableCatalog = (*Catalog)(nil)

// New creates an empty memory catalog.
func New(ctx context.Context) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Catalog{entries: make(map[string]catalog.Entry)}, nil
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

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return catalog.Entry{}, catalog.ErrCatalogClosed
	}

	entry, ok := c.entries[key]
	if !ok {
		return catalog.Entry{}, fmt.Errorf("%s: %w", key, catalog.ErrNotFound)
	}
	return entry, nil
}

// List returns the entries under prefix, sorted by path.
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

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, catalog.ErrCatalogClosed
	}

	var out []catalog.Entry
	for path, entry := range c.entries {
		if key == "/" || path == key || strings.HasPrefix(path, key+"/") {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Count returns the number of entries in the catalog.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, catalog.ErrCatalogClosed
	}
	return len(c.entries), nil
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

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return catalog.ErrCatalogClosed
	}
	c.entries[key] = entry
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

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return catalog.Entry{}, catalog.ErrCatalogClosed
	}

	entry, ok := c.entries[key]
	if !ok {
		return catalog.Entry{}, fmt.Errorf("%s: %w", key, catalog.ErrNotFound)
	}
	delete(c.entries, key)
	return entry, nil
}

// Close releases the catalog. Operations afterwards fail with
// ErrCatalogClosed.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.entries = nil
	return nil
}
