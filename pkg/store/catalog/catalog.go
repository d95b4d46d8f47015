// Package catalog maps file paths to chunk chains.
//
// A catalog entry ties a normalized path to the head node of a chain and the
// byte size of the content stored there. The catalog knows nothing about
// block contents; it is the naming layer on top of a block driver, and the
// two are usually backed by the same storage so a volume travels as one
// unit.
//
// Interfaces are split by capability. Read paths only ever need Resolver,
// the file layer takes exactly that, and read-only deployments can back it
// with a catalog that rejects mutation.
package catalog

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/marmos91/chainfs/pkg/store/block"
)

// Entry describes one cataloged file.
type Entry struct {
	// Path is the normalized absolute path of the file.
	Path string

	// Start is the head node of the file's chunk chain. A file with no
	// content carries the driver's end-of-chain sentinel here.
	Start block.Node

	// Size is the byte length of the file's content. It is authoritative:
	// the chain may hold more capacity than Size (slack in the last block
	// or spare chunks), and readers stop at Size regardless.
	Size int64
}

// Resolver looks paths up. This is the only capability the file layer
// needs to open files.
type Resolver interface {
	// Resolve returns the entry stored under path. The path is normalized
	// before lookup, so "a/b" and "/a/./b" hit the same entry.
	//
	// Returns ErrNotFound when no entry exists and ErrInvalidPath when the
	// path cannot be normalized.
	Resolve(ctx context.Context, path string) (Entry, error)
}

// Catalog adds enumeration on top of resolution.
type Catalog interface {
	Resolver

	// List returns the entries under prefix, sorted by path. Matching is
	// component-wise: prefix "/docs" covers "/docs" and "/docs/a.txt" but
	// not "/docsy". An empty prefix (or "/") lists the whole catalog. The
	// prefix is normalized like any other path before matching.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Count returns the number of entries in the catalog.
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the catalog. Operations after Close
	// fail with ErrCatalogClosed.
	Close() error
}

// WritableCatalog is a Catalog that can also be modified.
type WritableCatalog interface {
	Catalog

	// Put stores entry under its normalized path, replacing any existing
	// entry. Replacing does not free the old chain; callers that care use
	// Resolve first and release the old chain through the block layer.
	Put(ctx context.Context, entry Entry) error

	// Remove deletes the entry at path and returns it, so the caller can
	// free the chain it pointed at. Returns ErrNotFound when no entry
	// exists.
	Remove(ctx context.Context, path string) (Entry, error)
}

// NormalizePath brings a path into the canonical form used as catalog key:
// absolute, cleaned, forward slashes only. Relative paths are anchored at
// the root, so "docs/a.txt" and "/docs/a.txt" name the same entry, and dot
// segments are resolved against the root so a path can never escape it.
//
// Returns ErrInvalidPath for empty or all-whitespace paths.
func NormalizePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path: %w", ErrInvalidPath)
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p), nil
}
