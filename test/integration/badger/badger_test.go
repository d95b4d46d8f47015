//go:build integration

package badger_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/chainfs/pkg/file"
	"github.com/marmos91/chainfs/pkg/gc"
	"github.com/marmos91/chainfs/pkg/store/block"
	blockbadger "github.com/marmos91/chainfs/pkg/store/block/badger"
	"github.com/marmos91/chainfs/pkg/store/catalog"
	catalogbadger "github.com/marmos91/chainfs/pkg/store/catalog/badger"
)

// TestBadgerVolume_Integration exercises a complete volume backed by BadgerDB
// for both blocks and the catalog.
//
// Prerequisites:
//   - None (BadgerDB is embedded, no external services needed)
//   - Run with: go test -tags=integration ./test/integration/badger/...
//
// These tests verify that a BadgerDB volume:
//   - Stores imported files and serves them back
//   - Persists blocks, links, and catalog entries across restarts
//   - Frees chains on removal and collects orphans
func TestBadgerVolume_Integration(t *testing.T) {
	ctx := context.Background()

	// ========================================================================
	// Setup: temporary directories for both databases
	// ========================================================================

	tempDir, err := os.MkdirTemp("", "chainfs-badger-volume-*")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	blocksPath := filepath.Join(tempDir, "blocks")
	catalogPath := filepath.Join(tempDir, "catalog")

	openVolume := func(t *testing.T) (*blockbadger.Driver, *catalogbadger.Catalog) {
		t.Helper()

		driver, err := blockbadger.New(ctx, blockbadger.Config{
			Path:           blocksPath,
			BlockSize:      64,
			BlocksPerChunk: 4,
		})
		if err != nil {
			t.Fatalf("Failed to open block driver: %v", err)
		}

		cat, err := catalogbadger.New(ctx, catalogbadger.Config{Path: catalogPath})
		if err != nil {
			driver.Close()
			t.Fatalf("Failed to open catalog: %v", err)
		}
		return driver, cat
	}

	readFile := func(t *testing.T, driver block.Driver, cat catalog.Catalog, path string) []byte {
		t.Helper()

		f := file.New(driver)
		if err := f.Open(ctx, cat, path, file.ReadOnly); err != nil {
			t.Fatalf("Failed to open %s: %v", path, err)
		}
		data, err := io.ReadAll(f.Reader(ctx))
		if err != nil {
			t.Fatalf("Failed to read %s: %v", path, err)
		}
		if err := f.Close(ctx); err != nil {
			t.Fatalf("Failed to close %s: %v", path, err)
		}
		return data
	}

	// 150 bytes spans several blocks and one chunk boundary at the test
	// geometry.
	payload := make([]byte, 150)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	// ========================================================================
	// Test: import a file and read it back in the same session
	// ========================================================================

	t.Run("ImportAndRead", func(t *testing.T) {
		driver, cat := openVolume(t)
		defer cat.Close()
		defer driver.Close()

		start, size, err := block.WriteChain(ctx, driver, bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("Failed to write chain: %v", err)
		}
		if size != int64(len(payload)) {
			t.Fatalf("Expected %d bytes written, got %d", len(payload), size)
		}

		if err := cat.Put(ctx, catalog.Entry{Path: "/docs/readme.txt", Start: start, Size: size}); err != nil {
			t.Fatalf("Failed to publish entry: %v", err)
		}

		if got := readFile(t, driver, cat, "/docs/readme.txt"); !bytes.Equal(got, payload) {
			t.Errorf("Read back %d bytes that do not match the import", len(got))
		}

		if err := driver.Sync(ctx); err != nil {
			t.Fatalf("Failed to sync: %v", err)
		}
	})

	// ========================================================================
	// Test: everything survives a restart
	// ========================================================================

	t.Run("Persistence", func(t *testing.T) {
		driver, cat := openVolume(t)
		defer cat.Close()
		defer driver.Close()

		// Geometry comes back from the volume itself.
		if driver.BlockSize() != 64 {
			t.Errorf("Expected block size 64 after reopen, got %d", driver.BlockSize())
		}

		entry, err := cat.Resolve(ctx, "/docs/readme.txt")
		if err != nil {
			t.Fatalf("Failed to resolve after reopen: %v", err)
		}
		if entry.Size != int64(len(payload)) {
			t.Errorf("Expected size %d, got %d", len(payload), entry.Size)
		}

		if got := readFile(t, driver, cat, "/docs/readme.txt"); !bytes.Equal(got, payload) {
			t.Error("Content changed across restart")
		}
	})

	// ========================================================================
	// Test: patch in place, restart, verify
	// ========================================================================

	t.Run("PatchPersists", func(t *testing.T) {
		patch := []byte("PATCHED")

		// Phase 1: overwrite a span crossing a block boundary, close.
		{
			driver, cat := openVolume(t)

			f := file.New(driver)
			if err := f.Open(ctx, cat, "/docs/readme.txt", file.ReadWrite); err != nil {
				t.Fatalf("Failed to open for write: %v", err)
			}
			if err := f.Seek(ctx, 60); err != nil {
				t.Fatalf("Failed to seek: %v", err)
			}
			if _, err := f.Write(ctx, patch); err != nil {
				t.Fatalf("Failed to write patch: %v", err)
			}
			if err := f.Close(ctx); err != nil {
				t.Fatalf("Failed to close file: %v", err)
			}
			if err := driver.Sync(ctx); err != nil {
				t.Fatalf("Failed to sync: %v", err)
			}

			cat.Close()
			driver.Close()
		}

		// Phase 2: reopen and verify the patched bytes landed.
		{
			driver, cat := openVolume(t)
			defer cat.Close()
			defer driver.Close()

			want := append([]byte(nil), payload...)
			copy(want[60:], patch)

			if got := readFile(t, driver, cat, "/docs/readme.txt"); !bytes.Equal(got, want) {
				t.Error("Patched content did not persist")
			}
		}
	})

	// ========================================================================
	// Test: removal frees the chain, the collector reaps orphans
	// ========================================================================

	t.Run("RemoveAndCollect", func(t *testing.T) {
		driver, cat := openVolume(t)
		defer cat.Close()
		defer driver.Close()

		// Leave an orphan chain with no catalog entry, as a crash between
		// import and publish would.
		if _, _, err := block.WriteChain(ctx, driver, bytes.NewReader(payload)); err != nil {
			t.Fatalf("Failed to write orphan chain: %v", err)
		}

		entry, err := cat.Remove(ctx, "/docs/readme.txt")
		if err != nil {
			t.Fatalf("Failed to remove entry: %v", err)
		}
		if err := driver.FreeChain(ctx, entry.Start); err != nil {
			t.Fatalf("Failed to free removed chain: %v", err)
		}

		collector, err := gc.NewCollector(driver, cat, gc.Config{Enabled: true})
		if err != nil {
			t.Fatalf("Failed to build collector: %v", err)
		}
		stats, err := collector.RunNow(ctx)
		if err != nil {
			t.Fatalf("Collection failed: %v", err)
		}
		if stats.FreedCount == 0 {
			t.Error("Expected the orphan chain to be freed")
		}

		remaining, err := driver.Chunks(ctx)
		if err != nil {
			t.Fatalf("Failed to enumerate chunks: %v", err)
		}
		if len(remaining) != 0 {
			t.Errorf("Expected an empty volume, found %d chunks", len(remaining))
		}
	})
}
