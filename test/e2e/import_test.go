package e2e

import (
	"bytes"
	"testing"
)

// TestImportAndReadBack stores a file and verifies every byte comes back.
func TestImportAndReadBack(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		data := Pattern(300)
		entry := tc.Import("/docs/readme.txt", data)

		if entry.Size != int64(len(data)) {
			t.Errorf("Expected size %d, got %d", len(data), entry.Size)
		}

		got := tc.ReadBack("/docs/readme.txt")
		if !bytes.Equal(got, data) {
			t.Errorf("Read back %d bytes that do not match the import", len(got))
		}
	})
}

// TestImportEmptyFile stores a zero-byte file.
func TestImportEmptyFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		entry := tc.Import("/empty", nil)

		if entry.Size != 0 {
			t.Errorf("Expected size 0, got %d", entry.Size)
		}
		if !tc.Volume.Driver.IsEndOfChain(entry.Start) {
			t.Error("Empty file should not own a chain")
		}

		if got := tc.ReadBack("/empty"); len(got) != 0 {
			t.Errorf("Expected no data, got %d bytes", len(got))
		}
	})
}

// TestImportReplacesFile imports twice under the same path and verifies the
// second import wins.
func TestImportReplacesFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		tc.Import("/config.yaml", []byte("version: 1\n"))
		second := []byte("version: 2\nvolumes: []\n")
		tc.Import("/config.yaml", second)

		got := tc.ReadBack("/config.yaml")
		if !bytes.Equal(got, second) {
			t.Errorf("Expected the second import, got %q", got)
		}

		entries, err := tc.Volume.Catalog.List(tc.ctx, "/")
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(entries) != 1 {
			t.Errorf("Expected one entry after replacement, got %d", len(entries))
		}
	})
}

// TestImportLargeFile stores a file spanning many chunks.
func TestImportLargeFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		// 8000 bytes is 125 blocks, or 32 chunks at the test geometry.
		data := Pattern(8000)
		tc.Import("/blobs/archive.bin", data)

		got := tc.ReadBack("/blobs/archive.bin")
		if !bytes.Equal(got, data) {
			t.Error("Large file corrupted on the way through the volume")
		}
	})
}

// TestListImportedFiles verifies listing order and prefix filtering.
func TestListImportedFiles(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		tc.Import("/docs/b.txt", []byte("b"))
		tc.Import("/docs/a.txt", []byte("a"))
		tc.Import("/media/song.ogg", []byte("vorbis"))

		all, err := tc.Volume.Catalog.List(tc.ctx, "/")
		if err != nil {
			t.Fatalf("Failed to list /: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("Expected 3 entries, got %d", len(all))
		}
		if all[0].Path != "/docs/a.txt" || all[1].Path != "/docs/b.txt" {
			t.Errorf("Entries out of order: %s before %s", all[0].Path, all[1].Path)
		}

		docs, err := tc.Volume.Catalog.List(tc.ctx, "/docs")
		if err != nil {
			t.Fatalf("Failed to list /docs: %v", err)
		}
		if len(docs) != 2 {
			t.Errorf("Expected 2 entries under /docs, got %d", len(docs))
		}

		count, err := tc.Volume.Catalog.Count(tc.ctx)
		if err != nil {
			t.Fatalf("Failed to count: %v", err)
		}
		if count != 3 {
			t.Errorf("Expected count 3, got %d", count)
		}
	})
}
