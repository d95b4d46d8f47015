package image

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/chainfs/pkg/store/block"
	blocktesting "github.com/marmos91/chainfs/pkg/store/block/testing"
)

// ============================================================================
// Helpers
// ============================================================================

func testImagePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "volume.img")
}

func createTestImage(t *testing.T, path string, geo Geometry) *Driver {
	t.Helper()
	d, err := Create(context.Background(), path, geo)
	require.NoError(t, err)
	return d
}

// rewriteHeader decodes the superblock at path, lets the test mutate it, and
// writes it back.
func rewriteHeader(t *testing.T, path string, mutate func(*superblock)) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	raw := make([]byte, headerSize)
	_, err = f.ReadAt(raw, 0)
	require.NoError(t, err)

	sb, err := decodeHeader(raw)
	require.NoError(t, err)
	mutate(&sb)

	encoded, err := encodeHeader(sb)
	require.NoError(t, err)
	_, err = f.WriteAt(encoded, 0)
	require.NoError(t, err)
}

func flipByteAt(t *testing.T, path string, off int64) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	b := make([]byte, 1)
	_, err = f.ReadAt(b, off)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b, off)
	require.NoError(t, err)
}

func patternBytes(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte('a' + i%26)
	}
	return p
}

// ============================================================================
// Driver Suite
// ============================================================================

// TestImageDriver runs the complete block driver test suite against a fresh
// image file.
func TestImageDriver(t *testing.T) {
	suite := &blocktesting.DriverTestSuite{
		NewDriver: func() block.Driver {
			d, err := Create(context.Background(), testImagePath(t), Geometry{
				BlockSize:      64,
				BlocksPerChunk: 4,
				ChunkCount:     64,
			})
			if err != nil {
				t.Fatalf("Failed to create image driver: %v", err)
			}
			t.Cleanup(func() { d.Close() })
			return d
		},
	}

	suite.Run(t)
}

// ============================================================================
// Formatting
// ============================================================================

func TestImageCreate(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		d := createTestImage(t, testImagePath(t), Geometry{})
		defer d.Close()

		assert.EqualValues(t, DefaultBlockSize, d.BlockSize())
		assert.EqualValues(t, DefaultBlocksPerChunk, d.BlocksPerNode(0))
	})

	t.Run("FullSizeUpFront", func(t *testing.T) {
		path := testImagePath(t)
		geo := Geometry{BlockSize: 32, BlocksPerChunk: 2, ChunkCount: 16}
		d := createTestImage(t, path, geo)
		defer d.Close()

		fi, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, geo.totalSize(), fi.Size())
	})

	t.Run("ExistingFile", func(t *testing.T) {
		path := testImagePath(t)
		d := createTestImage(t, path, Geometry{BlockSize: 32, BlocksPerChunk: 2, ChunkCount: 4})
		require.NoError(t, d.Close())

		_, err := Create(context.Background(), path, Geometry{})
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrExist)
	})
}

// ============================================================================
// Persistence
// ============================================================================

// TestImagePersistence writes a chain, closes the image, and verifies the
// reopened volume serves the same chain.
func TestImagePersistence(t *testing.T) {
	ctx := context.Background()
	path := testImagePath(t)
	geo := Geometry{BlockSize: 16, BlocksPerChunk: 2, ChunkCount: 8}

	d := createTestImage(t, path, geo)
	data := patternBytes(40)

	start, n, err := block.WriteChain(ctx, d, bytes.NewReader(data))
	require.NoError(t, err)
	require.EqualValues(t, len(data), n)
	require.NoError(t, d.Sync(ctx))
	require.NoError(t, d.Close())

	reopened, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	assert.EqualValues(t, geo.BlockSize, reopened.BlockSize())
	assert.Equal(t, data, blocktesting.ReadChain(t, reopened, start, int64(len(data))))

	stats, err := block.ChainStats(ctx, reopened, start, int64(len(data)))
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Chunks)
	assert.False(t, stats.Truncated)
}

// TestImageSyncBeforeClose verifies Sync alone is enough for another handle
// to see the committed table.
func TestImageSyncBeforeClose(t *testing.T) {
	ctx := context.Background()
	path := testImagePath(t)

	d := createTestImage(t, path, Geometry{BlockSize: 16, BlocksPerChunk: 2, ChunkCount: 8})
	defer d.Close()

	node, err := d.AllocateChunk(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Sync(ctx))

	second, err := Open(ctx, Config{Path: path, ReadOnly: true})
	require.NoError(t, err)
	defer second.Close()

	next, err := second.NextChunk(ctx, node)
	require.NoError(t, err)
	assert.True(t, second.IsEndOfChain(next))
}

// ============================================================================
// Open Validation
// ============================================================================

func TestImageOpenValidation(t *testing.T) {
	ctx := context.Background()

	// newClosedImage formats a valid image and closes it, leaving a clean
	// file for each case to damage.
	newClosedImage := func(t *testing.T) string {
		path := testImagePath(t)
		d := createTestImage(t, path, Geometry{BlockSize: 32, BlocksPerChunk: 2, ChunkCount: 4})
		require.NoError(t, d.Close())
		return path
	}

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "nope.img")})
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("ShortFile", func(t *testing.T) {
		path := newClosedImage(t)
		require.NoError(t, os.Truncate(path, 10))

		_, err := Open(ctx, Config{Path: path})
		assert.ErrorIs(t, err, ErrImageCorrupt)
	})

	t.Run("BadMagic", func(t *testing.T) {
		path := newClosedImage(t)
		rewriteHeader(t, path, func(sb *superblock) { sb.Magic = 0xDEADBEEF })

		_, err := Open(ctx, Config{Path: path})
		assert.ErrorIs(t, err, ErrImageCorrupt)
	})

	t.Run("WrongVersion", func(t *testing.T) {
		path := newClosedImage(t)
		rewriteHeader(t, path, func(sb *superblock) { sb.Version = version + 1 })

		_, err := Open(ctx, Config{Path: path})
		assert.ErrorIs(t, err, ErrImageVersion)
	})

	t.Run("ImpossibleGeometry", func(t *testing.T) {
		path := newClosedImage(t)
		rewriteHeader(t, path, func(sb *superblock) { sb.BlockSize = 0 })

		_, err := Open(ctx, Config{Path: path})
		assert.ErrorIs(t, err, ErrImageCorrupt)
	})

	t.Run("CorruptTable", func(t *testing.T) {
		path := newClosedImage(t)
		flipByteAt(t, path, tableOffset())

		_, err := Open(ctx, Config{Path: path})
		assert.ErrorIs(t, err, ErrImageCorrupt)
	})

	t.Run("TruncatedData", func(t *testing.T) {
		path := newClosedImage(t)
		require.NoError(t, os.Truncate(path, tableOffset()+4))

		_, err := Open(ctx, Config{Path: path})
		assert.ErrorIs(t, err, ErrImageCorrupt)
	})
}

// ============================================================================
// Read-Only Mode
// ============================================================================

func TestImageReadOnly(t *testing.T) {
	ctx := context.Background()
	path := testImagePath(t)
	geo := Geometry{BlockSize: 16, BlocksPerChunk: 2, ChunkCount: 4}

	d := createTestImage(t, path, geo)
	node, err := d.AllocateChunk(ctx)
	require.NoError(t, err)
	data := patternBytes(16)
	require.NoError(t, d.WriteBlock(ctx, node, 0, data))
	require.NoError(t, d.Close())

	ro, err := Open(ctx, Config{Path: path, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	buf := make([]byte, 16)
	require.NoError(t, ro.ReadBlock(ctx, node, 0, buf))
	assert.Equal(t, data, buf)

	require.ErrorIs(t, ro.WriteBlock(ctx, node, 0, buf), block.ErrReadOnly)
	_, err = ro.AllocateChunk(ctx)
	require.ErrorIs(t, err, block.ErrReadOnly)
	require.ErrorIs(t, ro.LinkChunk(ctx, node, block.EndOfChain), block.ErrReadOnly)
	require.ErrorIs(t, ro.FreeChain(ctx, node), block.ErrReadOnly)

	assert.NoError(t, ro.Sync(ctx))
}

// ============================================================================
// Allocation
// ============================================================================

// TestImageChunkReuseReadsZeros frees a written chunk and checks the next
// allocation hands it back wiped.
func TestImageChunkReuseReadsZeros(t *testing.T) {
	ctx := context.Background()
	d := createTestImage(t, testImagePath(t), Geometry{BlockSize: 16, BlocksPerChunk: 2, ChunkCount: 4})
	defer d.Close()

	node, err := d.AllocateChunk(ctx)
	require.NoError(t, err)
	require.NoError(t, d.WriteBlock(ctx, node, 0, patternBytes(16)))
	require.NoError(t, d.FreeChain(ctx, node))

	again, err := d.AllocateChunk(ctx)
	require.NoError(t, err)
	require.Equal(t, node, again)

	buf := make([]byte, 16)
	require.NoError(t, d.ReadBlock(ctx, again, 0, buf))
	assert.Equal(t, make([]byte, 16), buf)
}

func TestImageStorageFull(t *testing.T) {
	ctx := context.Background()
	d := createTestImage(t, testImagePath(t), Geometry{BlockSize: 16, BlocksPerChunk: 2, ChunkCount: 2})
	defer d.Close()

	a, err := d.AllocateChunk(ctx)
	require.NoError(t, err)
	_, err = d.AllocateChunk(ctx)
	require.NoError(t, err)

	_, err = d.AllocateChunk(ctx)
	require.ErrorIs(t, err, block.ErrStorageFull)

	// Freeing makes room again.
	require.NoError(t, d.FreeChain(ctx, a))
	_, err = d.AllocateChunk(ctx)
	require.NoError(t, err)
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestImageClosed(t *testing.T) {
	ctx := context.Background()
	d := createTestImage(t, testImagePath(t), Geometry{BlockSize: 16, BlocksPerChunk: 2, ChunkCount: 4})

	node, err := d.AllocateChunk(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	assert.Zero(t, d.BlockSize())

	buf := make([]byte, 16)
	require.ErrorIs(t, d.ReadBlock(ctx, node, 0, buf), block.ErrDriverClosed)
	_, err = d.AllocateChunk(ctx)
	require.ErrorIs(t, err, block.ErrDriverClosed)
	require.ErrorIs(t, d.Sync(ctx), block.ErrDriverClosed)

	assert.NoError(t, d.Close())
}
