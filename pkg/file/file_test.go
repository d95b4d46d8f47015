package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/chainfs/pkg/store/block"
	"github.com/marmos91/chainfs/pkg/store/catalog"
)

// ============================================================================
// Test Driver
// ============================================================================

// chainDriver is an in-memory block driver for tests. Chains are laid out by
// load, and every driver call is recorded in ops so tests can assert on I/O
// order (or on its absence).
type chainDriver struct {
	blockSize      uint32
	blocksPerChunk uint32
	blocks         map[block.Node][][]byte
	next           map[block.Node]block.Node
	lastNode       block.Node
	ops            []string
}

func newChainDriver(blockSize, blocksPerChunk uint32) *chainDriver {
	return &chainDriver{
		blockSize:      blockSize,
		blocksPerChunk: blocksPerChunk,
		blocks:         make(map[block.Node][][]byte),
		next:           make(map[block.Node]block.Node),
	}
}

// load lays data out over consecutively numbered chunks and returns the head
// of the new chain. Loading no data returns the end-of-chain sentinel, like
// an empty file's catalog entry.
func (d *chainDriver) load(data []byte) block.Node {
	if len(data) == 0 {
		return block.EndOfChain
	}

	chunkBytes := int(d.blockSize) * int(d.blocksPerChunk)
	head := block.EndOfChain
	prev := block.EndOfChain
	node := d.lastNode + 1

	for off := 0; off < len(data); off += chunkBytes {
		blocks := make([][]byte, d.blocksPerChunk)
		for i := range blocks {
			blocks[i] = make([]byte, d.blockSize)
			start := off + i*int(d.blockSize)
			if start < len(data) {
				copy(blocks[i], data[start:])
			}
		}
		d.blocks[node] = blocks
		d.next[node] = block.EndOfChain
		if head == block.EndOfChain {
			head = node
		} else {
			d.next[prev] = node
		}
		prev = node
		node++
	}

	d.lastNode = node - 1
	return head
}

func (d *chainDriver) BlockSize() uint32 { return d.blockSize }

func (d *chainDriver) BlocksPerNode(block.Node) uint32 { return d.blocksPerChunk }

func (d *chainDriver) IsEndOfChain(n block.Node) bool { return n == block.EndOfChain }

func (d *chainDriver) Close() error { return nil }

func (d *chainDriver) ReadBlock(_ context.Context, node block.Node, index uint32, p []byte) error {
	d.ops = append(d.ops, fmt.Sprintf("read %d/%d", node, index))
	blocks, ok := d.blocks[node]
	if !ok {
		return block.ErrNodeNotFound
	}
	if index >= uint32(len(blocks)) {
		return block.ErrBlockOutOfRange
	}
	copy(p, blocks[index])
	return nil
}

func (d *chainDriver) WriteBlock(_ context.Context, node block.Node, index uint32, p []byte) error {
	d.ops = append(d.ops, fmt.Sprintf("write %d/%d", node, index))
	blocks, ok := d.blocks[node]
	if !ok {
		return block.ErrNodeNotFound
	}
	if index >= uint32(len(blocks)) {
		return block.ErrBlockOutOfRange
	}
	copy(blocks[index], p)
	return nil
}

func (d *chainDriver) NextChunk(_ context.Context, node block.Node) (block.Node, error) {
	d.ops = append(d.ops, fmt.Sprintf("next %d", node))
	next, ok := d.next[node]
	if !ok {
		return block.EndOfChain, block.ErrNodeNotFound
	}
	return next, nil
}

// opIndex returns the position of the first occurrence of op, or -1.
func opIndex(ops []string, op string) int {
	for i, o := range ops {
		if o == op {
			return i
		}
	}
	return -1
}

// brokenDriver simulates a driver that cannot provide block storage. Any
// call past BlockSize is counted so tests can assert it was never touched.
type brokenDriver struct {
	calls int
}

func (d *brokenDriver) BlockSize() uint32 { return 0 }

func (d *brokenDriver) BlocksPerNode(block.Node) uint32 { d.calls++; return 0 }

func (d *brokenDriver) ReadBlock(context.Context, block.Node, uint32, []byte) error {
	d.calls++
	return nil
}

func (d *brokenDriver) WriteBlock(context.Context, block.Node, uint32, []byte) error {
	d.calls++
	return nil
}

func (d *brokenDriver) NextChunk(context.Context, block.Node) (block.Node, error) {
	d.calls++
	return block.EndOfChain, nil
}

func (d *brokenDriver) IsEndOfChain(n block.Node) bool { return n == block.EndOfChain }

func (d *brokenDriver) Close() error { return nil }

// mapResolver resolves paths from a fixed map and counts lookups.
type mapResolver struct {
	entries map[string]catalog.Entry
	calls   int
}

func (r *mapResolver) Resolve(_ context.Context, path string) (catalog.Entry, error) {
	r.calls++
	entry, ok := r.entries[path]
	if !ok {
		return catalog.Entry{}, catalog.ErrNotFound
	}
	return entry, nil
}

// testData returns size bytes with a recognizable per-position pattern.
func testData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('A' + i%26)
	}
	return data
}

// openTestFile builds a 20-byte file over three chunks: blocks of 4 bytes,
// two blocks per chunk, so block and chunk boundaries both land inside the
// data.
func openTestFile(mode Mode) (*File, *chainDriver, []byte) {
	d := newChainDriver(4, 2)
	data := testData(20)
	head := d.load(data)
	return NewAt(d, head, int64(len(data)), mode), d, data
}

// ============================================================================
// Sequential Reads
// ============================================================================

func TestFileSequentialRead(t *testing.T) {
	ctx := context.Background()
	f, _, data := openTestFile(ReadOnly)

	for i, want := range data {
		require.False(t, f.EndOfFile(), "EndOfFile before byte %d", i)

		b, err := f.ReadByte(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, b, "byte %d", i)
	}

	// Reading the last byte raises the flag; there is no need to probe one
	// byte too far to see the boundary.
	assert.True(t, f.EndOfFile())
	assert.EqualValues(t, len(data), f.Position())
}

func TestFileReadPastEnd(t *testing.T) {
	ctx := context.Background()
	f, d, data := openTestFile(ReadOnly)

	for range data {
		_, err := f.ReadByte(ctx)
		require.NoError(t, err)
	}

	opsBefore := len(d.ops)
	for i := 0; i < 3; i++ {
		b, err := f.ReadByte(ctx)
		require.NoError(t, err)
		assert.Equal(t, byte(0), b)
		assert.True(t, f.EndOfFile())
	}

	n, err := f.Read(ctx, make([]byte, 8))
	require.NoError(t, err)
	assert.Zero(t, n)

	// Past the end there is nothing to load, so the driver stays untouched.
	assert.Equal(t, opsBefore, len(d.ops))
}

func TestFileEmpty(t *testing.T) {
	ctx := context.Background()
	d := newChainDriver(4, 2)
	f := NewAt(d, d.load(nil), 0, ReadOnly)

	b, err := f.ReadByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0), b)
	assert.True(t, f.EndOfFile())

	n, err := f.Read(ctx, make([]byte, 8))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, f.Seek(ctx, 0), "rewinding an empty file is a no-op")
	require.ErrorIs(t, f.Seek(ctx, 1), ErrInvalidSeek)

	assert.Empty(t, d.ops, "an empty file needs no I/O")
}

// ============================================================================
// Seek
// ============================================================================

func TestFileSeekReadAtEveryOffset(t *testing.T) {
	ctx := context.Background()
	f, _, data := openTestFile(ReadOnly)

	// Ascending hits the in-buffer fast path and forward walks; descending
	// forces restarts from the chain head.
	for i := 0; i < len(data); i++ {
		require.NoError(t, f.Seek(ctx, int64(i)))
		assert.False(t, f.EndOfFile(), "Seek(%d) should clear EndOfFile", i)
		assert.EqualValues(t, i, f.Position())

		b, err := f.ReadByte(ctx)
		require.NoError(t, err)
		assert.Equal(t, data[i], b, "offset %d", i)
	}
	for i := len(data) - 1; i >= 0; i-- {
		require.NoError(t, f.Seek(ctx, int64(i)))
		assert.False(t, f.EndOfFile())

		b, err := f.ReadByte(ctx)
		require.NoError(t, err)
		assert.Equal(t, data[i], b, "offset %d", i)
	}
}

func TestFileSeekWithinBlockAvoidsDriver(t *testing.T) {
	ctx := context.Background()
	f, d, data := openTestFile(ReadOnly)

	_, err := f.ReadByte(ctx)
	require.NoError(t, err)

	opsBefore := len(d.ops)
	require.NoError(t, f.Seek(ctx, 3))
	assert.Equal(t, opsBefore, len(d.ops), "seek within the buffered block should not touch the driver")

	b, err := f.ReadByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, data[3], b)

	// Leaving the buffered block has to load the target block.
	require.NoError(t, f.Seek(ctx, 9))
	assert.Greater(t, len(d.ops), opsBefore)
}

func TestFileSeekOutOfRange(t *testing.T) {
	ctx := context.Background()
	f, _, data := openTestFile(ReadOnly)

	buf := make([]byte, 3)
	_, err := f.Read(ctx, buf)
	require.NoError(t, err)

	for _, offset := range []int64{-1, int64(len(data)), int64(len(data)) + 7} {
		err := f.Seek(ctx, offset)
		require.ErrorIs(t, err, ErrInvalidSeek, "offset %d", offset)
	}

	// The failed seeks must not have moved the cursor.
	assert.EqualValues(t, 3, f.Position())
	b, err := f.ReadByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, data[3], b)
}

func TestFileSeekNotOpen(t *testing.T) {
	ctx := context.Background()
	f := New(newChainDriver(4, 2))

	require.ErrorIs(t, f.Seek(ctx, 0), ErrNotOpen)
}

// ============================================================================
// Bulk Reads
// ============================================================================

func TestFileBulkReadMatchesByteReads(t *testing.T) {
	ctx := context.Background()
	bulk, _, data := openTestFile(ReadOnly)
	single, _, _ := openTestFile(ReadOnly)

	// Odd-sized pieces so reads land mid-block, on block boundaries, and
	// across the chunk boundary.
	var got []byte
	buf := make([]byte, 7)
	for {
		n, err := bulk.Read(ctx, buf)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, data, got)
	assert.True(t, bulk.EndOfFile())

	for i := range data {
		b, err := single.ReadByte(ctx)
		require.NoError(t, err)
		assert.Equal(t, got[i], b, "byte %d", i)
	}
}

func TestFileBulkReadSpanningChunks(t *testing.T) {
	ctx := context.Background()
	f, _, data := openTestFile(ReadOnly)

	buf := make([]byte, 64)
	n, err := f.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, buf[:n])
	assert.True(t, f.EndOfFile())

	// A clipped read from the middle after a seek.
	require.NoError(t, f.Seek(ctx, 6))
	n, err = f.Read(ctx, buf[:5])
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, data[6:11], buf[:5])
	assert.False(t, f.EndOfFile())
}

// ============================================================================
// Writes
// ============================================================================

func TestFileWriteByteReadBack(t *testing.T) {
	ctx := context.Background()
	f, d, data := openTestFile(ReadWrite)

	require.NoError(t, f.Seek(ctx, 5))
	require.NoError(t, f.WriteByte(ctx, 'x'))
	assert.True(t, f.Flags().Has(FlagBufferDirty))

	// The write lives in the buffer until the block moves on, so it is
	// visible to reads through the same file before any WriteBlock.
	assert.Equal(t, -1, opIndex(d.ops, "write 1/1"))
	require.NoError(t, f.Seek(ctx, 5))
	b, err := f.ReadByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte('x'), b)

	require.NoError(t, f.Flush(ctx))
	assert.False(t, f.Flags().Has(FlagBufferDirty))

	want := append([]byte(nil), data...)
	want[5] = 'x'
	verify := NewAt(d, 1, int64(len(data)), ReadOnly)
	got := make([]byte, len(data))
	n, err := verify.Read(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, want, got)
}

func TestFileWriteFlushedBeforeAdvance(t *testing.T) {
	ctx := context.Background()
	f, d, _ := openTestFile(ReadWrite)

	// Five bytes cross the first block boundary, so the dirty first block
	// must reach the driver before the second block is loaded over it.
	n, err := f.Write(ctx, []byte("vwxyz"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	flush := opIndex(d.ops, "write 1/0")
	load := opIndex(d.ops, "read 1/1")
	require.NotEqual(t, -1, flush, "dirty block was never written back")
	require.NotEqual(t, -1, load, "next block was never loaded")
	assert.Less(t, flush, load, "dirty block must be written back before the buffer is replaced")
}

func TestFileBulkWriteSpanningChunks(t *testing.T) {
	ctx := context.Background()
	f, d, data := openTestFile(ReadWrite)

	patch := []byte("0123456789ab")
	require.NoError(t, f.Seek(ctx, 2))
	n, err := f.Write(ctx, patch)
	require.NoError(t, err)
	assert.Equal(t, len(patch), n)
	assert.EqualValues(t, 2+len(patch), f.Position())

	require.NoError(t, f.Flush(ctx))

	want := append([]byte(nil), data...)
	copy(want[2:], patch)
	verify := NewAt(d, 1, int64(len(data)), ReadOnly)
	got := make([]byte, len(data))
	_, err = verify.Read(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileWritePastEndRejected(t *testing.T) {
	ctx := context.Background()
	f, _, data := openTestFile(ReadWrite)
	size := int64(len(data))

	require.NoError(t, f.Seek(ctx, size-2))
	n, err := f.Write(ctx, []byte("12345"))
	require.ErrorIs(t, err, ErrInvalidOffset)
	assert.Equal(t, 2, n, "the bytes that fit are written before the failure")
	assert.True(t, f.EndOfFile())

	err = f.WriteByte(ctx, 'x')
	require.ErrorIs(t, err, ErrInvalidOffset)
}

func TestFileWriteReadOnly(t *testing.T) {
	ctx := context.Background()
	f, d, _ := openTestFile(ReadOnly)

	require.ErrorIs(t, f.WriteByte(ctx, 'x'), ErrReadOnly)
	_, err := f.Write(ctx, []byte("xyz"))
	require.ErrorIs(t, err, ErrReadOnly)

	assert.False(t, f.Flags().Has(FlagBufferDirty))
	assert.Equal(t, -1, opIndex(d.ops, "write 1/0"))
}

func TestFileInterleavedReadWrite(t *testing.T) {
	ctx := context.Background()
	f, d, data := openTestFile(ReadWrite)

	// Read a header, patch a field in the middle, read the tail, then make
	// sure both the patch and the untouched regions survive.
	head := make([]byte, 4)
	_, err := f.Read(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, data[:4], head)

	require.NoError(t, f.Seek(ctx, 10))
	_, err = f.Write(ctx, []byte("##"))
	require.NoError(t, err)

	tail := make([]byte, 8)
	n, err := f.Read(ctx, tail)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, data[12:20], tail)

	require.NoError(t, f.Close(ctx))

	want := append([]byte(nil), data...)
	copy(want[10:], "##")
	verify := NewAt(d, 1, int64(len(data)), ReadOnly)
	got := make([]byte, len(data))
	_, err = verify.Read(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// ============================================================================
// Truncated Chains
// ============================================================================

func TestFileTruncatedChain(t *testing.T) {
	ctx := context.Background()
	d := newChainDriver(4, 2)

	// One chunk holds 8 bytes, but the size claims 20: the chain ends early.
	head := d.load(testData(8))
	f := NewAt(d, head, 20, ReadOnly)

	got := make([]byte, 20)
	n, err := f.Read(ctx, got)
	require.NoError(t, err, "a truncated chain is reported through EndOfFile, not an error")
	assert.Equal(t, 8, n)
	assert.True(t, f.EndOfFile())
	assert.EqualValues(t, 8, f.Position())

	b, err := f.ReadByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0), b)

	// Seeking into the missing region is a real failure.
	require.ErrorIs(t, f.Seek(ctx, 10), ErrTruncatedChain)
}

// ============================================================================
// Open and Close
// ============================================================================

func TestFileOpenResolvesPath(t *testing.T) {
	ctx := context.Background()
	d := newChainDriver(4, 2)
	dataA := testData(20)
	dataB := []byte("short")
	resolver := &mapResolver{entries: map[string]catalog.Entry{
		"/a.txt": {Path: "/a.txt", Start: d.load(dataA), Size: int64(len(dataA))},
		"/b.txt": {Path: "/b.txt", Start: d.load(dataB), Size: int64(len(dataB))},
	}}

	f := New(d)
	assert.True(t, f.Flags().Has(FlagNotExists|FlagEndOfFile))

	require.NoError(t, f.Open(ctx, resolver, "/a.txt", ReadOnly))
	assert.Equal(t, "/a.txt", f.Name())
	assert.EqualValues(t, len(dataA), f.Size())
	assert.False(t, f.EndOfFile())

	got := make([]byte, len(dataA))
	_, err := f.Read(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, dataA, got)

	// The same File moves to another path.
	require.NoError(t, f.Open(ctx, resolver, "/b.txt", ReadOnly))
	got = make([]byte, len(dataB))
	_, err = f.Read(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, dataB, got)
}

func TestFileOpenNotExists(t *testing.T) {
	ctx := context.Background()
	d := newChainDriver(4, 2)
	resolver := &mapResolver{entries: map[string]catalog.Entry{}}

	f := New(d)
	err := f.Open(ctx, resolver, "/missing", ReadOnly)
	require.ErrorIs(t, err, ErrNotExists)
	assert.True(t, f.Flags().Has(FlagNotExists|FlagEndOfFile))

	b, err := f.ReadByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0), b)
}

func TestFileOpenResolverFailure(t *testing.T) {
	ctx := context.Background()
	d := newChainDriver(4, 2)
	boom := errors.New("backend unreachable")

	f := New(d)
	err := f.Open(ctx, resolveFunc(func(context.Context, string) (catalog.Entry, error) {
		return catalog.Entry{}, boom
	}), "/a.txt", ReadOnly)
	require.ErrorIs(t, err, boom)
	assert.False(t, f.Flags().Has(FlagNotExists), "a transport failure is not a missing file")
}

type resolveFunc func(ctx context.Context, path string) (catalog.Entry, error)

func (fn resolveFunc) Resolve(ctx context.Context, path string) (catalog.Entry, error) {
	return fn(ctx, path)
}

func TestFileOpenWithoutStorage(t *testing.T) {
	ctx := context.Background()
	d := &brokenDriver{}
	resolver := &mapResolver{entries: map[string]catalog.Entry{
		"/a.txt": {Path: "/a.txt", Start: 1, Size: 20},
	}}

	f := New(d)
	err := f.Open(ctx, resolver, "/a.txt", ReadOnly)
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.True(t, f.Flags().Has(FlagOutOfMemory|FlagEndOfFile))

	// Without a buffer there is nothing to resolve and nothing to read.
	assert.Zero(t, resolver.calls)
	b, err := f.ReadByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0), b)
	require.ErrorIs(t, f.Seek(ctx, 0), ErrNotOpen)
	assert.Zero(t, d.calls)
}

func TestFileOpenFlushesPreviousFile(t *testing.T) {
	ctx := context.Background()
	d := newChainDriver(4, 2)
	dataA := testData(8)
	headA := d.load(dataA)
	resolver := &mapResolver{entries: map[string]catalog.Entry{
		"/a.txt": {Path: "/a.txt", Start: headA, Size: int64(len(dataA))},
		"/b.txt": {Path: "/b.txt", Start: d.load([]byte("other")), Size: 5},
	}}

	f := New(d)
	require.NoError(t, f.Open(ctx, resolver, "/a.txt", ReadWrite))
	require.NoError(t, f.WriteByte(ctx, 'Z'))

	require.NoError(t, f.Open(ctx, resolver, "/b.txt", ReadOnly))

	verify := NewAt(d, headA, int64(len(dataA)), ReadOnly)
	b, err := verify.ReadByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte('Z'), b, "pending write must survive moving the File to another path")
}

func TestFileClose(t *testing.T) {
	ctx := context.Background()
	f, d, data := openTestFile(ReadWrite)

	require.NoError(t, f.WriteByte(ctx, 'Q'))
	require.NoError(t, f.Close(ctx))

	// Close flushed the dirty block.
	verify := NewAt(d, 1, int64(len(data)), ReadOnly)
	b, err := verify.ReadByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte('Q'), b)

	// A closed file has no capabilities left.
	assert.True(t, f.EndOfFile())
	b, err = f.ReadByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0), b)
	require.ErrorIs(t, f.Seek(ctx, 0), ErrNotOpen)
	require.ErrorIs(t, f.WriteByte(ctx, 'x'), ErrNotOpen)

	require.NoError(t, f.Close(ctx), "Close is idempotent")
}

// ============================================================================
// io.Reader Adapter
// ============================================================================

func TestFileReaderAdapter(t *testing.T) {
	ctx := context.Background()
	f, _, data := openTestFile(ReadOnly)

	got, err := io.ReadAll(f.Reader(ctx))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Draining again immediately sees EOF.
	got, err = io.ReadAll(f.Reader(ctx))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileReaderAdapterTruncatedChain(t *testing.T) {
	ctx := context.Background()
	d := newChainDriver(4, 2)
	f := NewAt(d, d.load(testData(8)), 20, ReadOnly)

	got, err := io.ReadAll(f.Reader(ctx))
	require.ErrorIs(t, err, ErrTruncatedChain)
	assert.Equal(t, testData(8), got)
}

// ============================================================================
// Construction
// ============================================================================

func TestFileNewAtWithoutStorage(t *testing.T) {
	ctx := context.Background()
	f := NewAt(&brokenDriver{}, 1, 20, ReadOnly)

	assert.True(t, f.Flags().Has(FlagOutOfMemory|FlagEndOfFile))
	b, err := f.ReadByte(ctx)
	require.NoError(t, err)
	assert.Equal(t, byte(0), b)
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "None", Flags(0).String())
	assert.Equal(t, "EndOfFile|NotExists", (FlagEndOfFile | FlagNotExists).String())
	assert.Equal(t, "Writable|BufferDirty", (FlagWritable | FlagBufferDirty).String())
}
