// Package image implements a block driver backed by a single volume image
// file.
//
// An image packs a whole volume (superblock, chunk successor table, chunk
// data) into one ordinary file, so a volume can be copied, backed up, or
// shipped around as a unit. Capacity is fixed when the image is formatted:
// allocation hands out chunks from the formatted pool and fails with
// ErrStorageFull when the pool runs dry.
//
// Durability:
// Block writes go straight to the file, but the successor table is kept in
// memory and only written back by Sync (and Close). Callers that build or
// relink chains should sync before relying on the new topology surviving a
// crash; a torn table write is caught at the next Open by the table
// checksum.
package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/marmos91/chainfs/pkg/store/block"
)

// Config holds the settings to open an existing image volume.
type Config struct {
	// Path is the image file's location.
	Path string `mapstructure:"path"`

	// ReadOnly opens the image without write access; writes and allocation
	// fail with block.ErrReadOnly.
	ReadOnly bool `mapstructure:"read_only"`
}

// Driver is a block driver over one image file.
//
// All methods are safe for concurrent use. The successor table is guarded
// by a mutex; block data moves through ReadAt/WriteAt outside it, so block
// I/O on different files proceeds in parallel.
type Driver struct {
	mu       sync.RWMutex
	f        *os.File
	path     string
	readOnly bool
	closed   bool
	dirty    bool

	geo      Geometry
	table    []uint32
	freeHint uint32
}

// Compile-time interface checks.
var (
	_ block.Driver     = (*Driver)(nil)
	_ block.Allocator  = (*Driver)(nil)
	_ block.Syncer     = (*Driver)(nil)
	_ block.Enumerator = (*Driver)(nil)
)

// Create formats a new image file at path and returns the open driver.
//
// The file must not exist. Zero geometry fields get the package defaults,
// and the file is extended to its full formatted size up front (sparsely
// where the filesystem allows), so every block reads as zeros from the
// start.
func Create(ctx context.Context, path string, geo Geometry) (*Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	geo = geo.withDefaults()
	if err := geo.validate(); err != nil {
		return nil, fmt.Errorf("create image %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create image %s: %w", path, err)
	}

	fail := func(err error) (*Driver, error) {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("format image %s: %w", path, err)
	}

	d := &Driver{
		f:     f,
		path:  path,
		geo:   geo,
		table: make([]uint32, geo.ChunkCount),
	}
	for i := range d.table {
		d.table[i] = freeMarker
	}

	if err := d.writeTableAndHeader(); err != nil {
		return fail(err)
	}
	if err := f.Truncate(geo.totalSize()); err != nil {
		return fail(fmt.Errorf("size image: %w", err))
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	return d, nil
}

// Open opens an existing image volume, verifying the superblock and the
// chunk table checksum before handing out the driver.
func Open(ctx context.Context, cfg Config) (*Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	flags := os.O_RDWR
	if cfg.ReadOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(cfg.Path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", cfg.Path, err)
	}

	fail := func(err error) (*Driver, error) {
		f.Close()
		return nil, fmt.Errorf("open image %s: %w", cfg.Path, err)
	}

	header := make([]byte, headerSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return fail(fmt.Errorf("file too small for a superblock: %w", ErrImageCorrupt))
		}
		return fail(fmt.Errorf("read superblock: %w", err))
	}

	sb, err := decodeHeader(header)
	if err != nil {
		return fail(fmt.Errorf("%v: %w", err, ErrImageCorrupt))
	}
	if sb.Magic != magic {
		return fail(fmt.Errorf("bad magic %#08x: %w", sb.Magic, ErrImageCorrupt))
	}
	if sb.Version != version {
		return fail(fmt.Errorf("version %d: %w", sb.Version, ErrImageVersion))
	}
	if sb.BlockSize == 0 || sb.BlocksPerChunk == 0 || sb.ChunkCount == 0 || sb.ChunkCount > MaxChunks {
		return fail(fmt.Errorf("impossible geometry %d/%d/%d: %w",
			sb.BlockSize, sb.BlocksPerChunk, sb.ChunkCount, ErrImageCorrupt))
	}

	geo := Geometry{
		BlockSize:      sb.BlockSize,
		BlocksPerChunk: sb.BlocksPerChunk,
		ChunkCount:     sb.ChunkCount,
	}

	fi, err := f.Stat()
	if err != nil {
		return fail(err)
	}
	if fi.Size() < geo.totalSize() {
		return fail(fmt.Errorf("file is %d bytes, geometry needs %d: %w", fi.Size(), geo.totalSize(), ErrImageCorrupt))
	}

	rawTable := make([]byte, 4*int64(geo.ChunkCount))
	if _, err := f.ReadAt(rawTable, tableOffset()); err != nil {
		return fail(fmt.Errorf("read chunk table: %w", err))
	}
	if tableChecksum(rawTable) != sb.TableChecksum {
		return fail(fmt.Errorf("chunk table checksum mismatch: %w", ErrImageCorrupt))
	}

	return &Driver{
		f:        f,
		path:     cfg.Path,
		readOnly: cfg.ReadOnly,
		geo:      geo,
		table:    decodeTable(rawTable),
	}, nil
}

// writeTableAndHeader persists the in-memory table and a superblock whose
// checksum matches it. The table goes first; a crash in between leaves a
// checksum mismatch for the next Open to catch.
func (d *Driver) writeTableAndHeader() error {
	encoded := encodeTable(d.table)
	if _, err := d.f.WriteAt(encoded, tableOffset()); err != nil {
		return fmt.Errorf("write chunk table: %w", err)
	}

	header, err := encodeHeader(superblock{
		Magic:          magic,
		Version:        version,
		BlockSize:      d.geo.BlockSize,
		BlocksPerChunk: d.geo.BlocksPerChunk,
		ChunkCount:     d.geo.ChunkCount,
		TableChecksum:  tableChecksum(encoded),
	})
	if err != nil {
		return err
	}
	if _, err := d.f.WriteAt(header, 0); err != nil {
		return fmt.Errorf("write superblock: %w", err)
	}

	d.dirty = false
	return nil
}

// Path returns the image file's location.
func (d *Driver) Path() string {
	return d.path
}

// BlockSize returns the formatted block size, or 0 once the driver is
// closed.
func (d *Driver) BlockSize() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0
	}
	return d.geo.BlockSize
}

// BlocksPerNode returns the formatted chunk size. Every chunk of an image
// has the same shape.
func (d *Driver) BlocksPerNode(block.Node) uint32 {
	return d.geo.BlocksPerChunk
}

// IsEndOfChain reports whether node is the chain terminator.
func (d *Driver) IsEndOfChain(node block.Node) bool {
	return node == block.EndOfChain
}

// blockOffset is the file offset of one block. Callers have validated the
// address.
func (d *Driver) blockOffset(node block.Node, index uint32) int64 {
	return dataOffset(d.geo.ChunkCount) + int64(node)*d.geo.chunkBytes() + int64(index)*int64(d.geo.BlockSize)
}

// checkAddress validates a (node, index) pair against the table. Callers
// hold at least the read lock.
func (d *Driver) checkAddress(node block.Node, index uint32) error {
	if d.closed {
		return block.ErrDriverClosed
	}
	if node >= block.Node(d.geo.ChunkCount) || d.table[node] == freeMarker {
		return fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)
	}
	if index >= d.geo.BlocksPerChunk {
		return fmt.Errorf("block %d of chunk %d (chunk holds %d): %w", index, node, d.geo.BlocksPerChunk, block.ErrBlockOutOfRange)
	}
	return nil
}

// ReadBlock copies the requested block into p.
func (d *Driver) ReadBlock(ctx context.Context, node block.Node, index uint32, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.RLock()
	if uint32(len(p)) != d.geo.BlockSize {
		d.mu.RUnlock()
		return fmt.Errorf("buffer is %d bytes, block is %d: %w", len(p), d.geo.BlockSize, block.ErrBufferSize)
	}
	if err := d.checkAddress(node, index); err != nil {
		d.mu.RUnlock()
		return err
	}
	off := d.blockOffset(node, index)
	d.mu.RUnlock()

	if _, err := d.f.ReadAt(p, off); err != nil {
		return fmt.Errorf("read block %d of chunk %d: %w", index, node, err)
	}
	return nil
}

// WriteBlock persists p as the contents of one block.
func (d *Driver) WriteBlock(ctx context.Context, node block.Node, index uint32, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.RLock()
	if d.readOnly {
		d.mu.RUnlock()
		return fmt.Errorf("image %s: %w", d.path, block.ErrReadOnly)
	}
	if uint32(len(p)) != d.geo.BlockSize {
		d.mu.RUnlock()
		return fmt.Errorf("buffer is %d bytes, block is %d: %w", len(p), d.geo.BlockSize, block.ErrBufferSize)
	}
	if err := d.checkAddress(node, index); err != nil {
		d.mu.RUnlock()
		return err
	}
	off := d.blockOffset(node, index)
	d.mu.RUnlock()

	if _, err := d.f.WriteAt(p, off); err != nil {
		return fmt.Errorf("write block %d of chunk %d: %w", index, node, err)
	}
	return nil
}

// NextChunk returns the successor of node in its chain.
func (d *Driver) NextChunk(ctx context.Context, node block.Node) (block.Node, error) {
	if err := ctx.Err(); err != nil {
		return block.EndOfChain, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return block.EndOfChain, block.ErrDriverClosed
	}
	if d.IsEndOfChain(node) {
		return block.EndOfChain, nil
	}
	if node >= block.Node(d.geo.ChunkCount) || d.table[node] == freeMarker {
		return block.EndOfChain, fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)
	}

	entry := d.table[node]
	if entry == endMarker {
		return block.EndOfChain, nil
	}
	return block.Node(entry), nil
}

// AllocateChunk claims a free chunk, zeroes its data region, and returns
// its node.
func (d *Driver) AllocateChunk(ctx context.Context) (block.Node, error) {
	if err := ctx.Err(); err != nil {
		return block.EndOfChain, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return block.EndOfChain, block.ErrDriverClosed
	}
	if d.readOnly {
		return block.EndOfChain, fmt.Errorf("image %s: %w", d.path, block.ErrReadOnly)
	}

	count := d.geo.ChunkCount
	for i := uint32(0); i < count; i++ {
		idx := (d.freeHint + i) % count
		if d.table[idx] != freeMarker {
			continue
		}

		// A freed chunk keeps its old bytes on disk, and fresh chunks must
		// read as zeros.
		zero := make([]byte, d.geo.chunkBytes())
		if _, err := d.f.WriteAt(zero, d.blockOffset(block.Node(idx), 0)); err != nil {
			return block.EndOfChain, fmt.Errorf("zero chunk %d: %w", idx, err)
		}

		d.table[idx] = endMarker
		d.freeHint = idx + 1
		d.dirty = true
		return block.Node(idx), nil
	}

	return block.EndOfChain, fmt.Errorf("all %d chunks allocated: %w", count, block.ErrStorageFull)
}

// LinkChunk sets next as the successor of node.
func (d *Driver) LinkChunk(ctx context.Context, node, next block.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return block.ErrDriverClosed
	}
	if d.readOnly {
		return fmt.Errorf("image %s: %w", d.path, block.ErrReadOnly)
	}
	if node >= block.Node(d.geo.ChunkCount) || d.table[node] == freeMarker {
		return fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)
	}

	if d.IsEndOfChain(next) {
		d.table[node] = endMarker
	} else {
		if next >= block.Node(d.geo.ChunkCount) || d.table[next] == freeMarker {
			return fmt.Errorf("successor chunk %d: %w", next, block.ErrNodeNotFound)
		}
		d.table[node] = uint32(next)
	}
	d.dirty = true
	return nil
}

// FreeChain releases every chunk reachable from start. Freed chunks return
// to the allocation pool; the walk stops quietly at already-freed or
// out-of-range chunks so retries are safe.
func (d *Driver) FreeChain(ctx context.Context, start block.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return block.ErrDriverClosed
	}
	if d.readOnly {
		return fmt.Errorf("image %s: %w", d.path, block.ErrReadOnly)
	}

	node := start
	for !d.IsEndOfChain(node) {
		if node >= block.Node(d.geo.ChunkCount) {
			break
		}
		entry := d.table[node]
		if entry == freeMarker {
			break
		}

		d.table[node] = freeMarker
		d.dirty = true
		if uint32(node) < d.freeHint {
			d.freeHint = uint32(node)
		}

		if entry == endMarker {
			break
		}
		node = block.Node(entry)
	}
	return nil
}

// Chunks returns the nodes of every allocated chunk, read straight off the
// in-memory successor table.
func (d *Driver) Chunks(ctx context.Context) ([]block.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, block.ErrDriverClosed
	}

	var nodes []block.Node
	for idx, entry := range d.table {
		if entry != freeMarker {
			nodes = append(nodes, block.Node(idx))
		}
	}
	return nodes, nil
}

// Sync writes the successor table back to the image and flushes the file.
func (d *Driver) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return block.ErrDriverClosed
	}
	if d.readOnly {
		// Nothing can be dirty without write access.
		return nil
	}
	if d.dirty {
		if err := d.writeTableAndHeader(); err != nil {
			return fmt.Errorf("sync image %s: %w", d.path, err)
		}
	}
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("sync image %s: %w", d.path, err)
	}
	return nil
}

// Close flushes the table if needed and closes the image file.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	if d.dirty && !d.readOnly {
		if err := d.writeTableAndHeader(); err != nil {
			errs = append(errs, err)
		}
	}
	if !d.readOnly {
		if err := d.f.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.f.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close image %s: %w", d.path, errors.Join(errs...))
	}
	return nil
}
