// Package file implements buffered sequential and random access over files
// stored as chunk chains.
//
// A file's content lives in fixed-size blocks grouped into chunks. Chunks are
// linked into a chain by the block driver, and a catalog maps paths to the
// head of a chain plus a byte size. This package layers a single-buffer
// cursor on top:
//
//	catalog.Resolver ──resolve──▶ (start node, size)
//	                                   │
//	file.File ──ReadBlock/WriteBlock──▶ block.Driver
//
// Each File owns exactly one block-sized buffer. Sequential reads consume the
// buffer and fault in the next block when it runs out; Seek repositions
// within the buffered block for free and walks the chain from the nearest
// known point otherwise. Writes modify the buffered block in place and are
// written back before the buffer moves on, so a file never holds more than
// one block of unflushed data.
//
// Writes cannot grow a file: content must fit the chain the file was opened
// with, and a write at or past the size fails with ErrInvalidOffset. Chains
// are built and extended through block.WriteChain instead.
//
// A File is not safe for concurrent use. The cursor, the buffer, and the
// status flags are one mutable unit; callers that share a File across
// goroutines must serialize access.
package file

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/chainfs/pkg/store/block"
	"github.com/marmos91/chainfs/pkg/store/catalog"
)

// Mode selects the access mode of an opened file.
type Mode uint8

const (
	// ReadOnly opens a file for reading. Writes fail with ErrReadOnly.
	ReadOnly Mode = iota

	// ReadWrite additionally allows in-place writes within the file's
	// existing size.
	ReadWrite
)

// File is a buffered cursor over one chunk chain.
//
// The zero value is not usable; construct with New or NewAt, or call Open on
// a File made by New. A File can be reused: opening another path on the same
// File flushes pending writes and rebinds the cursor, and the block buffer
// is recycled across opens.
//
// Position tracking is split in two. positionInFile is the byte offset of
// the buffered block's first byte, and positionInBuffer is the offset inside
// the buffer, so the absolute position is their sum. positionInBuffer may
// rest at blockSize between blocks, meaning the buffer is fully consumed and
// the next access faults in the following block. Whenever bound is true the
// buffer holds the block starting at positionInFile, even in that resting
// state, which is what lets Seek within the current block skip all I/O.
type File struct {
	driver block.Driver

	// first is the head of the chunk chain; current is the chunk holding
	// the buffered block. bound is false until a block has been loaded (or
	// is pending load after a rebind).
	first   block.Node
	current block.Node
	bound   bool

	blockInChunk     uint32
	blockSize        uint32
	positionInBuffer uint32
	positionInFile   int64
	size             int64

	buf   []byte
	flags Flags
	name  string
}

// New returns an unbound File on top of driver. The file reports NotExists
// and EndOfFile until a successful Open points it at a chain.
func New(driver block.Driver) *File {
	return &File{
		driver: driver,
		flags:  FlagNotExists | FlagEndOfFile,
	}
}

// NewAt returns a File bound directly to a chain head, bypassing path
// resolution. Callers that already hold a catalog entry use this to avoid a
// second resolve.
//
// Allocation failure is reported through the OutOfMemory flag rather than an
// error; the returned File is always non-nil.
func NewAt(driver block.Driver, start block.Node, size int64, mode Mode) *File {
	f := New(driver)
	if !f.allocate() {
		return f
	}
	f.rebind(start, size, mode)
	return f
}

// Open resolves path through resolver and binds the file to the resulting
// chain.
//
// Any dirty buffer from a previously opened file is flushed first, so a File
// can be moved between files without losing writes. A failed Open leaves the
// file unbound with nothing to read: when the resolver reported the path
// missing the NotExists flag is raised and the error matches ErrNotExists,
// while other resolver failures raise only EndOfFile, since they say nothing
// about whether the path exists. If the driver cannot provide block storage
// the OutOfMemory flag is raised and the resolver is never consulted.
//
// A successful Open resets all flags, records path as the file's name, and
// leaves the cursor at offset zero with no block loaded; the first read or
// seek faults in block zero.
func (f *File) Open(ctx context.Context, resolver catalog.Resolver, path string, mode Mode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !f.allocate() {
		return fmt.Errorf("open %s: %w", path, ErrOutOfMemory)
	}

	if err := f.Flush(ctx); err != nil {
		return fmt.Errorf("open %s: flush previous file: %w", path, err)
	}

	entry, err := resolver.Resolve(ctx, path)
	if err != nil {
		f.rebind(block.EndOfChain, 0, ReadOnly)
		f.name = ""
		if errors.Is(err, catalog.ErrNotFound) {
			f.flags = FlagNotExists | FlagEndOfFile
			return fmt.Errorf("open %s: %w", path, ErrNotExists)
		}
		f.flags = FlagEndOfFile
		return fmt.Errorf("open %s: %w", path, err)
	}

	f.rebind(entry.Start, entry.Size, mode)
	f.name = path
	return nil
}

// allocate makes sure the block buffer exists. It reports false and records
// the failure in the flags when the driver offers no block size to size the
// buffer by.
func (f *File) allocate() bool {
	if f.buf != nil {
		return true
	}
	bs := f.driver.BlockSize()
	if bs == 0 {
		f.flags = FlagOutOfMemory | FlagEndOfFile
		return false
	}
	f.blockSize = bs
	f.buf = make([]byte, bs)
	return true
}

// rebind points the file at a new chain and arms the cursor so the next
// access loads block zero.
func (f *File) rebind(start block.Node, size int64, mode Mode) {
	f.first = start
	f.current = block.EndOfChain
	f.bound = false
	f.blockInChunk = 0
	f.positionInFile = 0
	f.positionInBuffer = f.blockSize
	f.size = size
	f.flags = 0
	if mode == ReadWrite {
		f.flags = FlagWritable
	}
}

// pos is the absolute byte position of the cursor.
func (f *File) pos() int64 {
	if !f.bound {
		return 0
	}
	return f.positionInFile + int64(f.positionInBuffer)
}

// fill makes the byte at the current position available in the buffer,
// loading the next block or hopping to the next chunk as needed. It reports
// false without an error when the chain ends instead, raising EndOfFile
// where that marks the end of the data.
//
// The cursor is updated only after the new block has been read, so a driver
// failure leaves the file positioned on the block it already had.
func (f *File) fill(ctx context.Context) (bool, error) {
	if f.bound && f.positionInBuffer < f.blockSize {
		return true, nil
	}

	var (
		node  block.Node
		index uint32
		base  int64
	)

	if !f.bound {
		// First access after a rebind: start at block zero of the head
		// chunk. A terminal head means the catalog pointed at no storage.
		if f.driver.IsEndOfChain(f.first) {
			f.flags |= FlagEndOfFile
			return false, nil
		}
		node, index, base = f.first, 0, 0
	} else {
		if f.driver.IsEndOfChain(f.current) {
			return false, nil
		}

		// The buffer is about to be replaced; write back any modifications
		// while the cursor still identifies the block they belong to.
		if err := f.Flush(ctx); err != nil {
			return false, err
		}

		node, index, base = f.current, f.blockInChunk+1, f.positionInFile+int64(f.blockSize)
		if index >= f.driver.BlocksPerNode(node) {
			next, err := f.driver.NextChunk(ctx, node)
			if err != nil {
				return false, err
			}
			if f.driver.IsEndOfChain(next) {
				f.flags |= FlagEndOfFile
				return false, nil
			}
			f.flags &^= FlagEndOfFile
			node, index = next, 0
		}
	}

	if err := f.driver.ReadBlock(ctx, node, index, f.buf); err != nil {
		return false, err
	}

	f.bound = true
	f.current = node
	f.blockInChunk = index
	f.positionInFile = base
	f.positionInBuffer = 0
	return true, nil
}

// ReadByte returns the byte at the current position and advances the cursor
// by one.
//
// At or past the end of the data it returns 0 with a nil error and raises
// the EndOfFile flag; reading the last byte also raises the flag, so a loop
// can test EndOfFile after each read instead of probing one byte too far.
// On a file with no buffer (never opened, failed open, or closed) it
// returns 0 without touching the driver. Errors are reserved for driver
// failures; refills observe ctx through the driver.
func (f *File) ReadByte(ctx context.Context) (byte, error) {
	if f.buf == nil {
		return 0, nil
	}
	if f.pos() >= f.size {
		f.flags |= FlagEndOfFile
		return 0, nil
	}

	ok, err := f.fill(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	b := f.buf[f.positionInBuffer]
	f.positionInBuffer++
	if f.pos() >= f.size {
		f.flags |= FlagEndOfFile
	}
	return b, nil
}

// Read copies up to len(p) bytes from the current position into p and
// advances the cursor past what was copied. It returns the number of bytes
// read.
//
// Reads stop at the file size without error: a short count with a nil error
// and the EndOfFile flag raised means the data ran out. A short count can
// also mean the chunk chain ended before the declared size; the flag is
// raised the same way and the missing bytes are simply not returned. Errors
// are reserved for driver failures, with the count reflecting the bytes
// copied before the failure.
func (f *File) Read(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.buf == nil || len(p) == 0 {
		return 0, nil
	}

	available := f.size - f.pos()
	if available <= 0 {
		f.flags |= FlagEndOfFile
		return 0, nil
	}
	toRead := int64(len(p))
	if toRead > available {
		toRead = available
	}

	n := 0

	// Drain what the buffer already holds before touching the driver.
	if f.bound && f.positionInBuffer < f.blockSize {
		c := int64(f.blockSize - f.positionInBuffer)
		if c > toRead {
			c = toRead
		}
		copy(p[:c], f.buf[f.positionInBuffer:int64(f.positionInBuffer)+c])
		f.positionInBuffer += uint32(c)
		n = int(c)
	}

	for int64(n) < toRead {
		ok, err := f.fill(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			break
		}
		c := toRead - int64(n)
		if c > int64(f.blockSize) {
			c = int64(f.blockSize)
		}
		copy(p[n:int64(n)+c], f.buf[:c])
		f.positionInBuffer = uint32(c)
		n += int(c)
	}

	if f.pos() >= f.size {
		f.flags |= FlagEndOfFile
	}
	return n, nil
}

// Seek moves the cursor to the absolute byte offset and clears the
// EndOfFile flag on success.
//
// Offsets within the buffered block reposition without any I/O. Other
// offsets flush pending writes and walk the chain: forward from the current
// chunk, or from the chain head when seeking backward. The walk only follows
// successor links, so seeking far forward in a long chain costs one
// NextChunk call per chunk skipped.
//
// Valid offsets are 0 through size-1. Seeking to 0 on an empty file is
// allowed as a trivial rewind; every other offset outside the data fails
// with ErrInvalidSeek and leaves the cursor where it was.
func (f *File) Seek(ctx context.Context, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.buf == nil {
		return ErrNotOpen
	}
	if offset < 0 || offset >= f.size {
		if !(offset == 0 && f.size == 0) {
			return fmt.Errorf("seek to %d in file of size %d: %w", offset, f.size, ErrInvalidSeek)
		}
	}
	if f.size == 0 {
		f.flags &^= FlagEndOfFile
		return nil
	}

	if f.bound && offset >= f.positionInFile && offset < f.positionInFile+int64(f.blockSize) {
		f.positionInBuffer = uint32(offset - f.positionInFile)
		f.flags &^= FlagEndOfFile
		return nil
	}

	if err := f.Flush(ctx); err != nil {
		return err
	}

	node, index, base := f.current, f.blockInChunk, f.positionInFile
	if !f.bound || offset < f.positionInFile {
		if f.driver.IsEndOfChain(f.first) {
			return fmt.Errorf("seek to %d: %w", offset, ErrTruncatedChain)
		}
		node, index, base = f.first, 0, 0
	}

	for offset >= base+int64(f.blockSize) {
		index++
		if index >= f.driver.BlocksPerNode(node) {
			next, err := f.driver.NextChunk(ctx, node)
			if err != nil {
				return fmt.Errorf("seek to %d: %w", offset, err)
			}
			if f.driver.IsEndOfChain(next) {
				return fmt.Errorf("seek to %d: %w", offset, ErrTruncatedChain)
			}
			node, index = next, 0
		}
		base += int64(f.blockSize)
	}

	if err := f.driver.ReadBlock(ctx, node, index, f.buf); err != nil {
		return fmt.Errorf("seek to %d: %w", offset, err)
	}

	f.bound = true
	f.current = node
	f.blockInChunk = index
	f.positionInFile = base
	f.positionInBuffer = uint32(offset - base)
	f.flags &^= FlagEndOfFile
	return nil
}

// WriteByte stores b at the current position and advances the cursor by
// one. The byte lands in the block buffer; it reaches the driver when the
// buffer moves on or Flush runs.
//
// Writing requires the file to be open in ReadWrite mode and the position
// to be inside the existing data. Writes at or past the size fail with
// ErrInvalidOffset, since files cannot grow in place.
func (f *File) WriteByte(ctx context.Context, b byte) error {
	if f.buf == nil {
		return ErrNotOpen
	}
	if f.flags&FlagWritable == 0 {
		return ErrReadOnly
	}
	if f.pos() >= f.size {
		f.flags |= FlagEndOfFile
		return fmt.Errorf("write at %d in file of size %d: %w", f.pos(), f.size, ErrInvalidOffset)
	}

	ok, err := f.fill(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("write at %d: %w", f.pos(), ErrTruncatedChain)
	}

	f.buf[f.positionInBuffer] = b
	f.positionInBuffer++
	f.flags |= FlagBufferDirty
	if f.pos() >= f.size {
		f.flags |= FlagEndOfFile
	}
	return nil
}

// Write stores p at the current position, advancing the cursor past it. It
// returns the number of bytes written.
//
// Writes are buffered a block at a time: crossing a block boundary writes
// the finished block back before the next one is loaded. A write that would
// run past the file size stores the bytes that fit and fails with
// ErrInvalidOffset, returning the partial count.
func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.buf == nil {
		return 0, ErrNotOpen
	}
	if f.flags&FlagWritable == 0 {
		return 0, ErrReadOnly
	}

	n := 0
	for n < len(p) {
		if f.pos() >= f.size {
			f.flags |= FlagEndOfFile
			return n, fmt.Errorf("write at %d in file of size %d: %w", f.pos(), f.size, ErrInvalidOffset)
		}

		ok, err := f.fill(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, fmt.Errorf("write at %d: %w", f.pos(), ErrTruncatedChain)
		}

		c := int64(len(p) - n)
		if room := int64(f.blockSize - f.positionInBuffer); c > room {
			c = room
		}
		if remain := f.size - f.pos(); c > remain {
			c = remain
		}
		copy(f.buf[f.positionInBuffer:int64(f.positionInBuffer)+c], p[n:int64(n)+c])
		f.positionInBuffer += uint32(c)
		f.flags |= FlagBufferDirty
		n += int(c)
	}

	if f.pos() >= f.size {
		f.flags |= FlagEndOfFile
	}
	return n, nil
}

// Flush writes the buffered block back to the driver if it holds unwritten
// modifications. It is a no-op on clean, read-only, or unbound files, so it
// is always safe to call.
func (f *File) Flush(ctx context.Context) error {
	if f.buf == nil || !f.bound {
		return nil
	}
	if !f.flags.Has(FlagBufferDirty) || !f.flags.Has(FlagWritable) {
		return nil
	}

	if err := f.driver.WriteBlock(ctx, f.current, f.blockInChunk, f.buf); err != nil {
		return fmt.Errorf("flush block %d of chunk %d: %w", f.blockInChunk, f.current, err)
	}
	f.flags &^= FlagBufferDirty
	return nil
}

// Close flushes pending writes and releases the block buffer. The file
// drops to a zero-capability state: reads return nothing, seeks and writes
// fail with ErrNotOpen, and EndOfFile reads true. A closed File can be
// reused with Open, which allocates a fresh buffer.
//
// Close is idempotent; closing a closed or never-opened file is a no-op.
func (f *File) Close(ctx context.Context) error {
	if f.buf == nil {
		return nil
	}
	err := f.Flush(ctx)

	f.buf = nil
	f.bound = false
	f.flags |= FlagEndOfFile
	return err
}

// EndOfFile reports whether the cursor has reached the end of the readable
// data.
func (f *File) EndOfFile() bool {
	return f.flags.Has(FlagEndOfFile)
}

// Flags returns the file's current status flags.
func (f *File) Flags() Flags {
	return f.flags
}

// Position returns the absolute byte offset of the cursor.
func (f *File) Position() int64 {
	return f.pos()
}

// Size returns the byte size the file was opened with.
func (f *File) Size() int64 {
	return f.size
}

// Name returns the path the file was opened with, or "" for files bound
// with NewAt.
func (f *File) Name() string {
	return f.name
}
