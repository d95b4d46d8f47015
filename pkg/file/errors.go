package file

import "errors"

// ============================================================================
// File Errors
// ============================================================================
// Sentinel errors returned by file operations. Wrapped errors carry the
// position and path context, so always match with errors.Is:
//
//	if errors.Is(err, file.ErrNotExists) {
//	    // handle missing file
//	}
//
// Reaching the end of the data is deliberately NOT an error. Reads past the
// end return zero bytes and raise the EndOfFile flag instead, so a loop can
// drain a file without treating the boundary as a failure. Errors are
// reserved for conditions the caller must act on.

var (
	// ErrNotExists indicates that path resolution found no entry for the
	// requested path.
	//
	// This error is returned when:
	// - Open is called with a path the resolver does not know
	// - The entry was removed between directory listing and open
	ErrNotExists = errors.New("file does not exist")

	// ErrOutOfMemory indicates that the block buffer could not be set up
	// because the driver reported no usable block size.
	//
	// This error is returned when:
	// - Open runs against a driver whose BlockSize() is zero
	// - The driver has been closed and no longer offers storage
	ErrOutOfMemory = errors.New("block buffer unavailable")

	// ErrNotOpen indicates an operation on a file with no block buffer.
	//
	// This error is returned when:
	// - Seek or Write is called before a successful Open
	// - Seek or Write is called after Close
	ErrNotOpen = errors.New("file not open")

	// ErrReadOnly indicates a write to a file opened without write mode.
	ErrReadOnly = errors.New("file opened read-only")

	// ErrInvalidSeek indicates a seek target outside the file's data.
	//
	// This error is returned when:
	// - The offset is negative
	// - The offset is at or beyond the file size
	ErrInvalidSeek = errors.New("seek offset out of range")

	// ErrInvalidOffset indicates a write at or beyond the file size. Files
	// never grow through writes; content must fit the existing chain.
	ErrInvalidOffset = errors.New("write offset out of range")

	// ErrTruncatedChain indicates that the chunk chain ended before the
	// byte the operation needed to reach. The catalog claims more data than
	// the chain holds, which points at storage corruption.
	ErrTruncatedChain = errors.New("chunk chain shorter than file size")
)
