package file

import "strings"

// Flags is the sticky status bit set of a File.
//
// Flags accumulate as operations run and are replaced wholesale by the next
// successful Open. EndOfFile is the only flag that routinely toggles during
// normal use (reads set it at the end of the data, Seek clears it); the
// failure flags stay up until reopen so callers can inspect what went wrong
// after the fact instead of handling an error at every byte.
type Flags uint8

const (
	// FlagEndOfFile is set when the read position has reached the file size,
	// when the chunk chain ends before the declared size (truncated or
	// corrupt chain), or when the block buffer could not be allocated. It is
	// a boundary signal, not an error.
	FlagEndOfFile Flags = 1 << iota

	// FlagNotExists is set when path resolution failed at open, and on a
	// freshly constructed unbound file.
	FlagNotExists

	// FlagOutOfMemory is set when the block buffer could not be allocated
	// because the driver reported no usable block size. The file stays in a
	// zero-capability state until a successful reopen.
	FlagOutOfMemory

	// FlagWritable marks a file opened for writing.
	FlagWritable

	// FlagBufferDirty marks unwritten modifications in the block buffer.
	// Cleared by Flush.
	FlagBufferDirty
)

// Has reports whether all bits of mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

func (f Flags) String() string {
	if f == 0 {
		return "None"
	}

	names := []struct {
		bit  Flags
		name string
	}{
		{FlagEndOfFile, "EndOfFile"},
		{FlagNotExists, "NotExists"},
		{FlagOutOfMemory, "OutOfMemory"},
		{FlagWritable, "Writable"},
		{FlagBufferDirty, "BufferDirty"},
	}

	var parts []string
	for _, n := range names {
		if f&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
