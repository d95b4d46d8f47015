// Package block defines the storage abstraction underneath chainfs files.
//
// A chainfs volume stores file data as chains of chunks. A chunk is an opaque
// storage node spanning a fixed run of fixed-size blocks; chunks link forward
// through a driver-maintained successor pointer and every chain ends at the
// terminal sentinel. Drivers translate (node, block index) pairs into whatever
// their backend addresses: a map entry, a BadgerDB key, a region of an image
// file, an S3 object.
package block

import (
	"context"
	"math"
)

// Node identifies a chunk inside a driver's address space.
//
// Nodes are opaque to everything above the driver: the file layer never does
// arithmetic on them and never compares them against anything except through
// IsEndOfChain. Drivers issue node values however they like; the in-tree
// drivers hand out dense indexes starting at zero.
type Node uint64

// EndOfChain is the terminal sentinel shared by the in-tree drivers.
//
// A chunk whose successor is EndOfChain is the last chunk of its chain, and a
// chain whose start is EndOfChain is empty. Exotic drivers may pick a
// different sentinel as long as their IsEndOfChain answers consistently, which
// is why callers must go through the predicate instead of comparing against
// this constant.
const EndOfChain Node = math.MaxUint64

// ============================================================================
// Driver Interface
// ============================================================================

// Driver provides block-granular access to chunk-chained storage.
//
// This is the dependency the file layer consumes. It deliberately knows
// nothing about paths, sizes, or files: a driver hands out blocks and chain
// topology, and everything else (buffering, cursors, EOF accounting) lives
// above it.
//
// Geometry:
// BlockSize is fixed for the lifetime of the driver and is queried once per
// open file. BlocksPerNode is queried per node so a driver could vary chunk
// capacity along a chain; the in-tree drivers keep it constant.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
// Several files may traverse the same driver at once; blocks they touch are
// disjoint unless callers share a chain, in which case callers synchronize.
type Driver interface {
	// BlockSize returns the fixed block size in bytes.
	//
	// A driver that cannot provide block storage (failed initialization,
	// exhausted resources) reports 0, which the file layer records as an
	// allocation failure. Healthy drivers return a stable non-zero value.
	BlockSize() uint32

	// BlocksPerNode returns how many blocks the given chunk spans.
	//
	// The result must be at least 1 for any node the driver has issued.
	BlocksPerNode(node Node) uint32

	// ReadBlock fills p with the contents of one block.
	//
	// The index is chunk-relative in [0, BlocksPerNode(node)). p must be
	// exactly BlockSize bytes; drivers reject other lengths with
	// ErrBufferSize rather than guessing an offset.
	//
	// Returns:
	//   - error: ErrNodeNotFound for unknown nodes, ErrBlockOutOfRange for a
	//     bad index, backend errors otherwise. Never-written blocks of a live
	//     chunk read as zeros.
	ReadBlock(ctx context.Context, node Node, index uint32, p []byte) error

	// WriteBlock persists p as the contents of one block.
	//
	// Same addressing and buffer rules as ReadBlock. Read-only drivers
	// return ErrReadOnly.
	WriteBlock(ctx context.Context, node Node, index uint32, p []byte) error

	// NextChunk returns the chain successor of the given chunk.
	//
	// The terminal sentinel is returned at chain end. Asking for the
	// successor of an unknown node is ErrNodeNotFound; asking for the
	// successor of the sentinel itself returns the sentinel.
	NextChunk(ctx context.Context, node Node) (Node, error)

	// IsEndOfChain reports whether node is the chain-terminating sentinel.
	//
	// Pure predicate, no I/O.
	IsEndOfChain(node Node) bool

	// Close releases backend resources. The driver is unusable afterwards;
	// operations on a closed driver return ErrDriverClosed.
	Close() error
}

// ============================================================================
// Optional Capabilities
// ============================================================================

// Allocator is implemented by drivers that can build new chains.
//
// The file layer never allocates: an open file reads and overwrites blocks of
// an existing chain but never grows it. Chain construction belongs to the
// import tooling, which type-asserts this interface on the volume's driver.
//
// Implementations:
//   - memory: yes
//   - badger: yes
//   - image: yes (bounded by the formatted chunk count)
//   - s3: yes (single-writer; see the driver's documentation)
type Allocator interface {
	Driver

	// AllocateChunk reserves a fresh chunk and returns its node.
	//
	// The new chunk's successor is the terminal sentinel and its blocks read
	// as zeros. ErrStorageFull when the backend has no chunk left to issue.
	AllocateChunk(ctx context.Context) (Node, error)

	// LinkChunk sets next as the successor of node.
	//
	// Both nodes must have been issued by this driver; next may also be the
	// terminal sentinel to cut a chain short.
	LinkChunk(ctx context.Context, node, next Node) error

	// FreeChain releases every chunk reachable from start.
	//
	// Idempotent: freeing an empty chain (start is the sentinel) or a chain
	// whose chunks were already released succeeds. A broken link stops the
	// walk without error so half-freed chains can be retried.
	FreeChain(ctx context.Context, start Node) error
}

// Syncer is implemented by drivers with buffered durability.
//
// The image driver keeps its chunk table in memory between syncs; callers that
// just built or relinked chains should sync before relying on the data
// surviving a crash. Drivers with write-through semantics simply omit this
// interface.
type Syncer interface {
	Driver

	// Sync flushes buffered state to stable storage.
	Sync(ctx context.Context) error
}

// Enumerator is implemented by drivers that can list every live chunk.
//
// Enumeration is what the orphan sweep in pkg/gc builds on: it lists the
// chunks that exist, the sweep walks the catalog to find the chunks that are
// referenced, and the difference is garbage. Drivers whose backend cannot
// enumerate (a remote store with opaque addressing, say) omit the interface
// and opt out of sweeping.
//
// The listing is a point-in-time snapshot, not a consistent cut: chunks
// allocated or freed while Chunks runs may or may not appear. Consumers must
// tolerate both, which FreeChain's idempotency makes cheap.
type Enumerator interface {
	Driver

	// Chunks returns the nodes of every currently allocated chunk, in no
	// particular order.
	Chunks(ctx context.Context) ([]Node, error)
}
