package block

import "errors"

// ============================================================================
// Standard Block Driver Errors
// ============================================================================

// These errors give every driver a consistent failure vocabulary. Callers
// match them with errors.Is after drivers translate backend-specific failures
// (badger.ErrKeyNotFound, S3 NoSuchKey) into the appropriate sentinel.
//
// Error Wrapping:
// Implementations wrap sentinels with addressing context:
//
//	return fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)

var (
	// ErrNodeNotFound indicates the addressed chunk does not exist.
	//
	// This error is returned when:
	//   - ReadBlock/WriteBlock addresses a node the driver never issued
	//   - NextChunk is asked for the successor of an unknown node
	//   - LinkChunk references a freed or foreign node
	ErrNodeNotFound = errors.New("chunk not found")

	// ErrBlockOutOfRange indicates a chunk-relative block index is invalid.
	//
	// This error is returned when:
	//   - index >= BlocksPerNode(node) on a read or write
	ErrBlockOutOfRange = errors.New("block index out of range")

	// ErrBufferSize indicates the caller's buffer does not match BlockSize.
	//
	// Block transfers are whole-block only; drivers refuse to guess how a
	// short or long buffer should map onto a block.
	ErrBufferSize = errors.New("buffer length does not match block size")

	// ErrStorageFull indicates the backend cannot issue another chunk.
	//
	// This error is returned when:
	//   - AllocateChunk on a full image volume
	//   - The backend reports an out-of-space condition
	ErrStorageFull = errors.New("storage full")

	// ErrReadOnly indicates the driver does not accept writes.
	//
	// This error is returned when:
	//   - WriteBlock, AllocateChunk, LinkChunk or FreeChain on a driver
	//     opened in read-only mode
	ErrReadOnly = errors.New("driver is read-only")

	// ErrDriverClosed indicates the driver was closed.
	//
	// Any operation after Close returns this error. It is permanent for the
	// driver instance; construct a new driver to continue.
	ErrDriverClosed = errors.New("driver is closed")

	// ErrNotSupported indicates an optional capability is missing.
	//
	// Returned by helpers (and the CLI) when a driver does not implement
	// Allocator or Syncer. This is a permanent error for the backend type.
	ErrNotSupported = errors.New("operation not supported by driver")

	// ErrChainCycle indicates a chain's successor links loop back on
	// themselves.
	//
	// This only happens with corrupted chain topology (a damaged image
	// table, a manually edited store) and always means the volume needs
	// repair.
	ErrChainCycle = errors.New("chain contains a cycle")
)
