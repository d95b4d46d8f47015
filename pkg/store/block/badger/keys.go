package badger

import (
	"fmt"
	"strconv"

	"github.com/marmos91/chainfs/pkg/store/block"
)

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so the driver organizes its records under
// prefixed keys. Node and index components are fixed-width hex, which keeps
// keys sorting numerically and prefix scans tight.
//
// Data Type     Prefix   Key Format            Value Type
// ========================================================================
// Block Data    "b:"     b:<node>:<index>      raw block bytes (BlockSize)
// Chunk Links   "n:"     n:<node>              successor node (8-byte BE)
// Geometry      "g:"     g:volume              volume geometry (XDR)
// Node Counter  "q:"     q:chunk               badger.Sequence state
//
// Key Design Rationale:
//
// 1. Block Data (b:)
//    - One entry per written block. Never-written blocks have no entry and
//      read back as zeros.
//    - Fixed-width addressing keeps all blocks of a chunk in one key range,
//      so freeing a chunk drops its payloads with a single prefix scan.
//    - Example: b:000000000000002a:00000003
//
// 2. Chunk Links (n:)
//    - One entry per allocated chunk, written at allocation time. Presence
//      of this key is what makes a node known; freeing deletes it.
//    - The value holds the successor node, with the terminal sentinel
//      encoding naturally as eight 0xFF bytes.
//    - Example: n:000000000000002a
//
// 3. Geometry (g:)
//    - Singleton written when the volume is first formatted and checked on
//      every reopen, so a volume cannot silently change shape.
//
// 4. Node Counter (q:)
//    - Owned by badger.Sequence; the driver never reads it directly.

const (
	// prefixBlock is the key prefix for block payloads.
	prefixBlock = "b:"

	// prefixLink is the key prefix for chunk successor pointers.
	prefixLink = "n:"

	// keyGeometrySingleton is the singleton key for the volume geometry.
	keyGeometrySingleton = "g:volume"

	// keySequenceCounter is the key badger.Sequence leases node numbers
	// from.
	keySequenceCounter = "q:chunk"
)

// keyBlock generates the key for one block payload.
//
// Format: "b:<node>:<index>"
func keyBlock(node block.Node, index uint32) []byte {
	return []byte(fmt.Sprintf("%s%016x:%08x", prefixBlock, uint64(node), index))
}

// keyBlockPrefix generates the prefix covering every block payload of one
// chunk.
func keyBlockPrefix(node block.Node) []byte {
	return []byte(fmt.Sprintf("%s%016x:", prefixBlock, uint64(node)))
}

// keyLink generates the key for a chunk's successor pointer.
//
// Format: "n:<node>"
func keyLink(node block.Node) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixLink, uint64(node)))
}

// nodeFromLinkKey recovers the node number from a key produced by keyLink.
func nodeFromLinkKey(key []byte) (block.Node, error) {
	if len(key) != len(prefixLink)+16 {
		return block.EndOfChain, fmt.Errorf("malformed link key %q", key)
	}
	id, err := strconv.ParseUint(string(key[len(prefixLink):]), 16, 64)
	if err != nil {
		return block.EndOfChain, fmt.Errorf("malformed link key %q: %w", key, err)
	}
	return block.Node(id), nil
}
