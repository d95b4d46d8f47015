package s3

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marmos91/chainfs/pkg/store/block"
)

// Object Layout
// =============
//
// The driver lays a volume out as one object per block plus one pointer
// object per chunk, so a bucket stays inspectable with any S3 browser and
// several volumes can share a bucket under different key prefixes.
//
// Object                           Contents
// ========================================================================
// <prefix>chunk-<node>/block-<i>   raw block bytes (BlockSize)
// <prefix>chunk-<node>/next        successor node as a decimal string
// <prefix>state/geometry           volume geometry (XDR)
// <prefix>state/next-chunk         next unissued node as a decimal string
//
// Layout Rationale:
//
// 1. Block objects (chunk-<node>/block-<i>)
//    - One object per written block; never-written blocks have no object
//      and read back as zeros.
//    - <node> and <i> are fixed-width hex so objects list in numeric
//      order, and everything belonging to one chunk shares the
//      "chunk-<node>/" prefix for one-scan cleanup.
//
// 2. Pointer objects (chunk-<node>/next)
//    - Written at allocation time; presence of this object is what makes
//      a node known. The terminal sentinel is stored as its decimal value
//      like any other successor.
//
// 3. State objects (state/*)
//    - The geometry singleton pins the volume's shape across opens, and
//      the allocation counter holds the next unissued node number.

// keyBlock is the object key for one block payload.
func (d *Driver) keyBlock(node block.Node, index uint32) string {
	return fmt.Sprintf("%schunk-%016x/block-%08x", d.prefix, uint64(node), index)
}

// keyChunkPrefix covers every object belonging to one chunk.
func (d *Driver) keyChunkPrefix(node block.Node) string {
	return fmt.Sprintf("%schunk-%016x/", d.prefix, uint64(node))
}

// nodeFromChunkPrefix recovers the node number from a chunk's common prefix
// as reported by a delimiter listing.
func (d *Driver) nodeFromChunkPrefix(p string) (block.Node, error) {
	raw := strings.TrimSuffix(strings.TrimPrefix(p, d.prefix+"chunk-"), "/")
	v, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return block.EndOfChain, fmt.Errorf("bad chunk prefix %q: %w", p, err)
	}
	return block.Node(v), nil
}

// keyNext is the object key for a chunk's successor pointer.
func (d *Driver) keyNext(node block.Node) string {
	return fmt.Sprintf("%schunk-%016x/next", d.prefix, uint64(node))
}

// keyGeometry is the object key for the volume geometry singleton.
func (d *Driver) keyGeometry() string {
	return d.prefix + "state/geometry"
}

// keyCounter is the object key for the allocation counter.
func (d *Driver) keyCounter() string {
	return d.prefix + "state/next-chunk"
}

// encodeNode serializes a node number as a decimal string, the terminal
// sentinel included.
func encodeNode(node block.Node) []byte {
	return []byte(strconv.FormatUint(uint64(node), 10))
}

// decodeNode deserializes a decimal node number.
func decodeNode(raw []byte) (block.Node, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return block.EndOfChain, fmt.Errorf("bad node value %q: %w", raw, err)
	}
	return block.Node(v), nil
}
