package image

import (
	"bytes"
	"encoding/binary"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
	"github.com/zeebo/xxh3"
)

// ============================================================================
// On-Disk Layout
// ============================================================================
// An image file has three regions:
//
//	offset 0:            superblock (XDR encoded, padded to headerSize)
//	offset headerSize:   chunk table, ChunkCount big-endian uint32 entries
//	offset dataOffset:   chunk data, ChunkCount * BlocksPerChunk * BlockSize
//
// Each table entry is the successor of that chunk: another chunk index,
// endMarker for the last chunk of a chain, or freeMarker for an unallocated
// chunk. The superblock stores an XXH3 hash of the encoded table so a torn
// table write is detected at open instead of surfacing later as a garbled
// chain walk.
//
// Data blocks are written in place with no checksum; the image trades
// end-to-end verification for single-write updates, like the loop device
// images it is modeled on.

const (
	// magic identifies a chainfs image file ("CFSi").
	magic uint32 = 0x43465369

	// version is the current on-disk format version.
	version uint32 = 1

	// headerSize is the space reserved for the superblock. The XDR encoding
	// is much smaller; the rest is padding so the table never moves.
	headerSize = 512

	// freeMarker marks an unallocated chunk in the table.
	freeMarker uint32 = 0xFFFFFFFF

	// endMarker marks a chain-terminating chunk in the table.
	endMarker uint32 = 0xFFFFFFFE

	// MaxChunks is the largest chunk count an image can be formatted with,
	// bounded by the table markers.
	MaxChunks = 0xFFFFFFFD
)

// superblock is the image header. Field order is the wire order.
type superblock struct {
	Magic          uint32
	Version        uint32
	BlockSize      uint32
	BlocksPerChunk uint32
	ChunkCount     uint32
	TableChecksum  uint64
}

// Geometry describes the shape of a new image volume.
type Geometry struct {
	// BlockSize is the size of every block in bytes.
	BlockSize uint32 `mapstructure:"block_size"`

	// BlocksPerChunk is the number of blocks in every chunk.
	BlocksPerChunk uint32 `mapstructure:"blocks_per_chunk"`

	// ChunkCount fixes the volume's capacity at format time.
	ChunkCount uint32 `mapstructure:"chunk_count"`
}

const (
	// DefaultBlockSize is used when a geometry leaves BlockSize zero.
	DefaultBlockSize = 512

	// DefaultBlocksPerChunk is used when a geometry leaves BlocksPerChunk
	// zero.
	DefaultBlocksPerChunk = 8

	// DefaultChunkCount is used when a geometry leaves ChunkCount zero
	// (4096 chunks, 16 MiB of data at the default geometry).
	DefaultChunkCount = 4096
)

// withDefaults fills zero fields with the package defaults.
func (g Geometry) withDefaults() Geometry {
	if g.BlockSize == 0 {
		g.BlockSize = DefaultBlockSize
	}
	if g.BlocksPerChunk == 0 {
		g.BlocksPerChunk = DefaultBlocksPerChunk
	}
	if g.ChunkCount == 0 {
		g.ChunkCount = DefaultChunkCount
	}
	return g
}

func (g Geometry) validate() error {
	if g.ChunkCount > MaxChunks {
		return fmt.Errorf("chunk count %d exceeds the maximum %d", g.ChunkCount, uint32(MaxChunks))
	}
	return nil
}

// chunkBytes is the data footprint of one chunk.
func (g Geometry) chunkBytes() int64 {
	return int64(g.BlockSize) * int64(g.BlocksPerChunk)
}

// tableOffset is where the chunk table starts.
func tableOffset() int64 {
	return headerSize
}

// dataOffset is where chunk data starts for the given chunk count.
func dataOffset(chunkCount uint32) int64 {
	return headerSize + 4*int64(chunkCount)
}

// totalSize is the full file size for the geometry.
func (g Geometry) totalSize() int64 {
	return dataOffset(g.ChunkCount) + int64(g.ChunkCount)*g.chunkBytes()
}

// encodeHeader renders the superblock into a headerSize-byte region.
func encodeHeader(sb superblock) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &sb); err != nil {
		return nil, fmt.Errorf("marshal superblock: %w", err)
	}
	if buf.Len() > headerSize {
		return nil, fmt.Errorf("superblock encoding exceeds %d bytes", headerSize)
	}

	out := make([]byte, headerSize)
	copy(out, buf.Bytes())
	return out, nil
}

// decodeHeader parses a superblock from the header region.
func decodeHeader(raw []byte) (superblock, error) {
	var sb superblock
	if _, err := xdr.Unmarshal(bytes.NewReader(raw), &sb); err != nil {
		return superblock{}, fmt.Errorf("unmarshal superblock: %w", err)
	}
	return sb, nil
}

// encodeTable renders the successor table as big-endian uint32 entries.
func encodeTable(table []uint32) []byte {
	out := make([]byte, 4*len(table))
	for i, entry := range table {
		binary.BigEndian.PutUint32(out[4*i:], entry)
	}
	return out
}

// decodeTable parses the successor table.
func decodeTable(raw []byte) []uint32 {
	table := make([]uint32, len(raw)/4)
	for i := range table {
		table[i] = binary.BigEndian.Uint32(raw[4*i:])
	}
	return table
}

// tableChecksum hashes the encoded table.
func tableChecksum(encoded []byte) uint64 {
	return xxh3.Hash(encoded)
}
