package badger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/chainfs/pkg/store/block"
)

// Serialization Strategy
// ======================
//
// Two value encodings, chosen by what the value is:
//
// 1. XDR (geometry singleton)
//    - The same codec the image superblock uses, so every persistent
//      chainfs store describes its shape the same way.
//
// 2. Raw big endian (successor pointers)
//    - A successor is a single uint64; eight fixed bytes need no envelope.
//
// Block payloads are stored as-is.

// volumeGeometry is the persisted shape of the volume. Field order is the
// wire order.
type volumeGeometry struct {
	BlockSize      uint32
	BlocksPerChunk uint32
}

// encodeGeometry serializes the geometry singleton.
func encodeGeometry(g volumeGeometry) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &g); err != nil {
		return nil, fmt.Errorf("failed to encode geometry: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeGeometry deserializes the geometry singleton.
func decodeGeometry(raw []byte) (volumeGeometry, error) {
	var g volumeGeometry
	if _, err := xdr.Unmarshal(bytes.NewReader(raw), &g); err != nil {
		return volumeGeometry{}, fmt.Errorf("failed to decode geometry: %w", err)
	}
	return g, nil
}

// encodeLink serializes a successor pointer. The terminal sentinel encodes
// as eight 0xFF bytes.
func encodeLink(next block.Node) []byte {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], uint64(next))
	return raw[:]
}

// decodeLink deserializes a successor pointer.
func decodeLink(raw []byte) (block.Node, error) {
	if len(raw) != 8 {
		return block.EndOfChain, fmt.Errorf("successor pointer holds %d bytes, want 8", len(raw))
	}
	return block.Node(binary.BigEndian.Uint64(raw)), nil
}
