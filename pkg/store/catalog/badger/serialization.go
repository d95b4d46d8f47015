package badger

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/chainfs/pkg/store/block"
	"github.com/marmos91/chainfs/pkg/store/catalog"
)

// Serialization Strategy
// ======================
//
// Entries are stored in XDR, the same codec the block stores use for their
// geometry records. The path rides along in the value even though it is
// also the key; a decoded entry is complete on its own and List never has
// to stitch values back together with key parsing.

// wireEntry is the persisted form of a catalog entry. Field order is the
// wire order.
type wireEntry struct {
	Path  string
	Start uint64
	Size  int64
}

// encodeEntry serializes a catalog entry. The entry's path must already be
// normalized.
func encodeEntry(entry catalog.Entry) ([]byte, error) {
	wire := wireEntry{
		Path:  entry.Path,
		Start: uint64(entry.Start),
		Size:  entry.Size,
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &wire); err != nil {
		return nil, fmt.Errorf("failed to encode entry %s: %w", entry.Path, err)
	}
	return buf.Bytes(), nil
}

// decodeEntry deserializes the catalog entry found under key. Undecodable
// values and entries whose stored path disagrees with their key report
// catalog.ErrCorruptEntry.
func decodeEntry(key string, raw []byte) (catalog.Entry, error) {
	var wire wireEntry
	if _, err := xdr.Unmarshal(bytes.NewReader(raw), &wire); err != nil {
		return catalog.Entry{}, fmt.Errorf("%w: %v", catalog.ErrCorruptEntry, err)
	}
	if wire.Path != key {
		return catalog.Entry{}, fmt.Errorf("%w: stored path %q disagrees with key", catalog.ErrCorruptEntry, wire.Path)
	}

	return catalog.Entry{
		Path:  wire.Path,
		Start: block.Node(wire.Start),
		Size:  wire.Size,
	}, nil
}
