package badger

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/chainfs/pkg/store/block"
)

// requireChunk fails with ErrNodeNotFound unless node has a live link
// entry. Must run inside a transaction so the check and the operation it
// guards see the same state.
func requireChunk(txn *badger.Txn, node block.Node) error {
	if _, err := txn.Get(keyLink(node)); err != nil {
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)
		}
		return fmt.Errorf("failed to check chunk %d: %w", node, err)
	}
	return nil
}

// checkAddress validates the buffer length and block index before any
// database work.
func (d *Driver) checkAddress(index uint32, p []byte) error {
	if uint32(len(p)) != d.blockSize {
		return fmt.Errorf("buffer is %d bytes, block is %d: %w", len(p), d.blockSize, block.ErrBufferSize)
	}
	if index >= d.perChunk {
		return fmt.Errorf("block %d (chunk holds %d): %w", index, d.perChunk, block.ErrBlockOutOfRange)
	}
	return nil
}

// ReadBlock copies the requested block into p.
func (d *Driver) ReadBlock(ctx context.Context, node block.Node, index uint32, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.checkAddress(index, p); err != nil {
		return err
	}

	return d.db.View(func(txn *badger.Txn) error {
		if err := requireChunk(txn, node); err != nil {
			return err
		}

		item, err := txn.Get(keyBlock(node, index))
		if err == badger.ErrKeyNotFound {
			// Never written; a live chunk's blocks read as zeros.
			for i := range p {
				p[i] = 0
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read block %d of chunk %d: %w", index, node, err)
		}

		return item.Value(func(val []byte) error {
			if len(val) != len(p) {
				return fmt.Errorf("block %d of chunk %d holds %d bytes, want %d", index, node, len(val), len(p))
			}
			copy(p, val)
			return nil
		})
	})
}

// WriteBlock persists p as the contents of one block.
func (d *Driver) WriteBlock(ctx context.Context, node block.Node, index uint32, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.checkAddress(index, p); err != nil {
		return err
	}

	// The transaction keeps a reference to the value until commit; copy so
	// the caller's buffer stays theirs.
	val := append([]byte(nil), p...)

	return d.db.Update(func(txn *badger.Txn) error {
		if err := requireChunk(txn, node); err != nil {
			return err
		}
		if err := txn.Set(keyBlock(node, index), val); err != nil {
			return fmt.Errorf("failed to write block %d of chunk %d: %w", index, node, err)
		}
		return nil
	})
}
