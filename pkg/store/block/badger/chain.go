package badger

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/chainfs/pkg/store/block"
)

// NextChunk returns the successor of node in its chain.
func (d *Driver) NextChunk(ctx context.Context, node block.Node) (block.Node, error) {
	if err := ctx.Err(); err != nil {
		return block.EndOfChain, err
	}
	if err := d.checkOpen(); err != nil {
		return block.EndOfChain, err
	}
	if d.IsEndOfChain(node) {
		return block.EndOfChain, nil
	}

	next := block.EndOfChain
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyLink(node))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read successor of chunk %d: %w", node, err)
		}

		return item.Value(func(val []byte) error {
			decoded, err := decodeLink(val)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", node, err)
			}
			next = decoded
			return nil
		})
	})
	if err != nil {
		return block.EndOfChain, err
	}
	return next, nil
}

// AllocateChunk claims a fresh node number and records it as a terminal
// chunk. Its blocks read as zeros until written.
func (d *Driver) AllocateChunk(ctx context.Context) (block.Node, error) {
	if err := ctx.Err(); err != nil {
		return block.EndOfChain, err
	}
	if err := d.checkOpen(); err != nil {
		return block.EndOfChain, err
	}

	id, err := d.seq.Next()
	if err != nil {
		return block.EndOfChain, fmt.Errorf("failed to issue chunk number: %w", err)
	}

	node := block.Node(id)
	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyLink(node), encodeLink(block.EndOfChain))
	})
	if err != nil {
		return block.EndOfChain, fmt.Errorf("failed to allocate chunk %d: %w", node, err)
	}
	return node, nil
}

// LinkChunk sets next as the successor of node. Both must be live chunks;
// next may also be the terminal sentinel.
func (d *Driver) LinkChunk(ctx context.Context, node, next block.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.checkOpen(); err != nil {
		return err
	}

	return d.db.Update(func(txn *badger.Txn) error {
		if err := requireChunk(txn, node); err != nil {
			return err
		}
		if !d.IsEndOfChain(next) {
			if _, err := txn.Get(keyLink(next)); err != nil {
				if err == badger.ErrKeyNotFound {
					return fmt.Errorf("successor chunk %d: %w", next, block.ErrNodeNotFound)
				}
				return fmt.Errorf("failed to check successor chunk %d: %w", next, err)
			}
		}

		if err := txn.Set(keyLink(node), encodeLink(next)); err != nil {
			return fmt.Errorf("failed to link chunk %d: %w", node, err)
		}
		return nil
	})
}

// Chunks returns the nodes of every allocated chunk. A chunk is allocated
// exactly when its link entry exists, so a key-only scan of the link
// namespace is the full answer.
func (d *Driver) Chunks(ctx context.Context) ([]block.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	var nodes []block.Node
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixLink)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			node, err := nodeFromLinkKey(it.Item().Key())
			if err != nil {
				return err
			}
			nodes = append(nodes, node)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate chunks: %w", err)
	}
	return nodes, nil
}

// FreeChain releases every chunk reachable from start, deleting block
// payloads along with the links. The walk stops quietly at already-freed
// chunks so retries are safe.
func (d *Driver) FreeChain(ctx context.Context, start block.Node) error {
	if err := d.checkOpen(); err != nil {
		return err
	}

	node := start
	for !d.IsEndOfChain(node) {
		if err := ctx.Err(); err != nil {
			return err
		}

		next, err := d.NextChunk(ctx, node)
		if errors.Is(err, block.ErrNodeNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := d.dropChunk(node); err != nil {
			return fmt.Errorf("failed to free chunk %d: %w", node, err)
		}
		node = next
	}
	return nil
}

// dropChunk deletes one chunk's block payloads and then its link entry.
// The link goes last: if the batch dies partway through, the chunk is
// still reachable and a retried FreeChain finishes the job.
func (d *Driver) dropChunk(node block.Node) error {
	keys := make([][]byte, 0, d.perChunk)
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyBlockPrefix(node)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := d.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	if err := wb.Delete(keyLink(node)); err != nil {
		return err
	}
	return wb.Flush()
}
