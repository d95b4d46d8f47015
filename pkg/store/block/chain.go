package block

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/chainfs/internal/logger"
)

// WriteChain builds a fresh chain from the contents of r.
//
// Blocks are filled sequentially; a partial final block is zero-padded up to
// the block size. Chunks are allocated as the data demands them, so an empty
// reader allocates nothing and returns the terminal sentinel as the start.
//
// On any failure the partially built chain is freed (best effort) before the
// error is returned, so callers never have to track half-imported chains.
//
// Returns:
//   - Node: start of the new chain (EndOfChain for empty input)
//   - int64: total bytes consumed from r
//   - error: allocation, write, or read failures
func WriteChain(ctx context.Context, alloc Allocator, r io.Reader) (Node, int64, error) {
	if err := ctx.Err(); err != nil {
		return EndOfChain, 0, err
	}

	blockSize := alloc.BlockSize()
	if blockSize == 0 {
		return EndOfChain, 0, fmt.Errorf("driver reports zero block size: %w", ErrNotSupported)
	}

	var (
		start   = EndOfChain
		current = EndOfChain
		index   uint32
		total   int64
		buf     = make([]byte, blockSize)
	)

	fail := func(err error) (Node, int64, error) {
		if !alloc.IsEndOfChain(start) {
			if ferr := alloc.FreeChain(context.WithoutCancel(ctx), start); ferr != nil {
				logger.Warn("Failed to free partial chain at %d: %v", start, ferr)
			}
		}
		return EndOfChain, 0, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		n, rerr := io.ReadFull(r, buf)
		if rerr == io.EOF {
			break
		}
		if rerr != nil && rerr != io.ErrUnexpectedEOF {
			return fail(fmt.Errorf("read source: %w", rerr))
		}

		// Zero the tail of a short final block so the stored block is
		// well-defined past the data.
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}

		if alloc.IsEndOfChain(current) || index >= alloc.BlocksPerNode(current) {
			next, err := alloc.AllocateChunk(ctx)
			if err != nil {
				return fail(fmt.Errorf("allocate chunk: %w", err))
			}
			if alloc.IsEndOfChain(current) {
				start = next
			} else {
				if err := alloc.LinkChunk(ctx, current, next); err != nil {
					return fail(fmt.Errorf("link chunk %d -> %d: %w", current, next, err))
				}
			}
			current = next
			index = 0
		}

		if err := alloc.WriteBlock(ctx, current, index, buf); err != nil {
			return fail(fmt.Errorf("write block %d of chunk %d: %w", index, current, err))
		}
		index++
		total += int64(n)

		if rerr == io.ErrUnexpectedEOF {
			break
		}
	}

	return start, total, nil
}

// Stats describes the physical shape of one chain.
type Stats struct {
	// Chunks is the number of chunks in the chain.
	Chunks uint64

	// Blocks is the total number of blocks across all chunks.
	Blocks uint64

	// Capacity is Blocks * BlockSize in bytes.
	Capacity int64

	// Truncated is set when the declared size exceeds the chain's capacity,
	// meaning reads will hit the end of the chain before the end of the file.
	Truncated bool
}

// ChainStats walks the chain from start and measures it against a declared
// file size.
//
// The walk tolerates an empty chain (start is the sentinel). A broken
// successor link surfaces as the driver's error.
func ChainStats(ctx context.Context, d Driver, start Node, size int64) (Stats, error) {
	var stats Stats

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	// A cycle in a corrupt successor table would never terminate, so
	// remember which chunks the walk has seen.
	seen := make(map[Node]struct{})

	node := start
	for !d.IsEndOfChain(node) {
		if _, dup := seen[node]; dup {
			return stats, fmt.Errorf("chunk %d: %w", node, ErrChainCycle)
		}
		seen[node] = struct{}{}

		if len(seen)%256 == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}

		stats.Chunks++
		stats.Blocks += uint64(d.BlocksPerNode(node))

		next, err := d.NextChunk(ctx, node)
		if err != nil {
			return stats, fmt.Errorf("chunk %d successor: %w", node, err)
		}
		node = next
	}

	stats.Capacity = int64(stats.Blocks) * int64(d.BlockSize())
	stats.Truncated = size > stats.Capacity
	return stats, nil
}
