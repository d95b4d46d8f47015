package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/chainfs/internal/logger"
	"github.com/marmos91/chainfs/pkg/store/block"
)

// collect performs a single garbage collection run.
//
// This is the core GC algorithm:
//  1. Walk every catalog entry's chain to build the referenced chunk set
//  2. Enumerate all chunks in the block driver
//  3. Compute orphaned = existing - referenced
//  4. Free each orphaned chain, skipping any that links into referenced data
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - *Stats: Collection statistics
//   - error: Returns error if collection fails
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}

	enum, ok := c.driver.(block.Enumerator)
	if !ok {
		return stats, fmt.Errorf("block driver does not support chunk enumeration")
	}
	alloc, ok := c.driver.(block.Allocator)
	if !ok {
		return stats, fmt.Errorf("block driver does not support chain reclamation")
	}

	logger.Info("GC: Phase 1 - Walking catalog entries for referenced chunks...")

	referenced, err := c.referencedChunks(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to collect referenced chunks: %w", err)
	}
	stats.ReferencedCount = uint64(len(referenced))

	logger.Info("GC: Found %d referenced chunks", stats.ReferencedCount)

	logger.Info("GC: Phase 2 - Enumerating chunks in the block driver...")

	existing, err := enum.Chunks(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to enumerate chunks: %w", err)
	}
	stats.ExistingCount = uint64(len(existing))

	logger.Info("GC: Found %d existing chunks", stats.ExistingCount)

	// Phase 3: anything the catalog cannot reach is an orphan.
	orphaned := make([]block.Node, 0)
	for _, node := range existing {
		if _, isReferenced := referenced[node]; !isReferenced {
			orphaned = append(orphaned, node)
		}
	}
	stats.OrphanedCount = uint64(len(orphaned))

	if len(orphaned) == 0 {
		logger.Info("GC: No orphaned chunks found")
		stats.EndTime = time.Now()
		return stats, nil
	}

	logger.Info("GC: Found %d orphaned chunks", stats.OrphanedCount)

	// An orphan whose chain links into a referenced chunk must not be freed:
	// FreeChain follows links, so freeing it would take live data with it.
	// Such a link means the volume is corrupt or mid-mutation; those orphans
	// are skipped and reported instead.
	successors, err := c.orphanSuccessors(ctx, orphaned)
	if err != nil {
		return stats, err
	}
	tainted := classifyOrphans(orphaned, successors, referenced)

	if c.config.DryRun {
		c.logDryRun(orphaned, tainted)
		stats.EndTime = time.Now()
		return stats, nil
	}

	logger.Info("GC: Phase 4 - Freeing orphaned chains...")

	for _, node := range orphaned {
		if err := ctx.Err(); err != nil {
			stats.EndTime = time.Now()
			return stats, err
		}

		if tainted[node] {
			logger.Warn("GC: Skipping orphan chunk %d: its chain reaches referenced data", node)
			stats.SkippedCount++
			continue
		}

		// Freeing in arbitrary order is fine: releasing a mid-chain chunk
		// takes its tail with it, and the later call on its head stops
		// quietly where the chain already ends.
		if err := alloc.FreeChain(ctx, node); err != nil {
			logger.Warn("GC: Failed to free chunk %d: %v", node, err)
			stats.FailedCount++
			continue
		}
		stats.FreedCount++
	}

	stats.EndTime = time.Now()

	logger.Info("GC: Completed - freed %d chunks, %d skipped, %d failed, duration=%s",
		stats.FreedCount, stats.SkippedCount, stats.FailedCount, stats.Duration())

	return stats, nil
}

// referencedChunks walks the chain of every catalog entry and returns the
// set of chunks the catalog reaches. A truncated chain contributes the
// chunks it still has; a revisited chunk ends its walk, which also keeps
// cyclic chains from walking forever.
func (c *Collector) referencedChunks(ctx context.Context) (map[block.Node]struct{}, error) {
	entries, err := c.catalog.List(ctx, "/")
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog: %w", err)
	}

	referenced := make(map[block.Node]struct{})
	for _, entry := range entries {
		node := entry.Start
		for !c.driver.IsEndOfChain(node) {
			if _, seen := referenced[node]; seen {
				break
			}
			referenced[node] = struct{}{}

			next, err := c.driver.NextChunk(ctx, node)
			if errors.Is(err, block.ErrNodeNotFound) {
				logger.Debug("GC: Chain of %s is truncated at chunk %d", entry.Path, node)
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to walk chain of %s: %w", entry.Path, err)
			}
			node = next
		}
	}
	return referenced, nil
}

// orphanSuccessors reads the successor of every orphan. An orphan that
// vanished since enumeration maps to the chain terminator; any other lookup
// failure aborts the run, because guessing a successor here is exactly what
// the taint check exists to prevent.
func (c *Collector) orphanSuccessors(ctx context.Context, orphaned []block.Node) (map[block.Node]block.Node, error) {
	successors := make(map[block.Node]block.Node, len(orphaned))
	for _, node := range orphaned {
		next, err := c.driver.NextChunk(ctx, node)
		if errors.Is(err, block.ErrNodeNotFound) {
			successors[node] = block.EndOfChain
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read successor of orphan chunk %d: %w", node, err)
		}
		successors[node] = next
	}
	return successors, nil
}

// classifyOrphans partitions orphans into freeable and tainted. An orphan is
// tainted when following successors from it reaches a referenced chunk.
//
// Each chain is walked once: every chunk on a walked path shares the path's
// verdict, and later walks stop as soon as they hit a decided chunk. A path
// that loops back on itself is a cycle among orphans, which cannot reach
// referenced data and is therefore freeable.
func classifyOrphans(orphaned []block.Node, successors map[block.Node]block.Node, referenced map[block.Node]struct{}) map[block.Node]bool {
	tainted := make(map[block.Node]bool, len(orphaned))

	for _, start := range orphaned {
		if _, decided := tainted[start]; decided {
			continue
		}

		var path []block.Node
		onPath := make(map[block.Node]struct{})
		verdict := false

		node := start
		for {
			if v, decided := tainted[node]; decided {
				verdict = v
				break
			}
			if _, looped := onPath[node]; looped {
				break
			}
			path = append(path, node)
			onPath[node] = struct{}{}

			next := successors[node]
			if _, live := referenced[next]; live {
				verdict = true
				break
			}
			if _, orphan := successors[next]; !orphan {
				// Chain ends at the terminator or at a vanished chunk.
				break
			}
			node = next
		}

		for _, n := range path {
			tainted[n] = verdict
		}
	}

	return tainted
}

// logDryRun reports what a real run would have freed.
func (c *Collector) logDryRun(orphaned []block.Node, tainted map[block.Node]bool) {
	freeable := 0
	skipped := 0
	for _, node := range orphaned {
		if tainted[node] {
			skipped++
		} else {
			freeable++
		}
	}

	logger.Info("GC: DRY RUN - Would free %d chunks (%d skipped):", freeable, skipped)
	shown := 0
	for _, node := range orphaned {
		if tainted[node] || shown >= 10 {
			continue
		}
		logger.Info("  - chunk %d", node)
		shown++
	}
	if freeable > 10 {
		logger.Info("  ... and %d more", freeable-10)
	}
}
