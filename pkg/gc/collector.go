// Package gc provides garbage collection for orphaned chunk chains.
//
// The collector identifies and frees chunks that no catalog entry reaches.
// Orphans accumulate from:
//   - Crashes between writing a chain and publishing its catalog entry
//   - Replaced entries, since Put never frees the chain it displaces
//   - Crashes between removing an entry and freeing its chain
//
// The collector works with any block driver that can enumerate its chunks
// and reclaim chains, against any catalog.
package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/chainfs/internal/logger"
	"github.com/marmos91/chainfs/pkg/store/block"
	"github.com/marmos91/chainfs/pkg/store/catalog"
)

// Collector performs periodic garbage collection on a volume.
//
// The collector runs in the background and periodically sweeps the block
// driver for chunks no catalog entry reaches, freeing the chains they form.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	driver  block.Driver
	catalog catalog.Catalog
	config  Config
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether garbage collection is active (default: true)
	Enabled bool

	// Interval is how often to run garbage collection (default: 24h)
	Interval time.Duration

	// DryRun mode logs what would be freed without actually freeing
	// (default: false). Useful for testing and validation.
	DryRun bool
}

// NewCollector creates a new garbage collector.
//
// The collector will be initialized but not started. Call Start() to begin
// background garbage collection.
//
// Parameters:
//   - driver: Block driver to sweep for orphaned chunks
//   - cat: Catalog holding the entries whose chains stay alive
//   - config: Garbage collection configuration
//
// Returns:
//   - *Collector: Initialized collector (not started)
//   - error: Returns error if the driver lacks a required capability
func NewCollector(driver block.Driver, cat catalog.Catalog, config Config) (*Collector, error) {
	if _, ok := driver.(block.Enumerator); !ok {
		return nil, fmt.Errorf("block driver does not support chunk enumeration")
	}
	if _, ok := driver.(block.Allocator); !ok {
		return nil, fmt.Errorf("block driver does not support chain reclamation")
	}

	if config.Interval == 0 {
		config.Interval = 24 * time.Hour
	}

	return &Collector{
		driver:  driver,
		catalog: cat,
		config:  config,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins background garbage collection.
//
// This starts a goroutine that periodically runs garbage collection at the
// configured interval. The goroutine will run until Stop() is called.
//
// Safe to call multiple times (subsequent calls are no-ops).
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Garbage collection disabled")
		return
	}

	logger.Info("Starting garbage collector: interval=%s dry_run=%v",
		c.config.Interval, c.config.DryRun)

	go c.worker()
}

// Stop stops the garbage collector and waits for it to finish.
//
// This signals the worker goroutine to stop and waits for it to complete
// any in-progress collection. Safe to call multiple times.
//
// Parameters:
//   - ctx: Context for timeout (collection is abandoned if context expires)
//
// Returns:
//   - error: Returns error if context expires before shutdown completes
func (c *Collector) Stop(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	logger.Info("Stopping garbage collector...")

	close(c.stopCh)

	select {
	case <-c.doneCh:
		logger.Info("Garbage collector stopped successfully")
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow triggers an immediate garbage collection run.
//
// This is useful for:
//   - Testing
//   - Manual triggers via the CLI
//   - Initial cleanup on startup
//
// The method blocks until collection completes or context is cancelled.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - *Stats: Collection statistics
//   - error: Returns error if collection fails or context is cancelled
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running garbage collection (manual trigger)...")
	return c.collect(ctx)
}

// worker is the background goroutine that runs periodic garbage collection.
func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	logger.Info("Garbage collector worker started")

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			logger.Info("Garbage collector worker stopping...")
			return
		}
	}
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime       time.Time // When collection started
	EndTime         time.Time // When collection ended
	ReferencedCount uint64    // Number of chunks reachable from catalog entries
	ExistingCount   uint64    // Number of chunks in the block driver
	OrphanedCount   uint64    // Number of orphaned chunks found
	FreedCount      uint64    // Number of orphaned chunks freed
	SkippedCount    uint64    // Number of orphans skipped because their chain reaches live data
	FailedCount     uint64    // Number of orphans whose free failed
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("referenced=%d existing=%d orphaned=%d freed=%d skipped=%d failed=%d duration=%s",
		s.ReferencedCount, s.ExistingCount, s.OrphanedCount,
		s.FreedCount, s.SkippedCount, s.FailedCount, s.Duration())
}
