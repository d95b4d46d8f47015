package gc

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/chainfs/pkg/store/block"
	blockmemory "github.com/marmos91/chainfs/pkg/store/block/memory"
	"github.com/marmos91/chainfs/pkg/store/catalog"
	catalogmemory "github.com/marmos91/chainfs/pkg/store/catalog/memory"
)

// newTestVolume builds a small in-memory volume for sweep tests.
func newTestVolume(t *testing.T) (*blockmemory.Driver, *catalogmemory.Catalog) {
	t.Helper()

	driver, err := blockmemory.New(context.Background(), blockmemory.Config{
		BlockSize:      32,
		BlocksPerChunk: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	cat, err := catalogmemory.New(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	return driver, cat
}

// putFile writes content as a chain and catalogs it under path, returning
// the chain's chunks.
func putFile(t *testing.T, driver *blockmemory.Driver, cat catalog.WritableCatalog, path string, size int) []block.Node {
	t.Helper()
	ctx := context.Background()

	data := bytes.Repeat([]byte{'x'}, size)
	start, written, err := block.WriteChain(ctx, driver, bytes.NewReader(data))
	require.NoError(t, err)
	require.EqualValues(t, size, written)

	require.NoError(t, cat.Put(ctx, catalog.Entry{Path: path, Start: start, Size: written}))

	return chainNodes(t, driver, start)
}

// orphanChain writes a chain that no catalog entry points at.
func orphanChain(t *testing.T, driver *blockmemory.Driver, size int) []block.Node {
	t.Helper()

	data := bytes.Repeat([]byte{'o'}, size)
	start, _, err := block.WriteChain(context.Background(), driver, bytes.NewReader(data))
	require.NoError(t, err)

	return chainNodes(t, driver, start)
}

func chainNodes(t *testing.T, driver *blockmemory.Driver, start block.Node) []block.Node {
	t.Helper()

	var nodes []block.Node
	node := start
	for !driver.IsEndOfChain(node) {
		nodes = append(nodes, node)
		next, err := driver.NextChunk(context.Background(), node)
		require.NoError(t, err)
		node = next
	}
	return nodes
}

func TestNewCollector_RequiresEnumerator(t *testing.T) {
	driver, cat := newTestVolume(t)

	// Wrapping the driver in a plain interface struct hides its optional
	// capabilities.
	bare := struct{ block.Driver }{driver}

	_, err := NewCollector(bare, cat, Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enumeration")
}

func TestNewCollector_AppliesDefaults(t *testing.T) {
	driver, cat := newTestVolume(t)

	c, err := NewCollector(driver, cat, Config{})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, c.config.Interval)
}

func TestCollector_FreesOrphans(t *testing.T) {
	ctx := context.Background()
	driver, cat := newTestVolume(t)

	kept := putFile(t, driver, cat, "/keep.txt", 100)
	orphans := orphanChain(t, driver, 150)

	c, err := NewCollector(driver, cat, Config{Enabled: true})
	require.NoError(t, err)

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, len(kept), stats.ReferencedCount)
	assert.EqualValues(t, len(kept)+len(orphans), stats.ExistingCount)
	assert.EqualValues(t, len(orphans), stats.OrphanedCount)
	assert.EqualValues(t, len(orphans), stats.FreedCount)
	assert.Zero(t, stats.SkippedCount)
	assert.Zero(t, stats.FailedCount)

	remaining, err := driver.Chunks(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, kept, remaining, "only the cataloged chain should survive")
}

func TestCollector_EmptyVolume(t *testing.T) {
	driver, cat := newTestVolume(t)

	c, err := NewCollector(driver, cat, Config{Enabled: true})
	require.NoError(t, err)

	stats, err := c.RunNow(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.ReferencedCount)
	assert.Zero(t, stats.ExistingCount)
	assert.Zero(t, stats.OrphanedCount)
	assert.Zero(t, stats.FreedCount)
}

func TestCollector_DryRun(t *testing.T) {
	ctx := context.Background()
	driver, cat := newTestVolume(t)

	putFile(t, driver, cat, "/keep.txt", 40)
	orphans := orphanChain(t, driver, 200)

	c, err := NewCollector(driver, cat, Config{Enabled: true, DryRun: true})
	require.NoError(t, err)

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, len(orphans), stats.OrphanedCount)
	assert.Zero(t, stats.FreedCount, "dry run must not free anything")

	remaining, err := driver.Chunks(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, int(stats.ExistingCount), "dry run must leave every chunk in place")
}

func TestCollector_SkipsChainsIntoLiveData(t *testing.T) {
	ctx := context.Background()
	driver, cat := newTestVolume(t)

	kept := putFile(t, driver, cat, "/keep.txt", 40)

	// An orphan wired into the live chain, as a crashed relink would leave
	// it. Freeing it would free the live chain too.
	orphan, err := driver.AllocateChunk(ctx)
	require.NoError(t, err)
	require.NoError(t, driver.LinkChunk(ctx, orphan, kept[0]))

	c, err := NewCollector(driver, cat, Config{Enabled: true})
	require.NoError(t, err)

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 1, stats.OrphanedCount)
	assert.EqualValues(t, 1, stats.SkippedCount)
	assert.Zero(t, stats.FreedCount)

	remaining, err := driver.Chunks(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, append(kept, orphan), remaining, "a suspicious orphan must stay put")
}

func TestCollector_FreesOrphanCycle(t *testing.T) {
	ctx := context.Background()
	driver, cat := newTestVolume(t)

	kept := putFile(t, driver, cat, "/keep.txt", 40)

	a, err := driver.AllocateChunk(ctx)
	require.NoError(t, err)
	b, err := driver.AllocateChunk(ctx)
	require.NoError(t, err)
	require.NoError(t, driver.LinkChunk(ctx, a, b))
	require.NoError(t, driver.LinkChunk(ctx, b, a))

	c, err := NewCollector(driver, cat, Config{Enabled: true})
	require.NoError(t, err)

	stats, err := c.RunNow(ctx)
	require.NoError(t, err)

	assert.EqualValues(t, 2, stats.OrphanedCount)
	assert.Zero(t, stats.SkippedCount, "a cycle among orphans cannot reach live data")

	remaining, err := driver.Chunks(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, kept, remaining, "the cycle should be gone")
}

func TestCollector_StartStop(t *testing.T) {
	driver, cat := newTestVolume(t)

	c, err := NewCollector(driver, cat, Config{Enabled: true, Interval: time.Hour})
	require.NoError(t, err)

	c.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
}

func TestCollector_StopWhenDisabled(t *testing.T) {
	driver, cat := newTestVolume(t)

	c, err := NewCollector(driver, cat, Config{Enabled: false})
	require.NoError(t, err)

	c.Start()
	require.NoError(t, c.Stop(context.Background()))
}
