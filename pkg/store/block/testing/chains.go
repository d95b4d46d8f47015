package testing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/chainfs/pkg/store/block"
)

// RunChainTests executes all chunk chain tests.
func (suite *DriverTestSuite) RunChainTests(t *testing.T) {
	t.Run("FreshChunk_Terminal", suite.testFreshChunkTerminal)
	t.Run("LinkAndWalk", suite.testLinkAndWalk)
	t.Run("FreeChain", suite.testFreeChain)
	t.Run("FreeChain_Idempotent", suite.testFreeChainIdempotent)
	t.Run("WriteChain_Roundtrip", suite.testWriteChainRoundtrip)
	t.Run("WriteChain_Empty", suite.testWriteChainEmpty)
}

func (suite *DriverTestSuite) testFreshChunkTerminal(t *testing.T) {
	d := suite.NewDriver()
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	node := mustAllocate(t, alloc)
	next, err := d.NextChunk(testContext(), node)
	require.NoError(t, err)

	assert.True(t, d.IsEndOfChain(next), "a fresh chunk has no successor")
}

func (suite *DriverTestSuite) testLinkAndWalk(t *testing.T) {
	d := suite.NewDriver()
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	a := mustAllocate(t, alloc)
	b := mustAllocate(t, alloc)
	c := mustAllocate(t, alloc)
	require.NotEqual(t, a, b)
	require.NotEqual(t, b, c)

	require.NoError(t, alloc.LinkChunk(testContext(), a, b))
	require.NoError(t, alloc.LinkChunk(testContext(), b, c))

	// Walk the chain and make sure it visits exactly a, b, c.
	var walked []block.Node
	node := a
	for !d.IsEndOfChain(node) {
		walked = append(walked, node)
		next, err := d.NextChunk(testContext(), node)
		require.NoError(t, err)
		node = next
	}
	assert.Equal(t, []block.Node{a, b, c}, walked)
}

func (suite *DriverTestSuite) testFreeChain(t *testing.T) {
	d := suite.NewDriver()
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	a := mustAllocate(t, alloc)
	b := mustAllocate(t, alloc)
	require.NoError(t, alloc.LinkChunk(testContext(), a, b))
	mustWriteBlock(t, d, a, 0, patternBlock(d.BlockSize(), 'a'))

	require.NoError(t, alloc.FreeChain(testContext(), a))

	buf := make([]byte, d.BlockSize())
	AssertErrorIs(t, block.ErrNodeNotFound, d.ReadBlock(testContext(), a, 0, buf))
	AssertErrorIs(t, block.ErrNodeNotFound, d.ReadBlock(testContext(), b, 0, buf))
}

func (suite *DriverTestSuite) testFreeChainIdempotent(t *testing.T) {
	d := suite.NewDriver()
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	a := mustAllocate(t, alloc)
	require.NoError(t, alloc.FreeChain(testContext(), a))
	require.NoError(t, alloc.FreeChain(testContext(), a), "freeing a freed chain should succeed")
	require.NoError(t, alloc.FreeChain(testContext(), block.EndOfChain), "freeing the empty chain should succeed")
}

func (suite *DriverTestSuite) testWriteChainRoundtrip(t *testing.T) {
	d := suite.NewDriver()
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	// Two and a half chunks of data, so the chain needs links and the final
	// block needs padding.
	probe := mustAllocate(t, alloc)
	chunkBytes := int64(d.BlockSize()) * int64(d.BlocksPerNode(probe))
	size := 2*chunkBytes + chunkBytes/2 + 3
	data := bytes.Repeat([]byte("chainfs-"), int(size/8)+1)[:size]

	start, written, err := block.WriteChain(testContext(), alloc, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, size, written)
	require.False(t, d.IsEndOfChain(start))

	assert.Equal(t, data, ReadChain(t, d, start, size))

	stats, err := block.ChainStats(testContext(), d, start, size)
	require.NoError(t, err)
	assert.EqualValues(t, (size+chunkBytes-1)/chunkBytes, stats.Chunks)
	assert.False(t, stats.Truncated)
	assert.GreaterOrEqual(t, stats.Capacity, size)
}

func (suite *DriverTestSuite) testWriteChainEmpty(t *testing.T) {
	d := suite.NewDriver()
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	start, written, err := block.WriteChain(testContext(), alloc, bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Zero(t, written)
	assert.True(t, d.IsEndOfChain(start), "an empty chain is the end-of-chain sentinel")
}
