package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/chainfs/pkg/store/block"
)

// RunEnumerationTests executes all chunk enumeration tests.
func (suite *DriverTestSuite) RunEnumerationTests(t *testing.T) {
	t.Run("Empty", suite.testEnumerateEmpty)
	t.Run("TracksAllocation", suite.testEnumerateTracksAllocation)
	t.Run("TracksFree", suite.testEnumerateTracksFree)
}

func (suite *DriverTestSuite) testEnumerateEmpty(t *testing.T) {
	d := suite.NewDriver()
	enum, ok := d.(block.Enumerator)
	if !ok {
		t.Skip("Driver does not implement Enumerator")
	}

	nodes, err := enum.Chunks(testContext())
	require.NoError(t, err)
	assert.Empty(t, nodes, "a fresh volume has no chunks")
}

func (suite *DriverTestSuite) testEnumerateTracksAllocation(t *testing.T) {
	d := suite.NewDriver()
	enum, ok := d.(block.Enumerator)
	if !ok {
		t.Skip("Driver does not implement Enumerator")
	}
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	a := mustAllocate(t, alloc)
	b := mustAllocate(t, alloc)
	c := mustAllocate(t, alloc)

	nodes, err := enum.Chunks(testContext())
	require.NoError(t, err)
	assert.ElementsMatch(t, []block.Node{a, b, c}, nodes)
}

func (suite *DriverTestSuite) testEnumerateTracksFree(t *testing.T) {
	d := suite.NewDriver()
	enum, ok := d.(block.Enumerator)
	if !ok {
		t.Skip("Driver does not implement Enumerator")
	}
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	a := mustAllocate(t, alloc)
	b := mustAllocate(t, alloc)
	keep := mustAllocate(t, alloc)
	require.NoError(t, alloc.LinkChunk(testContext(), a, b))

	require.NoError(t, alloc.FreeChain(testContext(), a))

	nodes, err := enum.Chunks(testContext())
	require.NoError(t, err)
	assert.ElementsMatch(t, []block.Node{keep}, nodes, "freed chunks should stop listing")
}
