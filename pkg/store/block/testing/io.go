package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/chainfs/pkg/store/block"
)

// RunGeometryTests verifies the driver's reported geometry.
func (suite *DriverTestSuite) RunGeometryTests(t *testing.T) {
	t.Run("BlockSize_Positive", suite.testBlockSizePositive)
	t.Run("BlocksPerNode_Positive", suite.testBlocksPerNodePositive)
	t.Run("EndOfChain_Sentinel", suite.testEndOfChainSentinel)
}

func (suite *DriverTestSuite) testBlockSizePositive(t *testing.T) {
	d := suite.NewDriver()

	assert.Greater(t, d.BlockSize(), uint32(0), "a usable driver must report a block size")
}

func (suite *DriverTestSuite) testBlocksPerNodePositive(t *testing.T) {
	d := suite.NewDriver()
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	node := mustAllocate(t, alloc)
	assert.GreaterOrEqual(t, d.BlocksPerNode(node), uint32(1))
}

func (suite *DriverTestSuite) testEndOfChainSentinel(t *testing.T) {
	d := suite.NewDriver()

	assert.True(t, d.IsEndOfChain(block.EndOfChain))
}

// RunBlockIOTests executes all block read/write tests.
func (suite *DriverTestSuite) RunBlockIOTests(t *testing.T) {
	t.Run("WriteRead_Roundtrip", suite.testWriteReadRoundtrip)
	t.Run("Read_NeverWritten", suite.testReadNeverWritten)
	t.Run("Write_Overwrite", suite.testWriteOverwrite)
	t.Run("BufferSize_Checked", suite.testBufferSizeChecked)
	t.Run("Index_OutOfRange", suite.testIndexOutOfRange)
	t.Run("Node_Unknown", suite.testNodeUnknown)
}

func (suite *DriverTestSuite) testWriteReadRoundtrip(t *testing.T) {
	d := suite.NewDriver()
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	node := mustAllocate(t, alloc)
	first := patternBlock(d.BlockSize(), 'a')
	last := patternBlock(d.BlockSize(), 'z')
	lastIndex := d.BlocksPerNode(node) - 1

	mustWriteBlock(t, d, node, 0, first)
	mustWriteBlock(t, d, node, lastIndex, last)

	assert.Equal(t, first, mustReadBlock(t, d, node, 0))
	if lastIndex > 0 {
		assert.Equal(t, last, mustReadBlock(t, d, node, lastIndex))
	}
}

func (suite *DriverTestSuite) testReadNeverWritten(t *testing.T) {
	d := suite.NewDriver()
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	node := mustAllocate(t, alloc)
	data := mustReadBlock(t, d, node, 0)

	assert.Equal(t, make([]byte, d.BlockSize()), data, "never-written blocks read as zeros")
}

func (suite *DriverTestSuite) testWriteOverwrite(t *testing.T) {
	d := suite.NewDriver()
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	node := mustAllocate(t, alloc)
	mustWriteBlock(t, d, node, 0, patternBlock(d.BlockSize(), 'a'))

	updated := patternBlock(d.BlockSize(), 'B')
	mustWriteBlock(t, d, node, 0, updated)

	assert.Equal(t, updated, mustReadBlock(t, d, node, 0))
}

func (suite *DriverTestSuite) testBufferSizeChecked(t *testing.T) {
	d := suite.NewDriver()
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	node := mustAllocate(t, alloc)

	short := make([]byte, d.BlockSize()-1)
	AssertErrorIs(t, block.ErrBufferSize, d.ReadBlock(testContext(), node, 0, short))
	AssertErrorIs(t, block.ErrBufferSize, d.WriteBlock(testContext(), node, 0, short))

	long := make([]byte, d.BlockSize()+1)
	AssertErrorIs(t, block.ErrBufferSize, d.WriteBlock(testContext(), node, 0, long))
}

func (suite *DriverTestSuite) testIndexOutOfRange(t *testing.T) {
	d := suite.NewDriver()
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	node := mustAllocate(t, alloc)
	index := d.BlocksPerNode(node)
	buf := make([]byte, d.BlockSize())

	AssertErrorIs(t, block.ErrBlockOutOfRange, d.ReadBlock(testContext(), node, index, buf))
	AssertErrorIs(t, block.ErrBlockOutOfRange, d.WriteBlock(testContext(), node, index, buf))
}

func (suite *DriverTestSuite) testNodeUnknown(t *testing.T) {
	d := suite.NewDriver()
	alloc, ok := d.(block.Allocator)
	if !ok {
		t.Skip("Driver does not implement Allocator")
	}

	// Pick a node well past anything allocated so far.
	node := mustAllocate(t, alloc) + 1_000_000
	buf := make([]byte, d.BlockSize())

	AssertErrorIs(t, block.ErrNodeNotFound, d.ReadBlock(testContext(), node, 0, buf))
	AssertErrorIs(t, block.ErrNodeNotFound, d.WriteBlock(testContext(), node, 0, buf))

	_, err := d.NextChunk(testContext(), node)
	require.Error(t, err)
	AssertErrorIs(t, block.ErrNodeNotFound, err)
}
