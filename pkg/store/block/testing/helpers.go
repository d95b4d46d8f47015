package testing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/chainfs/pkg/store/block"
)

// AssertErrorIs checks if the error matches the expected error using errors.Is.
func AssertErrorIs(t *testing.T, expected error, actual error) {
	t.Helper()
	if !errors.Is(actual, expected) {
		t.Errorf("Expected error %v, got %v", expected, actual)
	}
}

// mustAllocate allocates a chunk and fails the test if it errors.
func mustAllocate(t *testing.T, alloc block.Allocator) block.Node {
	t.Helper()
	node, err := alloc.AllocateChunk(testContext())
	require.NoError(t, err, "AllocateChunk should succeed")
	return node
}

// mustWriteBlock writes one block and fails the test if it errors. Data
// shorter than the block size is zero-padded.
func mustWriteBlock(t *testing.T, d block.Driver, node block.Node, index uint32, data []byte) {
	t.Helper()
	buf := make([]byte, d.BlockSize())
	copy(buf, data)
	err := d.WriteBlock(testContext(), node, index, buf)
	require.NoError(t, err, "WriteBlock should succeed")
}

// mustReadBlock reads one block and fails the test if it errors.
func mustReadBlock(t *testing.T, d block.Driver, node block.Node, index uint32) []byte {
	t.Helper()
	buf := make([]byte, d.BlockSize())
	err := d.ReadBlock(testContext(), node, index, buf)
	require.NoError(t, err, "ReadBlock should succeed")
	return buf
}

// patternBlock fills a block-sized buffer with a recognizable pattern so
// blocks written to different positions stay distinguishable.
func patternBlock(size uint32, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = seed + byte(i%7)
	}
	return data
}

// ReadChain reads size bytes from the chain starting at start by walking
// successor links block by block. Driver tests use it to verify chains
// written through one handle read back through another.
func ReadChain(t *testing.T, d block.Driver, start block.Node, size int64) []byte {
	t.Helper()

	var out []byte
	buf := make([]byte, d.BlockSize())
	node := start
	for int64(len(out)) < size {
		require.False(t, d.IsEndOfChain(node), "chain ended after %d of %d bytes", len(out), size)
		for index := uint32(0); index < d.BlocksPerNode(node) && int64(len(out)) < size; index++ {
			err := d.ReadBlock(testContext(), node, index, buf)
			require.NoError(t, err, "ReadBlock should succeed")
			out = append(out, buf...)
		}
		next, err := d.NextChunk(testContext(), node)
		require.NoError(t, err, "NextChunk should succeed")
		node = next
	}
	return out[:size]
}
