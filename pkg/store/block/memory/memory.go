// Package memory provides an in-RAM block driver.
//
// The memory driver keeps every chunk in a map and loses everything when the
// process exits. It exists for tests and for scratch volumes; the durable
// backends live in the sibling image, badger, and s3 packages.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/chainfs/pkg/store/block"
)

const (
	// DefaultBlockSize is used when the config leaves BlockSize zero.
	DefaultBlockSize = 512

	// DefaultBlocksPerChunk is used when the config leaves BlocksPerChunk
	// zero.
	DefaultBlocksPerChunk = 8
)

// Config holds the geometry of a memory driver. The zero value gets the
// package defaults.
type Config struct {
	// BlockSize is the size of every block in bytes.
	BlockSize uint32 `mapstructure:"block_size"`

	// BlocksPerChunk is the number of blocks in every chunk.
	BlocksPerChunk uint32 `mapstructure:"blocks_per_chunk"`
}

// Driver is an in-RAM block driver with uniform geometry.
//
// All methods are safe for concurrent use. Blocks are allocated lazily, so
// a chunk costs almost nothing until something is written to it, and blocks
// that were never written read back as zeros.
type Driver struct {
	mu        sync.RWMutex
	blockSize uint32
	perChunk  uint32
	chunks    map[block.Node]*chunk
	nextNode  block.Node
	closed    bool
}

type chunk struct {
	blocks [][]byte
	next   block.Node
}

// Compile-time interface checks.
var (
	_ block.Driver     = (*Driver)(nil)
	_ block.Allocator  = (*Driver)(nil)
	_ block.Enumerator = (*Driver)(nil)
)

// New creates an empty memory driver with the given geometry.
func New(ctx context.Context, cfg Config) (*Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.BlocksPerChunk == 0 {
		cfg.BlocksPerChunk = DefaultBlocksPerChunk
	}

	return &Driver{
		blockSize: cfg.BlockSize,
		perChunk:  cfg.BlocksPerChunk,
		chunks:    make(map[block.Node]*chunk),
	}, nil
}

// BlockSize returns the configured block size.
func (d *Driver) BlockSize() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0
	}
	return d.blockSize
}

// BlocksPerNode returns the configured chunk size. The memory driver uses
// the same geometry for every chunk.
func (d *Driver) BlocksPerNode(block.Node) uint32 {
	return d.perChunk
}

// IsEndOfChain reports whether node is the chain terminator.
func (d *Driver) IsEndOfChain(node block.Node) bool {
	return node == block.EndOfChain
}

// ReadBlock copies the requested block into p.
func (d *Driver) ReadBlock(ctx context.Context, node block.Node, index uint32, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return block.ErrDriverClosed
	}
	if uint32(len(p)) != d.blockSize {
		return fmt.Errorf("buffer is %d bytes, block is %d: %w", len(p), d.blockSize, block.ErrBufferSize)
	}

	c, ok := d.chunks[node]
	if !ok {
		return fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)
	}
	if index >= d.perChunk {
		return fmt.Errorf("block %d of chunk %d (chunk holds %d): %w", index, node, d.perChunk, block.ErrBlockOutOfRange)
	}

	if c.blocks[index] == nil {
		for i := range p {
			p[i] = 0
		}
		return nil
	}
	copy(p, c.blocks[index])
	return nil
}

// WriteBlock stores a copy of p as the requested block.
func (d *Driver) WriteBlock(ctx context.Context, node block.Node, index uint32, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return block.ErrDriverClosed
	}
	if uint32(len(p)) != d.blockSize {
		return fmt.Errorf("buffer is %d bytes, block is %d: %w", len(p), d.blockSize, block.ErrBufferSize)
	}

	c, ok := d.chunks[node]
	if !ok {
		return fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)
	}
	if index >= d.perChunk {
		return fmt.Errorf("block %d of chunk %d (chunk holds %d): %w", index, node, d.perChunk, block.ErrBlockOutOfRange)
	}

	if c.blocks[index] == nil {
		c.blocks[index] = make([]byte, d.blockSize)
	}
	copy(c.blocks[index], p)
	return nil
}

// NextChunk returns the successor of node in its chain.
func (d *Driver) NextChunk(ctx context.Context, node block.Node) (block.Node, error) {
	if err := ctx.Err(); err != nil {
		return block.EndOfChain, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return block.EndOfChain, block.ErrDriverClosed
	}
	if d.IsEndOfChain(node) {
		return block.EndOfChain, nil
	}

	c, ok := d.chunks[node]
	if !ok {
		return block.EndOfChain, fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)
	}
	return c.next, nil
}

// AllocateChunk creates a fresh unlinked chunk and returns its node.
func (d *Driver) AllocateChunk(ctx context.Context) (block.Node, error) {
	if err := ctx.Err(); err != nil {
		return block.EndOfChain, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return block.EndOfChain, block.ErrDriverClosed
	}

	node := d.nextNode
	d.nextNode++
	d.chunks[node] = &chunk{
		blocks: make([][]byte, d.perChunk),
		next:   block.EndOfChain,
	}
	return node, nil
}

// LinkChunk sets next as the successor of node.
func (d *Driver) LinkChunk(ctx context.Context, node, next block.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return block.ErrDriverClosed
	}

	c, ok := d.chunks[node]
	if !ok {
		return fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)
	}
	if !d.IsEndOfChain(next) {
		if _, ok := d.chunks[next]; !ok {
			return fmt.Errorf("successor chunk %d: %w", next, block.ErrNodeNotFound)
		}
	}
	c.next = next
	return nil
}

// Chunks returns the nodes of every allocated chunk.
func (d *Driver) Chunks(ctx context.Context) ([]block.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, block.ErrDriverClosed
	}

	nodes := make([]block.Node, 0, len(d.chunks))
	for node := range d.chunks {
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// FreeChain releases every chunk reachable from start. Freeing a chain that
// was already freed, or one cut short by a missing chunk, is not an error.
func (d *Driver) FreeChain(ctx context.Context, start block.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return block.ErrDriverClosed
	}

	node := start
	for !d.IsEndOfChain(node) {
		c, ok := d.chunks[node]
		if !ok {
			break
		}
		delete(d.chunks, node)
		node = c.next
	}
	return nil
}

// Close releases all chunks. The driver reports no block size afterwards.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.chunks = nil
	return nil
}
