package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

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

	raw, err := d.getValueObject(ctx, d.keyNext(node))
	if err != nil {
		if isNoSuchKey(err) {
			return block.EndOfChain, fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)
		}
		return block.EndOfChain, fmt.Errorf("failed to read successor of chunk %d: %w", node, err)
	}

	next, err := decodeNode(raw)
	if err != nil {
		return block.EndOfChain, fmt.Errorf("chunk %d: %w", node, err)
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
	if d.readOnly {
		return block.EndOfChain, fmt.Errorf("bucket %s: %w", d.bucket, block.ErrReadOnly)
	}

	d.allocMu.Lock()
	defer d.allocMu.Unlock()

	var next uint64
	raw, err := d.getValueObject(ctx, d.keyCounter())
	switch {
	case err == nil:
		counter, err := decodeNode(raw)
		if err != nil {
			return block.EndOfChain, fmt.Errorf("allocation counter: %w", err)
		}
		next = uint64(counter)
	case isNoSuchKey(err):
		next = 0
	default:
		return block.EndOfChain, fmt.Errorf("failed to read allocation counter: %w", err)
	}

	node := block.Node(next)

	// Counter first: a crash in between skips a number instead of issuing
	// it twice.
	if err := d.putValueObject(ctx, d.keyCounter(), encodeNode(block.Node(next+1))); err != nil {
		return block.EndOfChain, err
	}
	if err := d.putValueObject(ctx, d.keyNext(node), encodeNode(block.EndOfChain)); err != nil {
		return block.EndOfChain, err
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
	if d.readOnly {
		return fmt.Errorf("bucket %s: %w", d.bucket, block.ErrReadOnly)
	}

	exists, err := d.chunkExists(ctx, node)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)
	}

	if !d.IsEndOfChain(next) {
		exists, err := d.chunkExists(ctx, next)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("successor chunk %d: %w", next, block.ErrNodeNotFound)
		}
	}

	return d.putValueObject(ctx, d.keyNext(node), encodeNode(next))
}

// Chunks returns the nodes of every allocated chunk. The delimiter listing
// collapses each chunk's objects into one common prefix, so the scan costs
// one listing entry per chunk instead of one per block.
func (d *Driver) Chunks(ctx context.Context) ([]block.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.checkOpen(); err != nil {
		return nil, err
	}

	var nodes []block.Node
	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket),
		Prefix:    aws.String(d.prefix + "chunk-"),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate chunks: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			if cp.Prefix == nil {
				continue
			}
			node, err := d.nodeFromChunkPrefix(*cp.Prefix)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

// FreeChain releases every chunk reachable from start, deleting all of its
// objects. The walk stops quietly at already-freed chunks so retries are
// safe.
func (d *Driver) FreeChain(ctx context.Context, start block.Node) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if d.readOnly {
		return fmt.Errorf("bucket %s: %w", d.bucket, block.ErrReadOnly)
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

		if err := d.dropChunk(ctx, node); err != nil {
			return fmt.Errorf("failed to free chunk %d: %w", node, err)
		}
		node = next
	}
	return nil
}

// dropChunk deletes every object under one chunk's prefix, the successor
// pointer included.
func (d *Driver) dropChunk(ctx context.Context, node block.Node) error {
	var objects []types.ObjectIdentifier

	paginator := s3.NewListObjectsV2Paginator(d.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(d.keyChunkPrefix(node)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}
	}

	// S3 allows max 1000 objects per delete request.
	const maxBatchSize = 1000

	for i := 0; i < len(objects); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(objects) {
			end = len(objects)
		}

		result, err := d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(d.bucket),
			Delete: &types.Delete{
				Objects: objects[i:end],
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}

		// Quiet mode reports only the failures.
		if len(result.Errors) > 0 {
			first := result.Errors[0]
			return fmt.Errorf("failed to delete %d objects, first %s: %s",
				len(result.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}
