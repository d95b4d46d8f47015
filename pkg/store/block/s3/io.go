package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/chainfs/pkg/store/block"
)

// checkAddress validates the buffer length and block index before any S3
// round trip.
func (d *Driver) checkAddress(index uint32, p []byte) error {
	if uint32(len(p)) != d.blockSize {
		return fmt.Errorf("buffer is %d bytes, block is %d: %w", len(p), d.blockSize, block.ErrBufferSize)
	}
	if index >= d.perChunk {
		return fmt.Errorf("block %d (chunk holds %d): %w", index, d.perChunk, block.ErrBlockOutOfRange)
	}
	return nil
}

// ReadBlock copies the requested block into p.
//
// A missing block object is only a hole if the chunk itself is live, so
// the miss path costs one extra HEAD to tell zeros from ErrNodeNotFound.
func (d *Driver) ReadBlock(ctx context.Context, node block.Node, index uint32, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := d.checkAddress(index, p); err != nil {
		return err
	}

	result, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.keyBlock(node, index)),
	})
	if err != nil {
		if !isNoSuchKey(err) {
			return fmt.Errorf("failed to read block %d of chunk %d: %w", index, node, err)
		}

		exists, err := d.chunkExists(ctx, node)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)
		}

		// Never written; a live chunk's blocks read as zeros.
		for i := range p {
			p[i] = 0
		}
		return nil
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("failed to read block %d of chunk %d: %w", index, node, err)
	}
	if len(data) != len(p) {
		return fmt.Errorf("block %d of chunk %d holds %d bytes, want %d", index, node, len(data), len(p))
	}

	copy(p, data)
	return nil
}

// WriteBlock persists p as the contents of one block.
func (d *Driver) WriteBlock(ctx context.Context, node block.Node, index uint32, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.checkOpen(); err != nil {
		return err
	}
	if d.readOnly {
		return fmt.Errorf("bucket %s: %w", d.bucket, block.ErrReadOnly)
	}
	if err := d.checkAddress(index, p); err != nil {
		return err
	}

	exists, err := d.chunkExists(ctx, node)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("chunk %d: %w", node, block.ErrNodeNotFound)
	}

	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.keyBlock(node, index)),
		Body:   bytes.NewReader(p),
	})
	if err != nil {
		return fmt.Errorf("failed to write block %d of chunk %d: %w", index, node, err)
	}
	return nil
}
