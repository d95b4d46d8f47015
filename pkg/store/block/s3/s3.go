// Package s3 implements a block driver over an S3 bucket.
//
// The driver maps blocks and chain pointers to individual objects (see
// keys.go), which keeps a volume inspectable with any S3 browser and works
// against Amazon S3 or any compatible service (MinIO, Localstack, Cubbit
// DS3).
//
// Consistency:
// S3 offers no cross-object transactions and the allocation counter is
// read-modify-write, so a volume tolerates one writer at a time; any
// number of concurrent readers is fine. The driver serializes allocations
// in-process but cannot defend against a second process allocating from
// the same volume.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/chainfs/pkg/store/block"
)

const (
	// DefaultBlockSize is used when a fresh volume's config leaves
	// BlockSize zero.
	DefaultBlockSize = 512

	// DefaultBlocksPerChunk is used when a fresh volume's config leaves
	// BlocksPerChunk zero.
	DefaultBlocksPerChunk = 8

	// DefaultMaxRetries is the retry budget for transient S3 failures.
	DefaultMaxRetries = 10
)

// ClientConfig holds the AWS-level settings to build an S3 client.
type ClientConfig struct {
	// Region is the AWS region. Required.
	Region string `mapstructure:"region"`

	// Endpoint overrides the S3 endpoint, for MinIO, Localstack, and other
	// S3-compatible services. Path-style addressing is forced when set.
	Endpoint string `mapstructure:"endpoint"`

	// AccessKeyID and SecretAccessKey select static credentials. Leave
	// both empty to use the default AWS credential chain.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// MaxRetries caps attempts for transient S3 failures (502, 503,
	// timeouts).
	MaxRetries int `mapstructure:"max_retries"`
}

// NewClient builds an S3 client from the AWS-level settings.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required")
	}

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))

	if cfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Path-style addressing for compatibility with MinIO/Localstack.
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	}), nil
}

// Config contains the settings for opening an S3-backed volume.
type Config struct {
	// Client is the configured S3 client (see NewClient).
	Client *s3.Client

	// Bucket is the bucket holding the volume. It must already exist;
	// the driver does not create it.
	Bucket string `mapstructure:"bucket"`

	// KeyPrefix namespaces every object the driver touches, so several
	// volumes can share one bucket. Example: "volumes/alpha/".
	KeyPrefix string `mapstructure:"key_prefix"`

	// BlockSize and BlocksPerChunk shape a newly formatted volume. On
	// reopen a non-zero field must match the persisted geometry; zero
	// accepts whatever the volume was formatted with.
	BlockSize      uint32 `mapstructure:"block_size"`
	BlocksPerChunk uint32 `mapstructure:"blocks_per_chunk"`

	// ReadOnly rejects writes and allocation with block.ErrReadOnly.
	ReadOnly bool `mapstructure:"read_only"`
}

// Driver is a block driver over one S3 bucket prefix.
type Driver struct {
	client   *s3.Client
	bucket   string
	prefix   string
	readOnly bool

	blockSize uint32
	perChunk  uint32

	// allocMu serializes the allocation counter's read-modify-write.
	allocMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// Compile-time interface checks.
var (
	_ block.Driver     = (*Driver)(nil)
	_ block.Allocator  = (*Driver)(nil)
	_ block.Enumerator = (*Driver)(nil)
)

// volumeGeometry is the persisted shape of the volume. Field order is the
// wire order.
type volumeGeometry struct {
	BlockSize      uint32
	BlocksPerChunk uint32
}

// New opens (and on first use formats) an S3-backed volume. The bucket
// must exist and be reachable.
func New(ctx context.Context, cfg Config) (*Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	d := &Driver{
		client:   cfg.Client,
		bucket:   cfg.Bucket,
		prefix:   cfg.KeyPrefix,
		readOnly: cfg.ReadOnly,
	}

	geo, err := d.loadOrFormatGeometry(ctx, volumeGeometry{
		BlockSize:      cfg.BlockSize,
		BlocksPerChunk: cfg.BlocksPerChunk,
	})
	if err != nil {
		return nil, err
	}
	d.blockSize = geo.BlockSize
	d.perChunk = geo.BlocksPerChunk

	return d, nil
}

// loadOrFormatGeometry reads the persisted volume geometry, formatting the
// volume with the requested shape (plus defaults) on first open. Non-zero
// requested fields must match an existing volume.
func (d *Driver) loadOrFormatGeometry(ctx context.Context, requested volumeGeometry) (volumeGeometry, error) {
	raw, err := d.getValueObject(ctx, d.keyGeometry())
	if err != nil {
		if !isNoSuchKey(err) {
			return volumeGeometry{}, fmt.Errorf("failed to read volume geometry: %w", err)
		}

		// No volume under this prefix yet.
		if d.readOnly {
			return volumeGeometry{}, fmt.Errorf("bucket %q has no volume under prefix %q", d.bucket, d.prefix)
		}

		geo := requested
		if geo.BlockSize == 0 {
			geo.BlockSize = DefaultBlockSize
		}
		if geo.BlocksPerChunk == 0 {
			geo.BlocksPerChunk = DefaultBlocksPerChunk
		}

		var buf bytes.Buffer
		if _, err := xdr.Marshal(&buf, &geo); err != nil {
			return volumeGeometry{}, fmt.Errorf("failed to encode geometry: %w", err)
		}
		if err := d.putValueObject(ctx, d.keyGeometry(), buf.Bytes()); err != nil {
			return volumeGeometry{}, err
		}
		return geo, nil
	}

	var geo volumeGeometry
	if _, err := xdr.Unmarshal(bytes.NewReader(raw), &geo); err != nil {
		return volumeGeometry{}, fmt.Errorf("failed to decode geometry: %w", err)
	}

	if requested.BlockSize != 0 && requested.BlockSize != geo.BlockSize {
		return volumeGeometry{}, fmt.Errorf("volume formatted with block size %d, config asks for %d",
			geo.BlockSize, requested.BlockSize)
	}
	if requested.BlocksPerChunk != 0 && requested.BlocksPerChunk != geo.BlocksPerChunk {
		return volumeGeometry{}, fmt.Errorf("volume formatted with %d blocks per chunk, config asks for %d",
			geo.BlocksPerChunk, requested.BlocksPerChunk)
	}
	return geo, nil
}

// isNoSuchKey reports whether err is S3's missing-object error.
func isNoSuchKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &noSuchKey)
}

// getValueObject downloads a small state object in full.
func (d *Driver) getValueObject(ctx context.Context, key string) ([]byte, error) {
	result, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// putValueObject uploads a small state object.
func (d *Driver) putValueObject(ctx context.Context, key string, data []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	return nil
}

// chunkExists reports whether node has a live pointer object.
func (d *Driver) chunkExists(ctx context.Context, node block.Node) (bool, error) {
	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.keyNext(node)),
	})
	if err != nil {
		// HeadObject reports a missing object as a bare 404, not NoSuchKey.
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check chunk %d: %w", node, err)
	}
	return true, nil
}

// checkOpen fails with ErrDriverClosed once Close has run.
func (d *Driver) checkOpen() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return block.ErrDriverClosed
	}
	return nil
}

// BlockSize returns the volume's block size, or 0 once the driver is
// closed.
func (d *Driver) BlockSize() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0
	}
	return d.blockSize
}

// BlocksPerNode returns the volume's chunk size. Every chunk of an S3
// volume has the same shape.
func (d *Driver) BlocksPerNode(block.Node) uint32 {
	return d.perChunk
}

// IsEndOfChain reports whether node is the chain terminator.
func (d *Driver) IsEndOfChain(node block.Node) bool {
	return node == block.EndOfChain
}

// Close marks the driver unusable. The underlying HTTP client has nothing
// to release.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
