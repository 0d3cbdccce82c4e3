package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// BucketConfig configures a Bucket client.
type BucketConfig struct {
	// Endpoint is the host[:port] of the S3-compatible service.
	Endpoint string

	AccessKey string
	SecretKey string
	UseSSL    bool

	// Bucket holds the sync objects; Object names this client's payload.
	Bucket string
	Object string

	// Logger for client activity (default: stderr logger)
	Logger *log.Logger
}

// Bucket stores the payload as a single object in an S3-compatible bucket.
// The object's ETag is the version token.
//
// The version check before a write and the write itself are separate
// requests, so two clients pushing at the same instant can both succeed.
type Bucket struct {
	client *minio.Client
	bucket string
	object string
	logger *log.Logger
}

// NewBucket creates a Bucket client. No request is made until first use.
func NewBucket(config BucketConfig) (*Bucket, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}
	if config.Object == "" {
		config.Object = "bookmarks.json"
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket client: %w", err)
	}

	return &Bucket{
		client: client,
		bucket: config.Bucket,
		object: config.Object,
		logger: config.Logger,
	}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (b *Bucket) EnsureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return translateError(err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		return translateError(err)
	}
	b.logger.Printf("Created bucket %s", b.bucket)
	return nil
}

// currentVersion returns the stored object's ETag, or "" when absent.
func (b *Bucket) currentVersion(ctx context.Context) (string, error) {
	info, err := b.client.StatObject(ctx, b.bucket, b.object, minio.StatObjectOptions{})
	if err != nil {
		err = translateError(err)
		if errors.Is(err, ErrNoDataFound) {
			return "", nil
		}
		return "", err
	}
	return info.ETag, nil
}

func (b *Bucket) Push(ctx context.Context, data []byte, version string) (string, error) {
	current, err := b.currentVersion(ctx)
	if err != nil {
		return "", err
	}
	if current != version {
		return "", fmt.Errorf("push based on %q, current is %q: %w", version, current, ErrDataOutOfSync)
	}

	info, err := b.client.PutObject(ctx, b.bucket, b.object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "application/json",
		},
	)
	if err != nil {
		return "", translateError(err)
	}
	b.logger.Printf("Pushed %d bytes to %s/%s (version %s)", len(data), b.bucket, b.object, info.ETag)
	return info.ETag, nil
}

func (b *Bucket) Pull(ctx context.Context) (*Payload, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.object, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateError(err)
	}
	defer func() {
		_ = obj.Close()
	}()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateError(err)
	}
	stat, err := obj.Stat()
	if err != nil {
		return nil, translateError(err)
	}
	return &Payload{Data: data, Version: stat.ETag}, nil
}

func (b *Bucket) CheckForUpdates(ctx context.Context, version string) (bool, error) {
	current, err := b.currentVersion(ctx)
	if err != nil {
		return false, err
	}
	if current == "" {
		return false, ErrNoDataFound
	}
	return current != version, nil
}

// translateError maps minio and transport errors onto this package's
// sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %v", ErrNoDataFound, err)
	case "PreconditionFailed":
		return fmt.Errorf("%w: %v", ErrDataOutOfSync, err)
	}
	return err
}
