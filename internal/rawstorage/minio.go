package rawstorage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/config"
)

// MinioStorage is the S3-compatible Storage backend.
type MinioStorage struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewMinioStorage connects to the endpoint and ensures the bucket exists.
func NewMinioStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*MinioStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to object storage %s: %w", cfg.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created raw storage bucket", zap.String("bucket", cfg.Bucket))
	}

	return &MinioStorage{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Put stores the object. S3 puts are atomic: the object becomes visible only
// once the upload completes.
func (s *MinioStorage) Put(ctx context.Context, path string, r io.Reader, size int64) error {
	if err := validatePath(path); err != nil {
		return err
	}
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrPathCollision, path)
	}

	_, err = s.client.PutObject(ctx, s.bucket, path, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("uploading object %s: %w", path, err)
	}
	s.logger.Debug("stored blob", zap.String("path", path), zap.Int64("size", size))
	return nil
}

// Get opens the object for streaming and returns its size.
func (s *MinioStorage) Get(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	if err := validatePath(path); err != nil {
		return nil, 0, err
	}
	// Stat first so missing objects surface before the caller starts reading.
	info, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, 0, fmt.Errorf("stat object %s: %w", path, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("opening object %s: %w", path, err)
	}
	return obj, info.Size, nil
}

// Delete removes the object; missing objects are ignored.
func (s *MinioStorage) Delete(ctx context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("deleting object %s: %w", path, err)
	}
	return nil
}

// DeletePrefix removes every object under prefix.
func (s *MinioStorage) DeletePrefix(ctx context.Context, prefix string) error {
	if err := validatePath(prefix); err != nil {
		return err
	}
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("listing prefix %s: %w", prefix, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("deleting object %s: %w", obj.Key, err)
		}
	}
	s.logger.Debug("deleted blob prefix", zap.String("prefix", prefix))
	return nil
}

// Exists reports object presence.
func (s *MinioStorage) Exists(ctx context.Context, path string) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", path, err)
}

// Health verifies the bucket is reachable.
func (s *MinioStorage) Health(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("object storage unavailable: %w", err)
	}
	return nil
}
