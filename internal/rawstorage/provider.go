package rawstorage

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/config"
)

// New selects the raw storage backend from configuration.
//
// MINIO_ENDPOINT set selects the S3-compatible adapter; otherwise blobs live
// on the local filesystem under the configured directory.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Storage, error) {
	if cfg.Enabled() {
		logger.Info("using s3 raw storage",
			zap.String("endpoint", cfg.Endpoint),
			zap.String("bucket", cfg.Bucket),
		)
		return NewMinioStorage(ctx, cfg, logger)
	}
	logger.Info("using filesystem raw storage", zap.String("root", cfg.LocalDir))
	return NewFilesystemStorage(cfg.LocalDir, logger)
}
