package vectorstore

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/config"
)

// New selects the vector store backend from configuration.
//
// QDRANT_URL or QDRANT_HOST set selects the external gRPC adapter; otherwise
// the embedded chromem store persists under the configured directory.
func New(ctx context.Context, cfg config.QdrantConfig, logger *zap.Logger) (Store, error) {
	if cfg.Enabled() {
		logger.Info("using qdrant vector store",
			zap.String("host", cfg.Host),
			zap.String("url", cfg.URL),
			zap.String("collection", cfg.Collection),
		)
		return NewQdrantStore(ctx, cfg, logger)
	}
	logger.Info("using embedded vector store",
		zap.String("path", cfg.LocalDir),
		zap.String("collection", cfg.Collection),
	)
	return NewChromemStore(cfg.LocalDir, cfg.Collection, logger)
}
