package embeddings

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/config"
)

// New selects the embedder from configuration.
//
// EMBEDDING_MODEL set selects the local ONNX model; otherwise the
// deterministic hashing embedder is used (local mode and tests).
func New(cfg config.EmbeddingConfig, batchSize int, logger *zap.Logger) (Embedder, error) {
	if cfg.Model != "" {
		logger.Info("using fastembed embedder",
			zap.String("model", cfg.Model),
			zap.String("cache_dir", cfg.CacheDir),
		)
		return NewFastEmbedder(cfg.Model, cfg.CacheDir, batchSize)
	}
	logger.Info("using deterministic hash embedder", zap.Int("dim", cfg.Dim))
	return NewHashEmbedder(cfg.Dim)
}
