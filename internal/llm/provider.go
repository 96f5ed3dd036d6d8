package llm

import (
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/config"
)

// New selects the generation backend: Ollama when a URL is configured,
// otherwise the deterministic stub.
func New(cfg config.LLMConfig, logger *zap.Logger) (Client, error) {
	if cfg.Enabled() {
		logger.Info("using ollama llm backend",
			zap.String("url", cfg.URL), zap.String("model", cfg.Model))
		return NewOllamaClient(cfg, logger)
	}
	logger.Info("using deterministic stub llm backend")
	return NewStubClient(logger), nil
}
