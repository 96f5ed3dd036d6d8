// Package config provides configuration loading for docrag.
//
// Configuration comes from environment variables with sensible local-mode
// defaults: with nothing set, the service runs entirely out of
// ./local_storage/ with embedded adapters.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete docrag configuration.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Qdrant    QdrantConfig
	Embedding EmbeddingConfig
	LLM       LLMConfig
	Ingest    IngestConfig
	RAG       RAGConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// DatabaseConfig selects the metadata repository backend.
// An empty URL selects the embedded SQLite store under LocalDir.
type DatabaseConfig struct {
	URL      string
	LocalDir string
}

// StorageConfig selects the raw-file storage backend.
// An empty Endpoint selects the local filesystem store under LocalDir.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	LocalDir  string
}

// QdrantConfig selects the vector store backend.
// An empty URL and Host select the embedded store under LocalDir.
type QdrantConfig struct {
	URL        string
	Host       string
	Port       int
	APIKey     string
	Collection string
	VectorSize int
	Distance   string
	LocalDir   string
}

// EmbeddingConfig holds embedder configuration.
// An empty Model selects the deterministic hashing embedder.
type EmbeddingConfig struct {
	Model    string
	CacheDir string
	Dim      int
}

// LLMConfig selects the language-model backend.
// An empty URL selects the deterministic stub client.
type LLMConfig struct {
	URL         string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// IngestConfig holds ingestion pipeline tunables.
type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	SnippetLen     int
	EmbedBatchSize int
	MaxRetries     int
	RetryBackoff   time.Duration
	StageTimeout   time.Duration
	QueueSize      int
	Workers        int
}

// RAGConfig holds retrieval tunables.
type RAGConfig struct {
	TopKDefault int
	HistoryN    int
}

// Enabled reports whether an external S3-compatible endpoint is configured.
func (c StorageConfig) Enabled() bool { return c.Endpoint != "" }

// Enabled reports whether an external Qdrant service is configured.
func (c QdrantConfig) Enabled() bool { return c.URL != "" || c.Host != "" }

// Enabled reports whether an external SQL database is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

// Enabled reports whether an external LLM backend is configured.
func (c LLMConfig) Enabled() bool { return c.URL != "" }

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be in [0, chunk size %d)", c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Qdrant.VectorSize <= 0 {
		return fmt.Errorf("vector size must be positive")
	}
	if c.RAG.TopKDefault <= 0 {
		return fmt.Errorf("default top_k must be positive")
	}
	if c.Ingest.Workers <= 0 || c.Ingest.QueueSize <= 0 {
		return fmt.Errorf("ingest workers and queue size must be positive")
	}
	return nil
}
