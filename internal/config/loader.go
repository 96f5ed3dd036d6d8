package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Load reads configuration from the environment and applies defaults.
//
// Recognized variables (all optional; absence selects the local adapters):
//
//	DATABASE_URL                                SQL metadata repository
//	MINIO_ENDPOINT, MINIO_ACCESS_KEY,
//	MINIO_SECRET_KEY, MINIO_BUCKET_RAW          S3-compatible raw storage
//	QDRANT_URL or QDRANT_HOST+QDRANT_PORT,
//	QDRANT_API_KEY, QDRANT_COLLECTION,
//	QDRANT_VECTOR_SIZE, QDRANT_DISTANCE         external vector store
//	EMBEDDING_MODEL, EMBEDDING_CACHE_DIR        local ONNX embedder
//	LLM_URL, LLM_MODEL, LLM_MAX_TOKENS          LLM backend
//	CHUNK_SIZE, CHUNK_OVERLAP, MAX_UPLOAD_BYTES,
//	RAG_TOP_K_DEFAULT, RAG_HISTORY_N            tunables
//	SERVER_HOST, SERVER_PORT, LOG_LEVEL, LOG_FORMAT
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	v := &envValues{k: k}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.stringOr("SERVER_HOST", "0.0.0.0"),
			Port:            v.intOr("SERVER_PORT", 8080),
			ShutdownTimeout: v.durationOr("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxUploadBytes:  int64(v.intOr("MAX_UPLOAD_BYTES", 50*1024*1024)),
		},
		Logging: LoggingConfig{
			Level:  v.stringOr("LOG_LEVEL", "info"),
			Format: v.stringOr("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			URL:      k.String("DATABASE_URL"),
			LocalDir: v.stringOr("LOCAL_STORAGE_DIR", "./local_storage"),
		},
		Storage: StorageConfig{
			Endpoint:  k.String("MINIO_ENDPOINT"),
			AccessKey: k.String("MINIO_ACCESS_KEY"),
			SecretKey: k.String("MINIO_SECRET_KEY"),
			Bucket:    v.stringOr("MINIO_BUCKET_RAW", "docrag-raw"),
			UseSSL:    k.Bool("MINIO_USE_SSL"),
			LocalDir:  v.stringOr("LOCAL_STORAGE_DIR", "./local_storage") + "/raw",
		},
		Qdrant: QdrantConfig{
			URL:        k.String("QDRANT_URL"),
			Host:       k.String("QDRANT_HOST"),
			Port:       v.intOr("QDRANT_PORT", 6334),
			APIKey:     k.String("QDRANT_API_KEY"),
			Collection: v.stringOr("QDRANT_COLLECTION", "docrag_chunks"),
			VectorSize: v.intOr("QDRANT_VECTOR_SIZE", 384),
			Distance:   strings.ToLower(v.stringOr("QDRANT_DISTANCE", "cosine")),
			LocalDir:   v.stringOr("LOCAL_STORAGE_DIR", "./local_storage") + "/vectors",
		},
		Embedding: EmbeddingConfig{
			Model:    k.String("EMBEDDING_MODEL"),
			CacheDir: v.stringOr("EMBEDDING_CACHE_DIR", "./local_storage/models"),
			Dim:      v.intOr("QDRANT_VECTOR_SIZE", 384),
		},
		LLM: LLMConfig{
			URL:         v.stringOr("LLM_URL", k.String("OLLAMA_URL")),
			Model:       v.stringOr("LLM_MODEL", "llama3"),
			Temperature: k.Float64("LLM_TEMPERATURE"),
			MaxTokens:   v.intOr("LLM_MAX_TOKENS", 1024),
			Timeout:     v.durationOr("LLM_TIMEOUT", 120*time.Second),
		},
		Ingest: IngestConfig{
			ChunkSize:      v.intOr("CHUNK_SIZE", 1000),
			ChunkOverlap:   v.intOr("CHUNK_OVERLAP", 150),
			SnippetLen:     v.intOr("SNIPPET_LEN", 500),
			EmbedBatchSize: v.intOr("EMBED_BATCH_SIZE", 64),
			MaxRetries:     v.intOr("INGEST_MAX_RETRIES", 3),
			RetryBackoff:   v.durationOr("INGEST_RETRY_BACKOFF", time.Second),
			StageTimeout:   v.durationOr("INGEST_STAGE_TIMEOUT", 5*time.Minute),
			QueueSize:      v.intOr("INGEST_QUEUE_SIZE", 64),
			Workers:        v.intOr("INGEST_WORKERS", 4),
		},
		RAG: RAGConfig{
			TopKDefault: v.intOr("RAG_TOP_K_DEFAULT", 3),
			HistoryN:    v.intOr("RAG_HISTORY_N", 4),
		},
	}

	if err := errors.Join(v.errs...); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envValues reads typed values off the environment, collecting parse errors
// so a misspelled number fails startup instead of silently using the default.
// An explicitly set value is honored even when it equals zero.
type envValues struct {
	k    *koanf.Koanf
	errs []error
}

func (v *envValues) stringOr(key, def string) string {
	if s := v.k.String(key); s != "" {
		return s
	}
	return def
}

func (v *envValues) intOr(key string, def int) int {
	if !v.k.Exists(key) {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v.k.String(key)))
	if err != nil {
		v.errs = append(v.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (v *envValues) durationOr(key string, def time.Duration) time.Duration {
	if !v.k.Exists(key) {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v.k.String(key)))
	if err != nil {
		v.errs = append(v.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
