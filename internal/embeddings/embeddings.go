// Package embeddings turns text into fixed-dimension vectors.
package embeddings

import (
	"context"
	"errors"
)

// Sentinel errors for embedding operations.
var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty input")

	// ErrInvalidConfig indicates invalid embedder configuration.
	ErrInvalidConfig = errors.New("invalid embedder configuration")

	// ErrEmbeddingFailed indicates the model failed to produce vectors.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates vector embeddings from text.
//
// Implementations are deterministic for a fixed model and safe for concurrent
// callers. Dim is fixed for the lifetime of the embedder and must equal the
// vector store's collection dimension.
type Embedder interface {
	// Encode generates one embedding per input text.
	Encode(ctx context.Context, texts []string) ([][]float32, error)

	// EncodeQuery generates an embedding for a single question. Some models
	// prefix queries differently from passages.
	EncodeQuery(ctx context.Context, text string) ([]float32, error)

	// Dim returns the embedding dimension.
	Dim() int
}
