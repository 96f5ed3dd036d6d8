// Package llm provides the answer-generation client used by retrieval.
//
// Two backends exist: an Ollama-compatible HTTP client for real generation,
// and a deterministic stub for local mode and tests.
package llm

import (
	"context"
	"errors"
)

// Sentinel errors for generation.
var (
	// ErrEmptyPrompt is returned when the prompt is blank.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrGenerationFailed wraps backend failures.
	ErrGenerationFailed = errors.New("generation failed")
)

// Options tunes a single generation call. Zero values defer to the backend.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// Client generates a completion for a fully assembled prompt.
type Client interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)

	// Backend names the implementation for the ops report.
	Backend() string
}
