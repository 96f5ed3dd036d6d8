package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/apperr"
	"github.com/fyrsmithlabs/docrag/internal/config"
)

func TestStubGenerateQuotesFirstPassage(t *testing.T) {
	c := NewStubClient(zap.NewNop())

	prompt := `Instruction text.

Context passages:
[1] doc.pdf (pages 1-1)
the first passage body

[2] other.pdf (pages 2-2)
the second passage body

Question: anything
Answer:`

	answer, err := c.Generate(context.Background(), prompt, Options{})
	require.NoError(t, err)
	assert.Contains(t, answer, "the first passage body")
	assert.NotContains(t, answer, "the second passage body")
}

func TestStubGenerateDeterministic(t *testing.T) {
	c := NewStubClient(zap.NewNop())
	prompt := "Context passages:\n[1] a.pdf (pages 1-1)\nsame content\n\nQuestion: q\nAnswer:"

	first, err := c.Generate(context.Background(), prompt, Options{})
	require.NoError(t, err)
	second, err := c.Generate(context.Background(), prompt, Options{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStubGenerateEmptyPrompt(t *testing.T) {
	c := NewStubClient(zap.NewNop())
	_, err := c.Generate(context.Background(), "   ", Options{})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestStubGenerateNoPassages(t *testing.T) {
	c := NewStubClient(zap.NewNop())
	answer, err := c.Generate(context.Background(), "Question without any context\nAnswer:", Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, answer)
}

func TestOllamaGenerate(t *testing.T) {
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(generateResponse{
			Model:    gotReq.Model,
			Response: "generated answer",
			Done:     true,
		})
	}))
	defer srv.Close()

	c, err := NewOllamaClient(config.LLMConfig{
		URL:         srv.URL,
		Model:       "llama3.1",
		Temperature: 0.2,
		MaxTokens:   256,
		Timeout:     5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	answer, err := c.Generate(context.Background(), "the prompt", Options{})
	require.NoError(t, err)
	assert.Equal(t, "generated answer", answer)

	assert.Equal(t, "llama3.1", gotReq.Model)
	assert.Equal(t, "the prompt", gotReq.Prompt)
	assert.False(t, gotReq.Stream)
	assert.EqualValues(t, 0.2, gotReq.Options["temperature"])
	assert.EqualValues(t, 256, gotReq.Options["num_predict"])
}

func TestOllamaGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewOllamaClient(config.LLMConfig{URL: srv.URL, Model: "llama3.1"}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "prompt", Options{})
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err), "5xx from the backend is retryable")
}

func TestOllamaGenerateUnreachable(t *testing.T) {
	c, err := NewOllamaClient(config.LLMConfig{
		URL:     "http://127.0.0.1:1",
		Model:   "llama3.1",
		Timeout: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "prompt", Options{})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUnavailable))
}

func TestOllamaGenerateEmptyPrompt(t *testing.T) {
	c, err := NewOllamaClient(config.LLMConfig{URL: "http://localhost:11434"}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), "", Options{})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestNewSelectsBackend(t *testing.T) {
	stub, err := New(config.LLMConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &StubClient{}, stub)

	ollama, err := New(config.LLMConfig{URL: "http://localhost:11434", Model: "llama3.1"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, ollama)
}
