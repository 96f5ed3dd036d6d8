package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/apperr"
	"github.com/fyrsmithlabs/docrag/internal/config"
)

var ollamaTracer = otel.Tracer("docrag/llm/ollama")

// OllamaClient talks to an Ollama-compatible /api/generate endpoint with
// streaming disabled.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger

	temperature float64
	maxTokens   int
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count,omitempty"`
}

// NewOllamaClient builds a client from configuration. The base URL must
// include the scheme and host; the /api/generate path is appended per call.
func NewOllamaClient(cfg config.LLMConfig, logger *zap.Logger) (*OllamaClient, error) {
	if cfg.URL == "" {
		return nil, apperr.New(apperr.KindValidation, "llm url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaClient{
		baseURL:     strings.TrimRight(cfg.URL, "/"),
		model:       cfg.Model,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Generate sends the prompt and returns the full completion text.
func (c *OllamaClient) Backend() string { return "ollama" }

func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, span := ollamaTracer.Start(ctx, "llm.generate")
	defer span.End()

	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	model := opts.Model
	if model == "" {
		model = c.model
	}
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.prompt_len", len(prompt)),
	)

	reqBody := generateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: c.buildOptions(opts),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnavailable, "llm backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		kind := apperr.KindInternal
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = apperr.KindTransient
		}
		return "", apperr.Newf(kind, "llm backend returned %d: %s", resp.StatusCode, string(body))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding generate response: %w", err)
	}

	c.logger.Debug("generation complete",
		zap.String("model", result.Model),
		zap.Int("eval_count", result.EvalCount),
		zap.Int("response_len", len(result.Response)))

	return result.Response, nil
}

func (c *OllamaClient) buildOptions(opts Options) map[string]any {
	options := make(map[string]any)
	temp := c.temperature
	if opts.Temperature > 0 {
		temp = opts.Temperature
	}
	if temp > 0 {
		options["temperature"] = temp
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	if maxTokens > 0 {
		options["num_predict"] = maxTokens
	}
	if len(opts.Stop) > 0 {
		options["stop"] = opts.Stop
	}
	if len(options) == 0 {
		return nil
	}
	return options
}

var _ Client = (*OllamaClient)(nil)
