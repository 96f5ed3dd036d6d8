package llm

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// StubClient is the local-mode generator. It answers deterministically from
// the prompt alone, quoting the first retrieved passage, so chat works end to
// end without a model server.
type StubClient struct {
	logger *zap.Logger
}

// NewStubClient builds the deterministic local generator.
func NewStubClient(logger *zap.Logger) *StubClient {
	return &StubClient{logger: logger}
}

// Generate produces a fixed-form answer quoting the first numbered passage
// found in the prompt.
func (c *StubClient) Backend() string { return "stub" }

func (c *StubClient) Generate(ctx context.Context, prompt string, _ Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	passage := firstPassage(prompt)
	if passage == "" {
		return "I could not find relevant passages for this question.", nil
	}

	c.logger.Debug("stub generation", zap.Int("passage_len", len(passage)))
	return "Based on the retrieved passages: " + passage, nil
}

// firstPassage returns the text of the first "[1] ..." context block, up to
// the next numbered header or blank line.
func firstPassage(prompt string) string {
	lines := strings.Split(prompt, "\n")
	var (
		collecting bool
		out        []string
	)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !collecting {
			if strings.HasPrefix(trimmed, "[1]") {
				collecting = true
			}
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "[") {
			break
		}
		out = append(out, trimmed)
	}
	text := strings.Join(out, " ")
	const maxLen = 300
	if runes := []rune(text); len(runes) > maxLen {
		text = string(runes[:maxLen])
	}
	return text
}

var _ Client = (*StubClient)(nil)
