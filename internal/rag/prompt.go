package rag

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/docrag/internal/repository"
	"github.com/fyrsmithlabs/docrag/internal/vectorstore"
)

const systemInstruction = `You are a helpful assistant answering questions about the user's documents.
Answer using only the numbered context passages below. If the passages do not
contain the answer, say so. Cite passages by their number.`

// BuildPrompt assembles the generation prompt: instruction, numbered context
// passages, recent conversation turns, then the question.
func BuildPrompt(passages []vectorstore.ScoredPoint, history []repository.ChatMessage, question string) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\nContext passages:\n")

	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s (pages %d-%d)\n", i+1, p.Payload.DocumentName, p.Payload.PageStart, p.Payload.PageEnd)
		b.WriteString(p.Payload.Snippet)
		b.WriteString("\n\n")
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\nAnswer:")
	return b.String()
}
