// Package chunker splits extracted page text into overlapping segments for
// embedding.
package chunker

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"

	"github.com/fyrsmithlabs/docrag/internal/extract"
)

// ErrNoChunks is returned when a document yields no non-empty chunks.
var ErrNoChunks = errors.New("document yielded no chunks")

// chunkNamespace scopes deterministic chunk point IDs.
var chunkNamespace = uuid.MustParse("e6b7f2a0-41c3-5d18-9f6a-3c8d2b44a01d")

// Chunk is one retrieval unit. Index is global across the document and, with
// the document ID, determines the chunk's vector point ID.
type Chunk struct {
	Index     int
	Text      string
	Snippet   string
	PageStart int
	PageEnd   int
}

// Splitter produces chunks with a recursive character splitter.
type Splitter struct {
	inner      textsplitter.RecursiveCharacter
	snippetLen int
}

// New creates a Splitter with the given chunk size and overlap in characters.
func New(chunkSize, chunkOverlap, snippetLen int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", chunkOverlap, chunkSize)
	}
	if snippetLen <= 0 {
		snippetLen = 500
	}
	return &Splitter{
		inner: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		snippetLen: snippetLen,
	}, nil
}

// Split chunks each page independently, so a chunk's page range is the page
// it came from. Empty pages are skipped; chunk indexes stay contiguous and
// deterministic across re-runs.
func (s *Splitter) Split(pages []extract.Page) ([]Chunk, error) {
	var chunks []Chunk
	index := 0

	for _, page := range pages {
		if page.Text == "" {
			continue
		}
		parts, err := s.inner.SplitText(page.Text)
		if err != nil {
			return nil, fmt.Errorf("splitting page %d: %w", page.Number, err)
		}
		for _, part := range parts {
			if part == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				Index:     index,
				Text:      part,
				Snippet:   truncate(part, s.snippetLen),
				PageStart: page.Number,
				PageEnd:   page.Number,
			})
			index++
		}
	}

	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	return chunks, nil
}

// PointID derives the deterministic vector point ID for a chunk, so
// re-ingesting a document upserts the same points instead of duplicating them.
func PointID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s:%d", documentID, chunkIndex))).String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
