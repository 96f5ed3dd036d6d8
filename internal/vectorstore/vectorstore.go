// Package vectorstore defines the ANN index adapter used for chunk retrieval.
package vectorstore

import (
	"context"
	"errors"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when the collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid vector store configuration")

	// ErrDimensionMismatch is returned when the collection dimension does not
	// equal the embedder's output dimension. This is startup-fatal.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrConnectionFailed indicates the backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrEmptyPoints indicates an upsert with no points.
	ErrEmptyPoints = errors.New("no points to upsert")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Payload field keys as stored in the index.
const (
	FieldWorkspaceID  = "workspace_id"
	FieldDocumentID   = "document_id"
	FieldDocumentName = "document_name"
	FieldPageStart    = "page_start"
	FieldPageEnd      = "page_end"
	FieldSnippet      = "snippet"
)

// Payload is the metadata carried by every indexed vector. WorkspaceID is
// always present so searches can be filtered to a workspace.
type Payload struct {
	WorkspaceID  string `json:"workspace_id"`
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	PageStart    int    `json:"page_start"`
	PageEnd      int    `json:"page_end"`
	Snippet      string `json:"snippet"`
}

// Point is one vector plus payload. IDs are UUID strings derived
// deterministically from (document_id, chunk_index) so re-runs converge.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Filter restricts search and delete to payload equality matches.
// Zero-value fields are not applied; WorkspaceID is required for Search.
type Filter struct {
	WorkspaceID string
	DocumentID  string
}

// ScoredPoint is a search hit ordered by decreasing similarity.
type ScoredPoint struct {
	Score   float32
	Payload Payload
}

// Store is the vector index adapter contract.
//
// Implementations must be safe for concurrent callers. Upserts with the same
// point ID are idempotent; concurrent retries converge on one copy.
type Store interface {
	// EnsureCollection creates the collection if missing and verifies its
	// dimension equals dim, returning ErrDimensionMismatch otherwise.
	EnsureCollection(ctx context.Context, dim int) error

	// Upsert inserts or replaces points by ID.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to topK points matching the filter, ordered by
	// decreasing similarity.
	Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]ScoredPoint, error)

	// DeleteByFilter removes every point matching the filter.
	DeleteByFilter(ctx context.Context, filter Filter) error

	// Health checks backend reachability.
	Health(ctx context.Context) error

	// Close releases backend connections.
	Close() error
}

// collectionNamePattern validates collection names: lowercase letters,
// numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName rejects names outside ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return ErrInvalidCollectionName
	}
	return nil
}
