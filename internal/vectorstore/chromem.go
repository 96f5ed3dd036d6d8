package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("docrag.vectorstore.chromem")

// ChromemStore is the embedded local-mode Store.
//
// chromem-go keeps vectors in memory, persists them under a directory, and
// performs brute-force cosine search. No external service is needed.
type ChromemStore struct {
	db         *chromem.DB
	collection string
	path       string
	logger     *zap.Logger
	mu         sync.Mutex
}

// NewChromemStore opens (or creates) the persistent database at path.
func NewChromemStore(path, collection string, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, fmt.Errorf("%w: %q", err, collection)
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening local vector store at %s: %w", path, err)
	}
	return &ChromemStore{
		db:         db,
		collection: collection,
		path:       path,
		logger:     logger,
	}, nil
}

// noEmbedding is installed as the collection's embedding func. Points always
// arrive with precomputed vectors, so chromem must never embed on its own.
func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("vector store does not embed; points carry vectors")
}

func (s *ChromemStore) getCollection() (*chromem.Collection, error) {
	collection, err := s.db.GetOrCreateCollection(s.collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", s.collection, err)
	}
	return collection, nil
}

// dimFile records the collection dimension so restarts with a different
// embedder are caught.
func (s *ChromemStore) dimFile() string {
	return filepath.Join(s.path, s.collection+".dim")
}

// EnsureCollection creates the collection and pins its dimension.
func (s *ChromemStore) EnsureCollection(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getCollection(); err != nil {
		return err
	}

	data, err := os.ReadFile(s.dimFile())
	if errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(s.dimFile(), []byte(strconv.Itoa(dim)), 0o644); err != nil {
			return fmt.Errorf("recording collection dimension: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading collection dimension: %w", err)
	}
	stored, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("corrupt dimension record %q: %w", string(data), err)
	}
	if stored != dim {
		return fmt.Errorf("%w: collection %s has dim %d, embedder has dim %d",
			ErrDimensionMismatch, s.collection, stored, dim)
	}
	return nil
}

// Upsert inserts or replaces points by ID.
func (s *ChromemStore) Upsert(ctx context.Context, points []Point) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("point_count", len(points)))

	if len(points) == 0 {
		return ErrEmptyPoints
	}

	collection, err := s.getCollection()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		docs[i] = chromem.Document{
			ID:        p.ID,
			Content:   p.Payload.Snippet,
			Embedding: p.Vector,
			Metadata:  payloadToMetadata(p.Payload),
		}
	}
	// Concurrency 1: embeddings are precomputed, nothing to parallelize.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding %d points: %w", len(points), err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search performs brute-force cosine search over the filtered points.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]ScoredPoint, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", topK))

	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}

	collection, err := s.getCollection()
	if err != nil {
		return nil, err
	}

	// chromem requires nResults <= stored document count.
	count := collection.Count()
	if count == 0 {
		return []ScoredPoint{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := collection.QueryEmbedding(ctx, vector, topK, filterToWhere(filter), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.collection, err)
	}

	scored := make([]ScoredPoint, len(results))
	for i, r := range results {
		scored[i] = ScoredPoint{
			Score:   r.Similarity,
			Payload: payloadFromResult(r),
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(scored)))
	span.SetStatus(codes.Ok, "success")
	return scored, nil
}

// DeleteByFilter removes every point matching the filter.
func (s *ChromemStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteByFilter")
	defer span.End()

	where := filterToWhere(filter)
	if len(where) == 0 {
		return fmt.Errorf("delete filter cannot be empty")
	}

	collection, err := s.getCollection()
	if err != nil {
		return err
	}
	if collection.Count() == 0 {
		return nil
	}
	if err := collection.Delete(ctx, where, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points: %w", err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Health verifies the persistence directory is accessible.
func (s *ChromemStore) Health(ctx context.Context) error {
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("local vector store unavailable: %w", err)
	}
	return nil
}

// Close is a no-op; chromem persists on write.
func (s *ChromemStore) Close() error { return nil }

func payloadToMetadata(p Payload) map[string]string {
	return map[string]string{
		FieldWorkspaceID:  p.WorkspaceID,
		FieldDocumentID:   p.DocumentID,
		FieldDocumentName: p.DocumentName,
		FieldPageStart:    strconv.Itoa(p.PageStart),
		FieldPageEnd:      strconv.Itoa(p.PageEnd),
	}
}

func payloadFromResult(r chromem.Result) Payload {
	pageStart, _ := strconv.Atoi(r.Metadata[FieldPageStart])
	pageEnd, _ := strconv.Atoi(r.Metadata[FieldPageEnd])
	return Payload{
		WorkspaceID:  r.Metadata[FieldWorkspaceID],
		DocumentID:   r.Metadata[FieldDocumentID],
		DocumentName: r.Metadata[FieldDocumentName],
		PageStart:    pageStart,
		PageEnd:      pageEnd,
		Snippet:      r.Content,
	}
}

func filterToWhere(f Filter) map[string]string {
	where := make(map[string]string, 2)
	if f.WorkspaceID != "" {
		where[FieldWorkspaceID] = f.WorkspaceID
	}
	if f.DocumentID != "" {
		where[FieldDocumentID] = f.DocumentID
	}
	return where
}
