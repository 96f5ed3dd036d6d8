package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/docrag/internal/config"
)

// Tracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("docrag.vectorstore.qdrant")

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
type QdrantStore struct {
	client       *qdrant.Client
	collection   string
	distance     qdrant.Distance
	maxRetries   int
	retryBackoff time.Duration
	logger       *zap.Logger
}

// distanceFromString maps the QDRANT_DISTANCE setting to the gRPC enum.
func distanceFromString(name string) (qdrant.Distance, error) {
	switch name {
	case "", "cosine":
		return qdrant.Distance_Cosine, nil
	case "euclid", "euclidean":
		return qdrant.Distance_Euclid, nil
	case "dot":
		return qdrant.Distance_Dot, nil
	default:
		return 0, fmt.Errorf("%w: unknown distance %q", ErrInvalidConfig, name)
	}
}

// qdrantTarget resolves the gRPC host and port. An explicit QDRANT_HOST wins;
// otherwise QDRANT_URL is parsed, since the gRPC client needs a bare host and
// a URL like http://localhost:6334 would otherwise be dialed verbatim.
func qdrantTarget(cfg config.QdrantConfig) (string, int, error) {
	if cfg.Host != "" {
		return cfg.Host, cfg.Port, nil
	}
	raw := cfg.URL
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", 0, fmt.Errorf("%w: invalid qdrant url %q", ErrInvalidConfig, cfg.URL)
	}
	port := cfg.Port
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("%w: invalid qdrant port %q", ErrInvalidConfig, p)
		}
	}
	return u.Hostname(), port, nil
}

// NewQdrantStore connects to Qdrant over gRPC and verifies reachability.
func NewQdrantStore(ctx context.Context, cfg config.QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, fmt.Errorf("%w: %q", err, cfg.Collection)
	}
	distance, err := distanceFromString(cfg.Distance)
	if err != nil {
		return nil, err
	}

	host, port, err := qdrantTarget(cfg)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{
		client:       client,
		collection:   cfg.Collection,
		distance:     distance,
		maxRetries:   3,
		retryBackoff: time.Second,
		logger:       logger,
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Health(healthCtx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// IsTransientError reports whether a gRPC error should be retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// retryOperation retries a transient failure with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := s.retryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt == s.maxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.maxRetries, err)
		}
		s.logger.Warn("retrying qdrant operation",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// EnsureCollection creates the collection if missing and checks its dimension.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dim int) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", s.collection),
		attribute.Int("dim", dim),
	)

	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		ok, err := s.client.CollectionExists(ctx, s.collection)
		if err != nil {
			return err
		}
		exists = ok
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}

	if !exists {
		err := s.retryOperation(ctx, "create_collection", func() error {
			return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: s.collection,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(dim),
					Distance: s.distance,
				}),
			})
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("creating collection %s: %w", s.collection, err)
		}
		s.logger.Info("created vector collection",
			zap.String("collection", s.collection),
			zap.Int("dim", dim),
		)
		return nil
	}

	var size uint64
	err = s.retryOperation(ctx, "collection_info", func() error {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return err
		}
		if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
			size = params.GetSize()
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("getting collection info for %s: %w", s.collection, err)
	}
	if size != 0 && size != uint64(dim) {
		return fmt.Errorf("%w: collection %s has dim %d, embedder has dim %d",
			ErrDimensionMismatch, s.collection, size, dim)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert inserts or replaces points by ID.
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.Int("point_count", len(points)),
		attribute.String("collection", s.collection),
	)

	if len(points) == 0 {
		return ErrEmptyPoints
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payloadToQdrant(p.Payload),
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         qdrantPoints,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points: %w", len(points), err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns the topK most similar points matching the filter.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int, filter Filter) ([]ScoredPoint, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", s.collection),
		attribute.Int("top_k", topK),
	)

	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", topK)
	}

	var results []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filterToQdrant(filter),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.collection, err)
	}

	scored := make([]ScoredPoint, len(results))
	for i, point := range results {
		scored[i] = ScoredPoint{
			Score:   point.Score,
			Payload: payloadFromQdrant(point.Payload),
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(scored)))
	span.SetStatus(codes.Ok, "success")
	return scored, nil
}

// DeleteByFilter removes every point matching the filter.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteByFilter")
	defer span.End()
	span.SetAttributes(attribute.String("collection", s.collection))

	qf := filterToQdrant(filter)
	if qf == nil {
		return fmt.Errorf("delete filter cannot be empty")
	}

	err := s.retryOperation(ctx, "delete_by_filter", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: qf},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points: %w", err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Health performs a gRPC health check.
func (s *QdrantStore) Health(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func payloadToQdrant(p Payload) map[string]*qdrant.Value {
	return qdrant.NewValueMap(map[string]any{
		FieldWorkspaceID:  p.WorkspaceID,
		FieldDocumentID:   p.DocumentID,
		FieldDocumentName: p.DocumentName,
		FieldPageStart:    int64(p.PageStart),
		FieldPageEnd:      int64(p.PageEnd),
		FieldSnippet:      p.Snippet,
	})
}

func payloadFromQdrant(values map[string]*qdrant.Value) Payload {
	var p Payload
	for key, v := range values {
		switch key {
		case FieldWorkspaceID:
			p.WorkspaceID = v.GetStringValue()
		case FieldDocumentID:
			p.DocumentID = v.GetStringValue()
		case FieldDocumentName:
			p.DocumentName = v.GetStringValue()
		case FieldPageStart:
			p.PageStart = int(v.GetIntegerValue())
		case FieldPageEnd:
			p.PageEnd = int(v.GetIntegerValue())
		case FieldSnippet:
			p.Snippet = v.GetStringValue()
		}
	}
	return p
}

func filterToQdrant(f Filter) *qdrant.Filter {
	var conditions []*qdrant.Condition
	if f.WorkspaceID != "" {
		conditions = append(conditions, qdrant.NewMatch(FieldWorkspaceID, f.WorkspaceID))
	}
	if f.DocumentID != "" {
		conditions = append(conditions, qdrant.NewMatch(FieldDocumentID, f.DocumentID))
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}
