package ingest

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/apperr"
	"github.com/fyrsmithlabs/docrag/internal/chunker"
	"github.com/fyrsmithlabs/docrag/internal/config"
	"github.com/fyrsmithlabs/docrag/internal/embeddings"
	"github.com/fyrsmithlabs/docrag/internal/extract"
	"github.com/fyrsmithlabs/docrag/internal/rawstorage"
	"github.com/fyrsmithlabs/docrag/internal/repository"
	"github.com/fyrsmithlabs/docrag/internal/vectorstore"
)

const testDim = 16

// textExtractor turns plain bytes into one page per blank-line-separated
// block, standing in for the real parsers.
type textExtractor struct{}

func (textExtractor) Extract(_ context.Context, data []byte) (*extract.Result, error) {
	blocks := strings.Split(string(data), "\n\n")
	result := &extract.Result{}
	for i, block := range blocks {
		result.Pages = append(result.Pages, extract.Page{Number: i + 1, Text: strings.TrimSpace(block)})
	}
	result.PageCount = len(result.Pages)
	result.Author = "Test Author"
	return result, nil
}

// flakyEmbedder fails its first n Encode calls with a transient error.
type flakyEmbedder struct {
	embeddings.Embedder
	failures int
}

func (f *flakyEmbedder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failures > 0 {
		f.failures--
		return nil, apperr.New(apperr.KindTransient, "embedding backend hiccup")
	}
	return f.Embedder.Encode(ctx, texts)
}

type pipelineEnv struct {
	repo     *repository.SQLRepository
	raw      rawstorage.Storage
	vectors  vectorstore.Store
	pipeline *Pipeline
}

func newPipelineEnv(t *testing.T, embedder embeddings.Embedder) *pipelineEnv {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	repo, err := repository.New(ctx, config.DatabaseConfig{LocalDir: t.TempDir()}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	raw, err := rawstorage.NewFilesystemStorage(t.TempDir(), logger)
	require.NoError(t, err)

	vectors, err := vectorstore.NewChromemStore(t.TempDir(), "test_chunks", logger)
	require.NoError(t, err)
	require.NoError(t, vectors.EnsureCollection(ctx, testDim))

	if embedder == nil {
		embedder, err = embeddings.NewHashEmbedder(testDim)
		require.NoError(t, err)
	}

	splitter, err := chunker.New(80, 10, 60)
	require.NoError(t, err)

	factory := extract.NewFactory()
	factory.Register("text/plain", func() extract.Extractor { return textExtractor{} })

	cfg := config.IngestConfig{
		ChunkSize:      80,
		ChunkOverlap:   10,
		SnippetLen:     60,
		EmbedBatchSize: 2,
		MaxRetries:     3,
		RetryBackoff:   time.Millisecond,
		StageTimeout:   30 * time.Second,
	}

	return &pipelineEnv{
		repo:     repo,
		raw:      raw,
		vectors:  vectors,
		pipeline: New(repo, raw, vectors, embedder, factory, splitter, cfg, logger),
	}
}

// seedDocument registers a text document and stores its blob.
func (env *pipelineEnv) seedDocument(t *testing.T, content, mediaType string) *repository.Document {
	t.Helper()
	ctx := context.Background()

	w := &repository.Workspace{ID: uuid.New(), Name: "ws-" + uuid.NewString(), CreatedAt: time.Now().UTC()}
	require.NoError(t, env.repo.CreateWorkspace(ctx, w))

	docID := uuid.New()
	path := rawstorage.BlobPath(w.ID.String(), docID.String(), "doc.txt")
	require.NoError(t, env.raw.Put(ctx, path, bytes.NewReader([]byte(content)), int64(len(content))))

	doc := &repository.Document{
		ID:             docID,
		WorkspaceID:    w.ID,
		DocumentName:   "doc.txt",
		MediaType:      mediaType,
		SHA256:         "cafe",
		RawStoragePath: path,
		SizeBytes:      int64(len(content)),
		Status:         repository.StatusQueued,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, env.repo.CreateDocument(ctx, doc))
	return doc
}

const englishText = `The committee approved the annual budget after a long debate.
Revenue projections for the next fiscal year remain optimistic.

The second page describes the implementation timeline in detail.
Milestones are scheduled quarterly and reviewed by the board.`

func TestPipelineHappyPath(t *testing.T) {
	env := newPipelineEnv(t, nil)
	ctx := context.Background()

	doc := env.seedDocument(t, englishText, "text/plain")
	require.NoError(t, env.pipeline.Process(ctx, doc.ID))

	got, err := env.repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusSuccess, got.Status)
	assert.Equal(t, 2, got.PageCount)
	assert.Nil(t, got.ErrorMessage)
	require.NotNil(t, got.IngestedAt)
	require.NotNil(t, got.Author)
	assert.Equal(t, "Test Author", *got.Author)
	require.NotNil(t, got.DetectedLanguage)
	assert.Equal(t, "en", *got.DetectedLanguage)

	events, err := env.repo.ListStageEvents(ctx, doc.ID)
	require.NoError(t, err)

	byStage := map[repository.Stage]repository.DocumentEvent{}
	for _, e := range events {
		byStage[e.Stage] = e
	}
	assert.Equal(t, repository.EventSuccess, byStage[repository.StageExtracting].Status)
	assert.Equal(t, repository.EventSuccess, byStage[repository.StageLangDetect].Status)
	assert.Equal(t, repository.EventSuccess, byStage[repository.StageChunking].Status)
	assert.Equal(t, repository.EventSuccess, byStage[repository.StageEmbedding].Status)
	assert.Equal(t, repository.EventSkipped, byStage[repository.StageClassification].Status)
	require.NotNil(t, byStage[repository.StageEmbedding].DurationMS)

	// The chunks are retrievable and scoped to the workspace.
	embedder, err := embeddings.NewHashEmbedder(testDim)
	require.NoError(t, err)
	query, err := embedder.EncodeQuery(ctx, "budget debate")
	require.NoError(t, err)

	hits, err := env.vectors.Search(ctx, query, 10, vectorstore.Filter{WorkspaceID: doc.WorkspaceID.String()})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, doc.ID.String(), h.Payload.DocumentID)
		assert.Equal(t, "doc.txt", h.Payload.DocumentName)
		assert.GreaterOrEqual(t, h.Payload.PageStart, 1)
	}
}

func TestPipelineUnsupportedMedia(t *testing.T) {
	env := newPipelineEnv(t, nil)
	ctx := context.Background()

	doc := env.seedDocument(t, "binary garbage", "application/zip")
	err := env.pipeline.Process(ctx, doc.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindUnsupportedMedia))

	got, err := env.repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "unsupported")

	events, err := env.repo.ListStageEvents(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, repository.StageExtracting, events[0].Stage)
	assert.Equal(t, repository.EventFailed, events[0].Status)

	// The bytes can never be processed, so the blob is removed.
	_, _, err = env.raw.Get(ctx, doc.RawStoragePath)
	assert.ErrorIs(t, err, rawstorage.ErrNotFound)
}

func TestPipelineEmptyDocument(t *testing.T) {
	env := newPipelineEnv(t, nil)
	ctx := context.Background()

	doc := env.seedDocument(t, "   ", "text/plain")
	err := env.pipeline.Process(ctx, doc.ID)
	require.Error(t, err)

	got, err := env.repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, got.Status)

	// Other failure kinds keep the blob so the document can be reprocessed.
	rc, _, err := env.raw.Get(ctx, doc.RawStoragePath)
	require.NoError(t, err)
	rc.Close()
}

// slowOnceExtractor blocks until the stage deadline on its first call and
// behaves like textExtractor afterwards.
type slowOnceExtractor struct {
	mu    sync.Mutex
	calls int
}

func (e *slowOnceExtractor) Extract(ctx context.Context, data []byte) (*extract.Result, error) {
	e.mu.Lock()
	e.calls++
	first := e.calls == 1
	e.mu.Unlock()
	if first {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return textExtractor{}.Extract(ctx, data)
}

func TestPipelineRetriesStageTimeout(t *testing.T) {
	env := newPipelineEnv(t, nil)
	ctx := context.Background()

	slow := &slowOnceExtractor{}
	factory := extract.NewFactory()
	factory.Register("text/plain", func() extract.Extractor { return slow })

	splitter, err := chunker.New(80, 10, 60)
	require.NoError(t, err)
	embedder, err := embeddings.NewHashEmbedder(testDim)
	require.NoError(t, err)

	cfg := config.IngestConfig{
		ChunkSize:      80,
		ChunkOverlap:   10,
		SnippetLen:     60,
		EmbedBatchSize: 2,
		MaxRetries:     2,
		RetryBackoff:   time.Millisecond,
		StageTimeout:   50 * time.Millisecond,
	}
	p := New(env.repo, env.raw, env.vectors, embedder, factory, splitter, cfg, zap.NewNop())

	doc := env.seedDocument(t, englishText, "text/plain")
	require.NoError(t, p.Process(ctx, doc.ID))

	slow.mu.Lock()
	calls := slow.calls
	slow.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 2, "timed-out attempt is retried")

	got, err := env.repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusSuccess, got.Status)
}

// stageEventRecorder captures every stage event written during a run.
type stageEventRecorder struct {
	repository.Repository
	mu     sync.Mutex
	events []repository.DocumentEvent
}

func (r *stageEventRecorder) UpsertStageEvent(ctx context.Context, event *repository.DocumentEvent) error {
	r.mu.Lock()
	r.events = append(r.events, *event)
	r.mu.Unlock()
	return r.Repository.UpsertStageEvent(ctx, event)
}

func TestPipelineRecordsEntryEvents(t *testing.T) {
	env := newPipelineEnv(t, nil)
	ctx := context.Background()

	recorder := &stageEventRecorder{Repository: env.repo}
	splitter, err := chunker.New(80, 10, 60)
	require.NoError(t, err)
	embedder, err := embeddings.NewHashEmbedder(testDim)
	require.NoError(t, err)
	factory := extract.NewFactory()
	factory.Register("text/plain", func() extract.Extractor { return textExtractor{} })

	cfg := config.IngestConfig{
		ChunkSize:      80,
		ChunkOverlap:   10,
		SnippetLen:     60,
		EmbedBatchSize: 2,
		MaxRetries:     1,
		RetryBackoff:   time.Millisecond,
		StageTimeout:   30 * time.Second,
	}
	p := New(recorder, env.raw, env.vectors, embedder, factory, splitter, cfg, zap.NewNop())

	doc := env.seedDocument(t, englishText, "text/plain")
	require.NoError(t, p.Process(ctx, doc.ID))

	first := map[repository.Stage]repository.EventStatus{}
	recorder.mu.Lock()
	for _, e := range recorder.events {
		if _, ok := first[e.Stage]; !ok {
			first[e.Stage] = e.Status
		}
	}
	recorder.mu.Unlock()

	// Every executed stage announces itself before its terminal event.
	for _, st := range []repository.Stage{
		repository.StageExtracting,
		repository.StageLangDetect,
		repository.StageChunking,
		repository.StageEmbedding,
	} {
		assert.Equal(t, repository.EventProcessing, first[st], string(st))
	}
	assert.Equal(t, repository.EventSkipped, first[repository.StageClassification])
}

func TestPipelineRetriesTransientEmbedding(t *testing.T) {
	base, err := embeddings.NewHashEmbedder(testDim)
	require.NoError(t, err)
	flaky := &flakyEmbedder{Embedder: base, failures: 2}

	env := newPipelineEnv(t, flaky)
	ctx := context.Background()

	doc := env.seedDocument(t, englishText, "text/plain")
	require.NoError(t, env.pipeline.Process(ctx, doc.ID), "transient failures are retried")

	got, err := env.repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusSuccess, got.Status)
	assert.Zero(t, flaky.failures, "the flaky calls were consumed")
}

func TestPipelineExhaustsRetries(t *testing.T) {
	base, err := embeddings.NewHashEmbedder(testDim)
	require.NoError(t, err)
	flaky := &flakyEmbedder{Embedder: base, failures: 100}

	env := newPipelineEnv(t, flaky)
	ctx := context.Background()

	doc := env.seedDocument(t, englishText, "text/plain")
	err = env.pipeline.Process(ctx, doc.ID)
	require.Error(t, err)

	got, err := env.repo.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusFailed, got.Status)
}

func TestPipelineReprocessConverges(t *testing.T) {
	env := newPipelineEnv(t, nil)
	ctx := context.Background()

	doc := env.seedDocument(t, englishText, "text/plain")
	require.NoError(t, env.pipeline.Process(ctx, doc.ID))

	embedder, err := embeddings.NewHashEmbedder(testDim)
	require.NoError(t, err)
	query, err := embedder.EncodeQuery(ctx, "budget")
	require.NoError(t, err)

	first, err := env.vectors.Search(ctx, query, 100, vectorstore.Filter{WorkspaceID: doc.WorkspaceID.String()})
	require.NoError(t, err)

	// A second run upserts the same deterministic point IDs.
	require.NoError(t, env.pipeline.Process(ctx, doc.ID))
	second, err := env.vectors.Search(ctx, query, 100, vectorstore.Filter{WorkspaceID: doc.WorkspaceID.String()})
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second), "re-ingestion does not duplicate points")
}

