package workspace

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/apperr"
	"github.com/fyrsmithlabs/docrag/internal/config"
	"github.com/fyrsmithlabs/docrag/internal/rawstorage"
	"github.com/fyrsmithlabs/docrag/internal/repository"
	"github.com/fyrsmithlabs/docrag/internal/tasks"
	"github.com/fyrsmithlabs/docrag/internal/vectorstore"
)

type serviceEnv struct {
	repo    *repository.SQLRepository
	raw     rawstorage.Storage
	vectors vectorstore.Store
	queue   *tasks.Queue
	service *Service
}

func newServiceEnv(t *testing.T) *serviceEnv {
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
	require.NoError(t, vectors.EnsureCollection(ctx, 4))

	queue := tasks.NewQueue(8, logger)
	queue.Start(1)
	t.Cleanup(func() { _ = queue.Close(context.Background()) })

	return &serviceEnv{
		repo:    repo,
		raw:     raw,
		vectors: vectors,
		queue:   queue,
		service: NewService(repo, raw, vectors, queue, logger),
	}
}

func TestCreateWorkspace(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	w, err := env.service.Create(ctx, "  research  ")
	require.NoError(t, err)
	assert.Equal(t, "research", w.Name, "names are trimmed")
	assert.NotEqual(t, uuid.Nil, w.ID)

	got, err := env.service.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
}

func TestCreateWorkspaceValidation(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	_, err := env.service.Create(ctx, "")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = env.service.Create(ctx, "   ")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	_, err = env.service.Create(ctx, string(long))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestCreateWorkspaceConflict(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	_, err := env.service.Create(ctx, "research")
	require.NoError(t, err)

	_, err = env.service.Create(ctx, "research")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestDeleteWorkspaceNotFound(t *testing.T) {
	env := newServiceEnv(t)
	err := env.service.Delete(context.Background(), uuid.New())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestDeleteWorkspaceCascades(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	w, err := env.service.Create(ctx, "doomed")
	require.NoError(t, err)
	keep, err := env.service.Create(ctx, "kept")
	require.NoError(t, err)

	// Seed every backend with workspace-owned data.
	docID := uuid.New()
	blobPath := rawstorage.BlobPath(w.ID.String(), docID.String(), "doc.pdf")
	require.NoError(t, env.raw.Put(ctx, blobPath, bytes.NewReader([]byte("pdf bytes")), 9))

	keepPath := rawstorage.BlobPath(keep.ID.String(), uuid.NewString(), "keep.pdf")
	require.NoError(t, env.raw.Put(ctx, keepPath, bytes.NewReader([]byte("keep")), 4))

	require.NoError(t, env.repo.CreateDocument(ctx, &repository.Document{
		ID: docID, WorkspaceID: w.ID, DocumentName: "doc.pdf", MediaType: "application/pdf",
		SHA256: "ff", RawStoragePath: blobPath, Status: repository.StatusSuccess,
		CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, env.vectors.Upsert(ctx, []vectorstore.Point{{
		ID:     uuid.NewString(),
		Vector: []float32{1, 0, 0, 0},
		Payload: vectorstore.Payload{
			WorkspaceID: w.ID.String(), DocumentID: docID.String(),
			DocumentName: "doc.pdf", PageStart: 1, PageEnd: 1, Snippet: "s",
		},
	}}))

	require.NoError(t, env.service.Delete(ctx, w.ID))

	// The cascade runs on the queue; wait for it to finish.
	require.Eventually(t, func() bool {
		_, err := env.repo.GetWorkspace(ctx, w.ID)
		return err != nil
	}, 5*time.Second, 10*time.Millisecond, "workspace row disappears last")

	exists, err := env.raw.Exists(ctx, blobPath)
	require.NoError(t, err)
	assert.False(t, exists, "blobs are removed")

	keptExists, err := env.raw.Exists(ctx, keepPath)
	require.NoError(t, err)
	assert.True(t, keptExists, "other workspaces keep their files")

	hits, err := env.vectors.Search(ctx, []float32{1, 0, 0, 0}, 5, vectorstore.Filter{WorkspaceID: w.ID.String()})
	require.NoError(t, err)
	assert.Empty(t, hits, "vectors are removed")

	_, err = env.service.Get(ctx, keep.ID)
	assert.NoError(t, err, "other workspaces survive")
}
