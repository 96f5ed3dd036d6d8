// Package workspace manages the workspace lifecycle.
//
// Deletion cascades across three backends (vector index, raw storage,
// metadata rows). The cascade runs as a background job and removes the
// workspace row last, so a crash mid-cascade leaves the workspace visible
// and the delete retryable rather than leaving orphaned blobs and vectors.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/apperr"
	"github.com/fyrsmithlabs/docrag/internal/rawstorage"
	"github.com/fyrsmithlabs/docrag/internal/repository"
	"github.com/fyrsmithlabs/docrag/internal/tasks"
	"github.com/fyrsmithlabs/docrag/internal/vectorstore"
)

var tracer = otel.Tracer("docrag/workspace")

const maxNameLen = 128

// Service manages workspaces and their cascading deletion.
type Service struct {
	repo    repository.Repository
	raw     rawstorage.Storage
	vectors vectorstore.Store
	queue   *tasks.Queue
	logger  *zap.Logger
}

// NewService wires the workspace dependencies.
func NewService(
	repo repository.Repository,
	raw rawstorage.Storage,
	vectors vectorstore.Store,
	queue *tasks.Queue,
	logger *zap.Logger,
) *Service {
	return &Service{repo: repo, raw: raw, vectors: vectors, queue: queue, logger: logger}
}

// Create adds a workspace. Names are unique across the service.
func (s *Service) Create(ctx context.Context, name string) (*repository.Workspace, error) {
	ctx, span := tracer.Start(ctx, "workspace.create")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.KindValidation, "workspace name must not be empty")
	}
	if len(name) > maxNameLen {
		return nil, apperr.Newf(apperr.KindValidation, "workspace name exceeds %d characters", maxNameLen)
	}

	w := &repository.Workspace{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateWorkspace(ctx, w); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Newf(apperr.KindConflict, "workspace %q already exists", name)
		}
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	s.logger.Info("workspace created", zap.String("workspace_id", w.ID.String()), zap.String("name", name))
	return w, nil
}

// Get loads one workspace.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*repository.Workspace, error) {
	w, err := s.repo.GetWorkspace(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "workspace not found")
		}
		return nil, err
	}
	return w, nil
}

// List returns all workspaces.
func (s *Service) List(ctx context.Context) ([]repository.Workspace, error) {
	return s.repo.ListWorkspaces(ctx)
}

// Delete verifies the workspace exists and schedules the cascade. The
// workspace stays listed until the cascade's final step removes its row.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "workspace.delete")
	defer span.End()
	span.SetAttributes(attribute.String("workspace.id", id.String()))

	if _, err := s.repo.GetWorkspace(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "workspace not found")
		}
		return err
	}

	err := s.queue.Submit(tasks.Job{
		Name: "workspace-cascade-delete",
		Run: func(ctx context.Context) error {
			return s.cascade(ctx, id)
		},
	})
	if err != nil {
		return err
	}

	s.logger.Info("workspace deletion scheduled", zap.String("workspace_id", id.String()))
	return nil
}

// cascade removes the workspace's data backend by backend. Order matters:
// vectors first so stale chunks can never surface in answers, the workspace
// row last so a partial cascade remains retryable.
func (s *Service) cascade(ctx context.Context, id uuid.UUID) error {
	logger := s.logger.With(zap.String("workspace_id", id.String()))

	if err := s.vectors.DeleteByFilter(ctx, vectorstore.Filter{WorkspaceID: id.String()}); err != nil {
		return fmt.Errorf("deleting workspace vectors: %w", err)
	}
	if err := s.raw.DeletePrefix(ctx, rawstorage.WorkspacePrefix(id.String())); err != nil {
		return fmt.Errorf("deleting workspace files: %w", err)
	}
	if err := s.repo.DeleteWorkspaceData(ctx, id); err != nil {
		return fmt.Errorf("deleting workspace rows: %w", err)
	}
	if err := s.repo.DeleteWorkspace(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("deleting workspace: %w", err)
	}

	logger.Info("workspace deleted")
	return nil
}
