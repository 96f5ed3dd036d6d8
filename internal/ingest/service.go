package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/apperr"
	"github.com/fyrsmithlabs/docrag/internal/extract"
	"github.com/fyrsmithlabs/docrag/internal/rawstorage"
	"github.com/fyrsmithlabs/docrag/internal/repository"
	"github.com/fyrsmithlabs/docrag/internal/tasks"
	"github.com/fyrsmithlabs/docrag/internal/vectorstore"
)

// UploadRequest is one accepted multipart file.
type UploadRequest struct {
	WorkspaceID uuid.UUID
	Filename    string
	Data        []byte
}

// DocumentStatus is a document plus its per-stage pipeline events.
type DocumentStatus struct {
	Document *repository.Document       `json:"document"`
	Events   []repository.DocumentEvent `json:"events"`
}

// Service owns the document lifecycle around the pipeline: intake, status,
// download, and removal.
type Service struct {
	repo     repository.Repository
	raw      rawstorage.Storage
	vectors  vectorstore.Store
	factory  *extract.Factory
	pipeline *Pipeline
	queue    *tasks.Queue
	logger   *zap.Logger
}

// NewService wires the document lifecycle dependencies.
func NewService(
	repo repository.Repository,
	raw rawstorage.Storage,
	vectors vectorstore.Store,
	factory *extract.Factory,
	pipeline *Pipeline,
	queue *tasks.Queue,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:     repo,
		raw:      raw,
		vectors:  vectors,
		factory:  factory,
		pipeline: pipeline,
		queue:    queue,
		logger:   logger,
	}
}

// Upload accepts a file, stores the raw bytes, registers the document, and
// queues it for processing. A saturated queue rolls the upload back so the
// client can retry the whole request.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*repository.Document, error) {
	ctx, span := tracer.Start(ctx, "ingest.upload")
	defer span.End()
	span.SetAttributes(attribute.String("workspace.id", req.WorkspaceID.String()))

	if _, err := s.repo.GetWorkspace(ctx, req.WorkspaceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "workspace not found")
		}
		return nil, err
	}
	if len(req.Data) == 0 {
		return nil, apperr.New(apperr.KindValidation, "uploaded file is empty")
	}

	filename := rawstorage.SanitizeFilename(req.Filename)
	if filename == "" {
		return nil, apperr.New(apperr.KindValidation, "filename must not be empty")
	}

	mime := s.factory.DetectMIME(req.Data)
	if !s.factory.Supported(mime) {
		return nil, apperr.Newf(apperr.KindUnsupportedMedia, "unsupported media type %s", mime)
	}

	digest := sha256.Sum256(req.Data)
	docID := uuid.New()
	path := rawstorage.BlobPath(req.WorkspaceID.String(), docID.String(), filename)

	doc := &repository.Document{
		ID:             docID,
		WorkspaceID:    req.WorkspaceID,
		DocumentName:   filename,
		MediaType:      mime,
		SHA256:         hex.EncodeToString(digest[:]),
		RawStoragePath: path,
		SizeBytes:      int64(len(req.Data)),
		Status:         repository.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("registering document: %w", err)
	}

	if err := s.raw.Put(ctx, path, bytes.NewReader(req.Data), doc.SizeBytes); err != nil {
		s.rollbackUpload(ctx, doc, false)
		return nil, fmt.Errorf("storing raw file: %w", err)
	}

	if err := s.repo.UpdateDocumentStatus(ctx, docID, repository.StatusQueued, ""); err != nil {
		s.rollbackUpload(ctx, doc, true)
		return nil, fmt.Errorf("queueing document: %w", err)
	}

	err := s.queue.Submit(tasks.Job{
		Name: "ingest-document",
		Run: func(ctx context.Context) error {
			return s.pipeline.Process(ctx, docID)
		},
	})
	if err != nil {
		s.rollbackUpload(ctx, doc, true)
		return nil, err
	}

	s.logger.Info("document accepted",
		zap.String("document_id", docID.String()),
		zap.String("workspace_id", req.WorkspaceID.String()),
		zap.String("media_type", mime),
		zap.Int64("size_bytes", doc.SizeBytes))
	doc.Status = repository.StatusQueued
	return doc, nil
}

// rollbackUpload undoes a failed intake so a retry starts clean.
func (s *Service) rollbackUpload(ctx context.Context, doc *repository.Document, blobStored bool) {
	if blobStored {
		if err := s.raw.Delete(ctx, doc.RawStoragePath); err != nil {
			s.logger.Warn("rollback: deleting blob failed",
				zap.String("document_id", doc.ID.String()), zap.Error(err))
		}
	}
	if err := s.repo.DeleteDocument(ctx, doc.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("rollback: deleting document row failed",
			zap.String("document_id", doc.ID.String()), zap.Error(err))
	}
}

// List returns the workspace's documents.
func (s *Service) List(ctx context.Context, workspaceID uuid.UUID) ([]repository.Document, error) {
	if _, err := s.repo.GetWorkspace(ctx, workspaceID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "workspace not found")
		}
		return nil, err
	}
	return s.repo.ListDocumentsByWorkspace(ctx, workspaceID)
}

// Status returns the document and its pipeline events.
func (s *Service) Status(ctx context.Context, documentID uuid.UUID) (*DocumentStatus, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListStageEvents(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &DocumentStatus{Document: doc, Events: events}, nil
}

// Download opens the original uploaded bytes. The caller closes the reader.
func (s *Service) Download(ctx context.Context, documentID uuid.UUID) (*repository.Document, io.ReadCloser, int64, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return nil, nil, 0, err
	}
	rc, size, err := s.raw.Get(ctx, doc.RawStoragePath)
	if err != nil {
		if errors.Is(err, rawstorage.ErrNotFound) {
			return nil, nil, 0, apperr.New(apperr.KindNotFound, "document file not found")
		}
		return nil, nil, 0, fmt.Errorf("opening raw file: %w", err)
	}
	return doc, rc, size, nil
}

// Delete removes one document from every backend: vectors, blob, then rows.
func (s *Service) Delete(ctx context.Context, documentID uuid.UUID) error {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return err
	}

	filter := vectorstore.Filter{
		WorkspaceID: doc.WorkspaceID.String(),
		DocumentID:  doc.ID.String(),
	}
	if err := s.vectors.DeleteByFilter(ctx, filter); err != nil {
		return fmt.Errorf("deleting document vectors: %w", err)
	}
	if err := s.raw.Delete(ctx, doc.RawStoragePath); err != nil {
		return fmt.Errorf("deleting raw file: %w", err)
	}
	if err := s.repo.DeleteDocument(ctx, documentID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("deleting document: %w", err)
	}

	s.logger.Info("document deleted", zap.String("document_id", documentID.String()))
	return nil
}

func (s *Service) getDocument(ctx context.Context, documentID uuid.UUID) (*repository.Document, error) {
	doc, err := s.repo.GetDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "document not found")
		}
		return nil, err
	}
	return doc, nil
}
