// Package ingest runs the document processing pipeline.
//
// A document moves through extraction, language detection, chunking, and
// embedding. Each stage records a document event with its outcome and
// duration, so /status can show exactly where a document is or where it
// failed. Stage work is idempotent: re-running a document upserts the same
// vector point IDs and replaces the same event rows.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
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

var tracer = otel.Tracer("docrag/ingest")

// langSampleLen caps the text handed to language detection.
const langSampleLen = 4000

// Pipeline processes queued documents into the vector index.
type Pipeline struct {
	repo     repository.Repository
	raw      rawstorage.Storage
	vectors  vectorstore.Store
	embedder embeddings.Embedder
	factory  *extract.Factory
	splitter *chunker.Splitter
	cfg      config.IngestConfig
	logger   *zap.Logger
}

// New wires the pipeline dependencies.
func New(
	repo repository.Repository,
	raw rawstorage.Storage,
	vectors vectorstore.Store,
	embedder embeddings.Embedder,
	factory *extract.Factory,
	splitter *chunker.Splitter,
	cfg config.IngestConfig,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		repo:     repo,
		raw:      raw,
		vectors:  vectors,
		embedder: embedder,
		factory:  factory,
		splitter: splitter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Process runs the full pipeline for one document. On failure the document is
// marked FAILED with the error message; already-indexed vectors are left in
// place because their IDs are stable and a retry overwrites them.
func (p *Pipeline) Process(ctx context.Context, documentID uuid.UUID) error {
	ctx, span := tracer.Start(ctx, "ingest.process")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID.String()))

	logger := p.logger.With(zap.String("document_id", documentID.String()))
	start := time.Now()

	doc, err := p.repo.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}

	if err := p.repo.UpdateDocumentStatus(ctx, doc.ID, repository.StatusProcessing, ""); err != nil {
		return fmt.Errorf("marking document processing: %w", err)
	}

	data, err := p.loadBlob(ctx, doc.RawStoragePath)
	if err != nil {
		return p.fail(ctx, logger, doc, fmt.Errorf("loading raw file: %w", err))
	}

	result, err := p.runExtract(ctx, doc, data)
	if err != nil {
		return p.fail(ctx, logger, doc, err)
	}

	lang := p.runLangDetect(ctx, doc.ID, result.Pages)

	chunks, err := p.runChunking(ctx, doc.ID, result.Pages)
	if err != nil {
		return p.fail(ctx, logger, doc, err)
	}

	if err := p.runEmbedding(ctx, doc, chunks); err != nil {
		return p.fail(ctx, logger, doc, err)
	}

	// Classification is not part of the pipeline; the event records that it
	// was consciously skipped rather than silently absent.
	p.recordSkipped(ctx, doc.ID, repository.StageClassification)

	now := time.Now().UTC()
	doc.PageCount = result.PageCount
	doc.IngestedAt = &now
	if result.Author != "" {
		doc.Author = &result.Author
	}
	doc.CreationDate = result.CreationDate
	if lang != "" {
		doc.DetectedLanguage = &lang
	}
	if err := p.repo.CommitDocument(ctx, doc); err != nil {
		return p.fail(ctx, logger, doc, fmt.Errorf("committing document: %w", err))
	}

	logger.Info("document ingested",
		zap.Int("pages", result.PageCount),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (p *Pipeline) loadBlob(ctx context.Context, path string) ([]byte, error) {
	rc, size, err := p.raw.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	buf := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *Pipeline) runExtract(ctx context.Context, doc *repository.Document, data []byte) (*extract.Result, error) {
	return stage(p, ctx, doc.ID, repository.StageExtracting, func(ctx context.Context) (*extract.Result, error) {
		extractor, err := p.factory.ExtractorFor(doc.MediaType)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnsupportedMedia, "selecting extractor", err)
		}
		result, err := extractor.Extract(ctx, data)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPermanent, "extracting text", err)
		}
		return result, nil
	})
}

// runLangDetect is best effort: a detection failure never fails the document.
func (p *Pipeline) runLangDetect(ctx context.Context, documentID uuid.UUID, pages []extract.Page) string {
	started := time.Now().UTC()
	p.recordStart(ctx, documentID, repository.StageLangDetect, started)

	sample := languageSample(pages)
	if sample == "" {
		p.recordEvent(ctx, documentID, repository.StageLangDetect, repository.EventSkipped, started)
		return ""
	}

	info := whatlanggo.Detect(sample)
	if !info.IsReliable() {
		p.recordEvent(ctx, documentID, repository.StageLangDetect, repository.EventSkipped, started)
		return ""
	}

	p.recordEvent(ctx, documentID, repository.StageLangDetect, repository.EventSuccess, started)
	return info.Lang.Iso6391()
}

func (p *Pipeline) runChunking(ctx context.Context, documentID uuid.UUID, pages []extract.Page) ([]chunker.Chunk, error) {
	return stage(p, ctx, documentID, repository.StageChunking, func(ctx context.Context) ([]chunker.Chunk, error) {
		chunks, err := p.splitter.Split(pages)
		if err != nil {
			if errors.Is(err, chunker.ErrNoChunks) {
				return nil, apperr.Wrap(apperr.KindPermanent, "chunking document", err)
			}
			return nil, err
		}
		return chunks, nil
	})
}

func (p *Pipeline) runEmbedding(ctx context.Context, doc *repository.Document, chunks []chunker.Chunk) error {
	_, err := stage(p, ctx, doc.ID, repository.StageEmbedding, func(ctx context.Context) (struct{}, error) {
		batchSize := p.cfg.EmbedBatchSize
		if batchSize <= 0 {
			batchSize = 32
		}

		for lo := 0; lo < len(chunks); lo += batchSize {
			hi := min(lo+batchSize, len(chunks))
			batch := chunks[lo:hi]

			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}

			var vectors [][]float32
			err := p.retry(ctx, "embed batch", func() error {
				var embErr error
				vectors, embErr = p.embedder.Encode(ctx, texts)
				return embErr
			})
			if err != nil {
				return struct{}{}, fmt.Errorf("embedding chunks %d-%d: %w", lo, hi-1, err)
			}

			points := make([]vectorstore.Point, len(batch))
			for i, c := range batch {
				points[i] = vectorstore.Point{
					ID:     chunker.PointID(doc.ID.String(), c.Index),
					Vector: vectors[i],
					Payload: vectorstore.Payload{
						WorkspaceID:  doc.WorkspaceID.String(),
						DocumentID:   doc.ID.String(),
						DocumentName: doc.DocumentName,
						PageStart:    c.PageStart,
						PageEnd:      c.PageEnd,
						Snippet:      c.Snippet,
					},
				}
			}

			err = p.retry(ctx, "upsert points", func() error {
				return p.vectors.Upsert(ctx, points)
			})
			if err != nil {
				return struct{}{}, fmt.Errorf("indexing chunks %d-%d: %w", lo, hi-1, err)
			}
		}
		return struct{}{}, nil
	})
	return err
}

// stage runs fn between a PROCESSING and a terminal event for the given
// pipeline stage. Each attempt gets a fresh stage timeout; hitting it counts
// as a transient failure, so the attempt is retried up to the configured
// bound as long as the pipeline context itself is still alive.
func stage[T any](p *Pipeline, ctx context.Context, documentID uuid.UUID, st repository.Stage, fn func(context.Context) (T, error)) (T, error) {
	started := time.Now().UTC()
	p.recordStart(ctx, documentID, st, started)

	var out T
	err := p.retry(ctx, string(st), func() error {
		attemptCtx := ctx
		if p.cfg.StageTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.cfg.StageTimeout)
			defer cancel()
		}
		var ferr error
		out, ferr = fn(attemptCtx)
		if ferr != nil && errors.Is(ferr, context.DeadlineExceeded) && ctx.Err() == nil {
			return apperr.Wrap(apperr.KindTransient, "stage timed out", ferr)
		}
		return ferr
	})
	if err != nil {
		p.recordEvent(ctx, documentID, st, repository.EventFailed, started)
		return out, fmt.Errorf("stage %s: %w", st, err)
	}
	p.recordEvent(ctx, documentID, st, repository.EventSuccess, started)
	return out, nil
}

func (p *Pipeline) recordStart(ctx context.Context, documentID uuid.UUID, st repository.Stage, started time.Time) {
	event := &repository.DocumentEvent{
		DocumentID: documentID,
		Stage:      st,
		Status:     repository.EventProcessing,
		StartedAt:  started,
	}
	if err := p.repo.UpsertStageEvent(ctx, event); err != nil {
		p.logger.Warn("recording stage start failed",
			zap.String("stage", string(st)), zap.Error(err))
	}
}

func (p *Pipeline) recordEvent(ctx context.Context, documentID uuid.UUID, st repository.Stage, status repository.EventStatus, started time.Time) {
	finished := time.Now().UTC()
	duration := finished.Sub(started).Milliseconds()
	event := &repository.DocumentEvent{
		DocumentID: documentID,
		Stage:      st,
		Status:     status,
		StartedAt:  started,
		FinishedAt: &finished,
		DurationMS: &duration,
	}
	if err := p.repo.UpsertStageEvent(ctx, event); err != nil {
		p.logger.Warn("recording stage event failed",
			zap.String("stage", string(st)), zap.Error(err))
	}
}

func (p *Pipeline) recordSkipped(ctx context.Context, documentID uuid.UUID, st repository.Stage) {
	p.recordEvent(ctx, documentID, st, repository.EventSkipped, time.Now().UTC())
}

// fail moves the document to FAILED, keeping the error message for /status.
// An unsupported media type also removes the blob: the bytes can never be
// processed, so keeping them only leaks storage.
func (p *Pipeline) fail(ctx context.Context, logger *zap.Logger, doc *repository.Document, cause error) error {
	logger.Error("document ingestion failed", zap.Error(cause))
	if apperr.KindOf(cause) == apperr.KindUnsupportedMedia {
		if err := p.raw.Delete(ctx, doc.RawStoragePath); err != nil {
			logger.Warn("removing unsupported raw file", zap.Error(err))
		}
	}
	if err := p.repo.UpdateDocumentStatus(ctx, doc.ID, repository.StatusFailed, cause.Error()); err != nil {
		logger.Error("marking document failed", zap.Error(err))
	}
	return cause
}

// retry runs op with exponential backoff, retrying transient failures only.
func (p *Pipeline) retry(ctx context.Context, name string, op func() error) error {
	maxRetries := p.cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := p.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("retrying operation",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err = op(); err == nil {
			return nil
		}
		if !apperr.IsTransient(err) {
			return err
		}
	}
	return apperr.Wrap(apperr.KindUnavailable, fmt.Sprintf("%s exhausted retries", name), err)
}

// languageSample concatenates page text up to langSampleLen runes.
func languageSample(pages []extract.Page) string {
	var b bytes.Buffer
	for _, page := range pages {
		if page.Text == "" {
			continue
		}
		b.WriteString(page.Text)
		b.WriteByte(' ')
		if b.Len() >= langSampleLen {
			break
		}
	}
	runes := []rune(b.String())
	if len(runes) > langSampleLen {
		runes = runes[:langSampleLen]
	}
	return string(bytes.TrimSpace([]byte(string(runes))))
}
