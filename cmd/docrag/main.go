// Docrag is a document ingestion and retrieval-augmented QA service.
//
// Uploaded PDF and DOCX files are extracted, chunked, embedded, and indexed
// per workspace; questions are answered from the indexed chunks with cited
// sources.
//
// Configuration is loaded from environment variables. See internal/config for
// details. With nothing set, the service runs entirely out of local storage
// with embedded adapters:
//
//	# Start with embedded backends under ./local_storage
//	docrag
//
//	# Configure external backends
//	DATABASE_URL=postgres://... QDRANT_URL=http://localhost:6334 docrag
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/chunker"
	"github.com/fyrsmithlabs/docrag/internal/config"
	"github.com/fyrsmithlabs/docrag/internal/embeddings"
	"github.com/fyrsmithlabs/docrag/internal/extract"
	"github.com/fyrsmithlabs/docrag/internal/httpapi"
	"github.com/fyrsmithlabs/docrag/internal/ingest"
	"github.com/fyrsmithlabs/docrag/internal/llm"
	"github.com/fyrsmithlabs/docrag/internal/logging"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/rawstorage"
	"github.com/fyrsmithlabs/docrag/internal/repository"
	"github.com/fyrsmithlabs/docrag/internal/tasks"
	"github.com/fyrsmithlabs/docrag/internal/vectorstore"
	"github.com/fyrsmithlabs/docrag/internal/workspace"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("docrag: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	// Adapters. Each provider picks the external backend when configured and
	// the embedded one otherwise.
	repo, err := repository.New(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	raw, err := rawstorage.New(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}

	embedder, err := embeddings.New(cfg.Embedding, cfg.Ingest.EmbedBatchSize, logger)
	if err != nil {
		return err
	}

	vectors, err := vectorstore.New(ctx, cfg.Qdrant, logger)
	if err != nil {
		return err
	}
	defer vectors.Close()

	// The index dimension is pinned at startup. A changed embedding model is
	// a config error, not something to discover per upload.
	if embedder.Dim() != cfg.Qdrant.VectorSize {
		return fmt.Errorf("embedder dimension %d does not match configured vector size %d",
			embedder.Dim(), cfg.Qdrant.VectorSize)
	}
	if err := vectors.EnsureCollection(ctx, embedder.Dim()); err != nil {
		return fmt.Errorf("ensuring vector collection: %w", err)
	}

	generator, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return err
	}

	splitter, err := chunker.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap, cfg.Ingest.SnippetLen)
	if err != nil {
		return err
	}
	factory := extract.NewFactory()

	// Services.
	queue := tasks.NewQueue(cfg.Ingest.QueueSize, logger)
	pipeline := ingest.New(repo, raw, vectors, embedder, factory, splitter, cfg.Ingest, logger)
	documents := ingest.NewService(repo, raw, vectors, factory, pipeline, queue, logger)
	workspaces := workspace.NewService(repo, raw, vectors, queue, logger)
	engine := rag.NewEngine(repo, vectors, embedder, generator, cfg.RAG, logger)

	queue.Start(cfg.Ingest.Workers)

	server, err := httpapi.NewServer(workspaces, documents, engine, repo, raw, vectors, generator, queue, logger, cfg.Server)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if err := queue.Close(shutdownCtx); err != nil {
		logger.Warn("job queue drained incompletely", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
