// Package rag answers questions over a workspace's indexed documents.
//
// Ask embeds the question, retrieves the closest chunks scoped to the
// workspace, builds a prompt with recent conversation history, and persists
// the exchange as an ordered pair of chat messages plus the retrieval sources
// that grounded the answer.
package rag

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
	"github.com/fyrsmithlabs/docrag/internal/config"
	"github.com/fyrsmithlabs/docrag/internal/embeddings"
	"github.com/fyrsmithlabs/docrag/internal/llm"
	"github.com/fyrsmithlabs/docrag/internal/repository"
	"github.com/fyrsmithlabs/docrag/internal/vectorstore"
)

var tracer = otel.Tracer("docrag/rag")

// NoDocumentsAnswer is returned, without invoking the model, when the
// workspace has nothing indexed to retrieve from.
const NoDocumentsAnswer = "No documents found in this workspace. Upload documents before asking questions."

// AskRequest is one question against a workspace.
type AskRequest struct {
	WorkspaceID uuid.UUID
	SessionID   *uuid.UUID
	Question    string
	TopK        int
}

// AskResponse is the generated answer plus its grounding.
type AskResponse struct {
	SessionID uuid.UUID                  `json:"session_id"`
	Answer    string                     `json:"answer"`
	Sources   []repository.MessageSource `json:"sources"`
}

// MessageWithSources is one chat turn with, for assistant turns, the
// retrieval sources that grounded it.
type MessageWithSources struct {
	repository.ChatMessage
	Sources []repository.MessageSource `json:"sources,omitempty"`
}

// Engine runs retrieval-augmented question answering.
type Engine struct {
	repo     repository.Repository
	vectors  vectorstore.Store
	embedder embeddings.Embedder
	llm      llm.Client
	cfg      config.RAGConfig
	logger   *zap.Logger
}

// NewEngine wires the retrieval dependencies.
func NewEngine(
	repo repository.Repository,
	vectors vectorstore.Store,
	embedder embeddings.Embedder,
	client llm.Client,
	cfg config.RAGConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		repo:     repo,
		vectors:  vectors,
		embedder: embedder,
		llm:      client,
		cfg:      cfg,
		logger:   logger,
	}
}

// Ask answers a question against the workspace's documents, creating a new
// session when none is given. The user and assistant messages are committed
// in one transaction, with the user message strictly earlier.
func (e *Engine) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	ctx, span := tracer.Start(ctx, "rag.ask")
	defer span.End()
	span.SetAttributes(attribute.String("workspace.id", req.WorkspaceID.String()))

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, apperr.New(apperr.KindValidation, "question must not be empty")
	}

	if _, err := e.repo.GetWorkspace(ctx, req.WorkspaceID); err != nil {
		return nil, mapRepoErr(err, "workspace")
	}

	session, err := e.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = e.cfg.TopKDefault
	}

	hits, err := e.retrieve(ctx, req.WorkspaceID, question, topK)
	if err != nil {
		return nil, err
	}

	var answer string
	if len(hits) == 0 {
		answer = NoDocumentsAnswer
	} else {
		history, err := e.repo.RecentMessages(ctx, session.ID, e.cfg.HistoryN)
		if err != nil {
			return nil, fmt.Errorf("loading history: %w", err)
		}
		prompt := BuildPrompt(hits, history, question)
		answer, err = e.llm.Generate(ctx, prompt, llm.Options{})
		if err != nil {
			return nil, fmt.Errorf("generating answer: %w", err)
		}
	}

	sources, err := e.persistExchange(ctx, session.ID, question, answer, hits)
	if err != nil {
		return nil, err
	}

	e.logger.Info("question answered",
		zap.String("workspace_id", req.WorkspaceID.String()),
		zap.String("session_id", session.ID.String()),
		zap.Int("sources", len(sources)))

	return &AskResponse{SessionID: session.ID, Answer: answer, Sources: sources}, nil
}

// resolveSession loads and validates the given session, or creates one.
func (e *Engine) resolveSession(ctx context.Context, req AskRequest) (*repository.ChatSession, error) {
	if req.SessionID == nil {
		session := &repository.ChatSession{
			ID:          uuid.New(),
			WorkspaceID: req.WorkspaceID,
			CreatedAt:   time.Now().UTC(),
		}
		if err := e.repo.CreateSession(ctx, session); err != nil {
			return nil, fmt.Errorf("creating session: %w", err)
		}
		return session, nil
	}

	session, err := e.repo.GetSession(ctx, *req.SessionID)
	if err != nil {
		return nil, mapRepoErr(err, "session")
	}
	// A session from another workspace is indistinguishable from a missing
	// one to the caller.
	if session.WorkspaceID != req.WorkspaceID {
		return nil, apperr.New(apperr.KindNotFound, "session not found in workspace")
	}
	return session, nil
}

// retrieve embeds the question and returns workspace-scoped hits, deduplicated
// by (document, page range) keeping the best score.
func (e *Engine) retrieve(ctx context.Context, workspaceID uuid.UUID, question string, topK int) ([]vectorstore.ScoredPoint, error) {
	vector, err := e.embedder.EncodeQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	hits, err := e.vectors.Search(ctx, vector, topK, vectorstore.Filter{
		WorkspaceID: workspaceID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	// Hits arrive best first, so the first occurrence of a page range wins.
	type rangeKey struct {
		doc        string
		start, end int
	}
	seen := make(map[rangeKey]struct{}, len(hits))
	deduped := hits[:0]
	for _, h := range hits {
		key := rangeKey{h.Payload.DocumentID, h.Payload.PageStart, h.Payload.PageEnd}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, h)
	}
	return deduped, nil
}

// persistExchange writes both chat turns and the assistant's sources in one
// transaction. The assistant timestamp is nudged forward so ordering by
// created_at always puts the question first.
func (e *Engine) persistExchange(ctx context.Context, sessionID uuid.UUID, question, answer string, hits []vectorstore.ScoredPoint) ([]repository.MessageSource, error) {
	userAt := time.Now().UTC()
	assistantAt := userAt.Add(time.Millisecond)
	assistantID := uuid.New()

	sources := make([]repository.MessageSource, 0, len(hits))
	for _, h := range hits {
		docID, err := uuid.Parse(h.Payload.DocumentID)
		if err != nil {
			e.logger.Warn("skipping source with malformed document id",
				zap.String("document_id", h.Payload.DocumentID))
			continue
		}
		sources = append(sources, repository.MessageSource{
			ID:           uuid.New(),
			MessageID:    assistantID,
			SourceID:     docID,
			DocumentName: h.Payload.DocumentName,
			PageStart:    h.Payload.PageStart,
			PageEnd:      h.Payload.PageEnd,
			Snippet:      h.Payload.Snippet,
		})
	}

	err := e.repo.WithTx(ctx, func(tx repository.Repository) error {
		if err := tx.CreateMessage(ctx, &repository.ChatMessage{
			ID:        uuid.New(),
			SessionID: sessionID,
			Role:      repository.RoleUser,
			Content:   question,
			CreatedAt: userAt,
		}); err != nil {
			return fmt.Errorf("storing user message: %w", err)
		}
		if err := tx.CreateMessage(ctx, &repository.ChatMessage{
			ID:        assistantID,
			SessionID: sessionID,
			Role:      repository.RoleAssistant,
			Content:   answer,
			CreatedAt: assistantAt,
		}); err != nil {
			return fmt.Errorf("storing assistant message: %w", err)
		}
		if len(sources) > 0 {
			if err := tx.CreateMessageSources(ctx, sources); err != nil {
				return fmt.Errorf("storing message sources: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// Sessions lists the workspace's chat sessions.
func (e *Engine) Sessions(ctx context.Context, workspaceID uuid.UUID) ([]repository.ChatSession, error) {
	if _, err := e.repo.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, mapRepoErr(err, "workspace")
	}
	return e.repo.ListSessionsByWorkspace(ctx, workspaceID)
}

// Messages returns a session's full history oldest first, with retrieval
// sources attached to assistant turns.
func (e *Engine) Messages(ctx context.Context, sessionID uuid.UUID) ([]MessageWithSources, error) {
	if _, err := e.repo.GetSession(ctx, sessionID); err != nil {
		return nil, mapRepoErr(err, "session")
	}

	messages, err := e.repo.ListMessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make([]MessageWithSources, len(messages))
	for i, m := range messages {
		out[i] = MessageWithSources{ChatMessage: m}
		if m.Role != repository.RoleAssistant {
			continue
		}
		sources, err := e.repo.ListMessageSources(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		if len(sources) > 0 {
			out[i].Sources = sources
		}
	}
	return out, nil
}

func mapRepoErr(err error, entity string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Newf(apperr.KindNotFound, "%s not found", entity)
	}
	return err
}
