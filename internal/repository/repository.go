// Package repository persists the workspace, document, and chat entities.
//
// Two backends share one sqlx implementation: Postgres (DATABASE_URL) and an
// embedded SQLite file for local mode. All write paths can be grouped into a
// unit of work via WithTx, which commits or rolls back atomically.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Sentinel errors for repository operations.
var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("row not found")

	// ErrConflict is returned on unique-constraint violations.
	ErrConflict = errors.New("unique constraint violation")
)

// Repository is the metadata store adapter contract.
//
// Methods called on the value passed to a WithTx closure run inside that
// transaction; methods called on the root repository auto-commit.
type Repository interface {
	// WithTx runs fn inside a transaction. fn's repository sees uncommitted
	// writes; any error rolls the whole unit of work back.
	WithTx(ctx context.Context, fn func(Repository) error) error

	// Ping checks backend reachability.
	Ping(ctx context.Context) error

	CreateWorkspace(ctx context.Context, w *Workspace) error
	GetWorkspace(ctx context.Context, id uuid.UUID) (*Workspace, error)
	ListWorkspaces(ctx context.Context) ([]Workspace, error)
	// DeleteWorkspace removes the workspace row only. Dependent rows are
	// removed first via DeleteWorkspaceData so a failed cascade can retry.
	DeleteWorkspace(ctx context.Context, id uuid.UUID) error
	// DeleteWorkspaceData removes every row owned by the workspace except the
	// workspace row itself.
	DeleteWorkspaceData(ctx context.Context, id uuid.UUID) error

	CreateDocument(ctx context.Context, d *Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	ListDocumentsByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]Document, error)
	// UpdateDocumentStatus moves a document through its lifecycle; errMsg is
	// cleared when empty.
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus, errMsg string) error
	// CommitDocument records the metadata produced by a successful pipeline
	// run and flips the document to SUCCESS.
	CommitDocument(ctx context.Context, d *Document) error
	DeleteDocument(ctx context.Context, id uuid.UUID) error

	// UpsertStageEvent inserts or replaces the single event row for the
	// document's stage.
	UpsertStageEvent(ctx context.Context, e *DocumentEvent) error
	ListStageEvents(ctx context.Context, documentID uuid.UUID) ([]DocumentEvent, error)

	CreateSession(ctx context.Context, s *ChatSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*ChatSession, error)
	ListSessionsByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]ChatSession, error)

	CreateMessage(ctx context.Context, m *ChatMessage) error
	// ListMessagesBySession returns messages oldest first.
	ListMessagesBySession(ctx context.Context, sessionID uuid.UUID) ([]ChatMessage, error)
	// RecentMessages returns the last n messages, oldest first.
	RecentMessages(ctx context.Context, sessionID uuid.UUID, n int) ([]ChatMessage, error)

	CreateMessageSources(ctx context.Context, sources []MessageSource) error
	ListMessageSources(ctx context.Context, messageID uuid.UUID) ([]MessageSource, error)
}
