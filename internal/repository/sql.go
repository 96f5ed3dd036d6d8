package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const documentColumns = `id, workspace_id, document_name, media_type, sha256,
	raw_storage_path, page_count, author, creation_date, detected_language,
	size_bytes, ingested_at, status, error_message, created_at`

// SQLRepository implements Repository on top of sqlx. Queries are written
// with ? placeholders and rebound per driver, so the same code serves
// Postgres and SQLite.
type SQLRepository struct {
	db  *sqlx.DB // nil inside a transaction
	ext sqlx.ExtContext
}

// NewSQLRepository wraps an open database handle.
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db, ext: db}
}

// WithTx runs fn inside a transaction. A nested call joins the ambient
// transaction instead of opening a new one.
func (r *SQLRepository) WithTx(ctx context.Context, fn func(Repository) error) error {
	if r.db == nil {
		return fn(r)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&SQLRepository{ext: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rolling back after %w: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.ext.ExecContext(ctx, r.ext.Rebind(query), args...)
}

func (r *SQLRepository) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, r.ext, dest, r.ext.Rebind(query), args...)
}

func (r *SQLRepository) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, r.ext, dest, r.ext.Rebind(query), args...)
}

// isConflict reports whether err is a unique-constraint violation on either
// backend.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

func mapRowError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case isConflict(err):
		return ErrConflict
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// affectedOrNotFound converts a zero-row UPDATE or DELETE into ErrNotFound.
func affectedOrNotFound(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLRepository) CreateWorkspace(ctx context.Context, w *Workspace) error {
	_, err := r.exec(ctx,
		`INSERT INTO workspaces (id, name, created_at) VALUES (?, ?, ?)`,
		w.ID, w.Name, w.CreatedAt)
	return mapRowError(err, "creating workspace")
}

func (r *SQLRepository) GetWorkspace(ctx context.Context, id uuid.UUID) (*Workspace, error) {
	var w Workspace
	err := r.get(ctx, &w, `SELECT id, name, created_at FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return nil, mapRowError(err, "getting workspace")
	}
	return &w, nil
}

func (r *SQLRepository) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	out := []Workspace{}
	err := r.selectAll(ctx, &out, `SELECT id, name, created_at FROM workspaces ORDER BY created_at, id`)
	if err != nil {
		return nil, mapRowError(err, "listing workspaces")
	}
	return out, nil
}

func (r *SQLRepository) DeleteWorkspace(ctx context.Context, id uuid.UUID) error {
	res, err := r.exec(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return mapRowError(err, "deleting workspace")
	}
	return affectedOrNotFound(res, "deleting workspace")
}

func (r *SQLRepository) DeleteWorkspaceData(ctx context.Context, id uuid.UUID) error {
	// Children first so a partial failure leaves no orphans pointing at
	// deleted parents.
	statements := []string{
		`DELETE FROM chat_message_sources WHERE message_id IN (
			SELECT m.id FROM chat_messages m
			JOIN chat_sessions s ON s.id = m.session_id
			WHERE s.workspace_id = ?)`,
		`DELETE FROM chat_messages WHERE session_id IN (
			SELECT id FROM chat_sessions WHERE workspace_id = ?)`,
		`DELETE FROM chat_sessions WHERE workspace_id = ?`,
		`DELETE FROM document_events WHERE document_id IN (
			SELECT id FROM documents WHERE workspace_id = ?)`,
		`DELETE FROM documents WHERE workspace_id = ?`,
	}
	for _, stmt := range statements {
		if _, err := r.exec(ctx, stmt, id); err != nil {
			return mapRowError(err, "deleting workspace data")
		}
	}
	return nil
}

func (r *SQLRepository) CreateDocument(ctx context.Context, d *Document) error {
	_, err := r.exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WorkspaceID, d.DocumentName, d.MediaType, d.SHA256,
		d.RawStoragePath, d.PageCount, d.Author, d.CreationDate, d.DetectedLanguage,
		d.SizeBytes, d.IngestedAt, d.Status, d.ErrorMessage, d.CreatedAt)
	return mapRowError(err, "creating document")
}

func (r *SQLRepository) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	var d Document
	err := r.get(ctx, &d, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	if err != nil {
		return nil, mapRowError(err, "getting document")
	}
	return &d, nil
}

func (r *SQLRepository) ListDocumentsByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]Document, error) {
	out := []Document{}
	err := r.selectAll(ctx, &out,
		`SELECT `+documentColumns+` FROM documents WHERE workspace_id = ? ORDER BY created_at, id`,
		workspaceID)
	if err != nil {
		return nil, mapRowError(err, "listing documents")
	}
	return out, nil
}

func (r *SQLRepository) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus, errMsg string) error {
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	res, err := r.exec(ctx,
		`UPDATE documents SET status = ?, error_message = ? WHERE id = ?`,
		status, msg, id)
	if err != nil {
		return mapRowError(err, "updating document status")
	}
	return affectedOrNotFound(res, "updating document status")
}

func (r *SQLRepository) CommitDocument(ctx context.Context, d *Document) error {
	res, err := r.exec(ctx,
		`UPDATE documents SET page_count = ?, author = ?, creation_date = ?,
			detected_language = ?, ingested_at = ?, status = ?, error_message = NULL
		 WHERE id = ?`,
		d.PageCount, d.Author, d.CreationDate,
		d.DetectedLanguage, d.IngestedAt, StatusSuccess, d.ID)
	if err != nil {
		return mapRowError(err, "committing document")
	}
	return affectedOrNotFound(res, "committing document")
}

func (r *SQLRepository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	if _, err := r.exec(ctx, `DELETE FROM document_events WHERE document_id = ?`, id); err != nil {
		return mapRowError(err, "deleting document events")
	}
	res, err := r.exec(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return mapRowError(err, "deleting document")
	}
	return affectedOrNotFound(res, "deleting document")
}

func (r *SQLRepository) UpsertStageEvent(ctx context.Context, e *DocumentEvent) error {
	_, err := r.exec(ctx,
		`INSERT INTO document_events (document_id, stage, status, started_at, finished_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (document_id, stage) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			duration_ms = excluded.duration_ms`,
		e.DocumentID, e.Stage, e.Status, e.StartedAt, e.FinishedAt, e.DurationMS)
	return mapRowError(err, "upserting stage event")
}

func (r *SQLRepository) ListStageEvents(ctx context.Context, documentID uuid.UUID) ([]DocumentEvent, error) {
	out := []DocumentEvent{}
	err := r.selectAll(ctx, &out,
		`SELECT id, document_id, stage, status, started_at, finished_at, duration_ms
		 FROM document_events WHERE document_id = ? ORDER BY started_at, id`,
		documentID)
	if err != nil {
		return nil, mapRowError(err, "listing stage events")
	}
	return out, nil
}

func (r *SQLRepository) CreateSession(ctx context.Context, s *ChatSession) error {
	_, err := r.exec(ctx,
		`INSERT INTO chat_sessions (id, workspace_id, created_at) VALUES (?, ?, ?)`,
		s.ID, s.WorkspaceID, s.CreatedAt)
	return mapRowError(err, "creating session")
}

func (r *SQLRepository) GetSession(ctx context.Context, id uuid.UUID) (*ChatSession, error) {
	var s ChatSession
	err := r.get(ctx, &s,
		`SELECT id, workspace_id, created_at FROM chat_sessions WHERE id = ?`, id)
	if err != nil {
		return nil, mapRowError(err, "getting session")
	}
	return &s, nil
}

func (r *SQLRepository) ListSessionsByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]ChatSession, error) {
	out := []ChatSession{}
	err := r.selectAll(ctx, &out,
		`SELECT id, workspace_id, created_at FROM chat_sessions
		 WHERE workspace_id = ? ORDER BY created_at, id`,
		workspaceID)
	if err != nil {
		return nil, mapRowError(err, "listing sessions")
	}
	return out, nil
}

func (r *SQLRepository) CreateMessage(ctx context.Context, m *ChatMessage) error {
	_, err := r.exec(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, m.CreatedAt)
	return mapRowError(err, "creating message")
}

func (r *SQLRepository) ListMessagesBySession(ctx context.Context, sessionID uuid.UUID) ([]ChatMessage, error) {
	out := []ChatMessage{}
	err := r.selectAll(ctx, &out,
		`SELECT id, session_id, role, content, created_at
		 FROM chat_messages WHERE session_id = ? ORDER BY created_at, id`,
		sessionID)
	if err != nil {
		return nil, mapRowError(err, "listing messages")
	}
	return out, nil
}

func (r *SQLRepository) RecentMessages(ctx context.Context, sessionID uuid.UUID, n int) ([]ChatMessage, error) {
	if n <= 0 {
		return []ChatMessage{}, nil
	}
	out := []ChatMessage{}
	err := r.selectAll(ctx, &out,
		`SELECT id, session_id, role, content, created_at
		 FROM chat_messages WHERE session_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		sessionID, n)
	if err != nil {
		return nil, mapRowError(err, "listing recent messages")
	}
	// Query returns newest first; callers want chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *SQLRepository) CreateMessageSources(ctx context.Context, sources []MessageSource) error {
	for i := range sources {
		s := &sources[i]
		_, err := r.exec(ctx,
			`INSERT INTO chat_message_sources
				(id, message_id, source_id, document_name, page_start, page_end, snippet)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.ID, s.MessageID, s.SourceID, s.DocumentName, s.PageStart, s.PageEnd, s.Snippet)
		if err != nil {
			return mapRowError(err, "creating message source")
		}
	}
	return nil
}

func (r *SQLRepository) ListMessageSources(ctx context.Context, messageID uuid.UUID) ([]MessageSource, error) {
	out := []MessageSource{}
	err := r.selectAll(ctx, &out,
		`SELECT id, message_id, source_id, document_name, page_start, page_end, snippet
		 FROM chat_message_sources WHERE message_id = ? ORDER BY id`,
		messageID)
	if err != nil {
		return nil, mapRowError(err, "listing message sources")
	}
	return out, nil
}
