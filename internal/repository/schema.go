package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// schemaStatements returns the DDL for the given dialect. The only dialect
// difference is the auto-increment form of the event id.
func schemaStatements(dialect string) []string {
	eventID := "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	if dialect == dialectSQLite {
		eventID = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS workspaces (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			document_name TEXT NOT NULL,
			media_type TEXT NOT NULL,
			sha256 TEXT NOT NULL,
			raw_storage_path TEXT NOT NULL,
			page_count INTEGER NOT NULL DEFAULT 0,
			author TEXT,
			creation_date TIMESTAMP,
			detected_language TEXT,
			size_bytes BIGINT NOT NULL DEFAULT 0,
			ingested_at TIMESTAMP,
			status TEXT NOT NULL,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_workspace ON documents (workspace_id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_events (
			id %s,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			duration_ms BIGINT,
			UNIQUE (document_id, stage)
		)`, eventID),
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_workspace ON chat_sessions (workspace_id)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages (session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS chat_message_sources (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES chat_messages(id) ON DELETE CASCADE,
			source_id TEXT NOT NULL,
			document_name TEXT NOT NULL,
			page_start INTEGER NOT NULL,
			page_end INTEGER NOT NULL,
			snippet TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_message ON chat_message_sources (message_id)`,
	}
}

// bootstrapSchema applies the DDL idempotently.
func bootstrapSchema(ctx context.Context, db *sqlx.DB, dialect string) error {
	for _, stmt := range schemaStatements(dialect) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			head := strings.Fields(stmt)
			return fmt.Errorf("applying schema (%s %s): %w", head[0], head[1], err)
		}
	}
	return nil
}
