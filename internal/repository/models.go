package repository

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

// Document statuses. Transitions are monotone except that a retry resets a
// document to StatusProcessing.
const (
	StatusPending    DocumentStatus = "PENDING"
	StatusQueued     DocumentStatus = "QUEUED"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusSuccess    DocumentStatus = "SUCCESS"
	StatusFailed     DocumentStatus = "FAILED"
	StatusSkipped    DocumentStatus = "SKIPPED"
)

// Stage identifies a pipeline stage in document events.
type Stage string

// Pipeline stages recorded as document events.
const (
	StageExtracting     Stage = "EXTRACTING"
	StageLangDetect     Stage = "LANG_DETECT"
	StageChunking       Stage = "CHUNKING"
	StageEmbedding      Stage = "EMBEDDING"
	StageClassification Stage = "CLASSIFICATION"
)

// EventStatus is the outcome of one stage for one document.
type EventStatus string

// Stage event statuses.
const (
	EventProcessing EventStatus = "PROCESSING"
	EventSuccess    EventStatus = "SUCCESS"
	EventFailed     EventStatus = "FAILED"
	EventSkipped    EventStatus = "SKIPPED"
)

// Role is the author of a chat message.
type Role string

// Chat roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Workspace is the isolation boundary for documents, sessions, and retrieval.
type Workspace struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Document is one ingested binary file plus its derived metadata.
type Document struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	WorkspaceID      uuid.UUID      `db:"workspace_id" json:"workspace_id"`
	DocumentName     string         `db:"document_name" json:"document_name"`
	MediaType        string         `db:"media_type" json:"media_type"`
	SHA256           string         `db:"sha256" json:"sha256"`
	RawStoragePath   string         `db:"raw_storage_path" json:"-"`
	PageCount        int            `db:"page_count" json:"page_count"`
	Author           *string        `db:"author" json:"author,omitempty"`
	CreationDate     *time.Time     `db:"creation_date" json:"creation_date,omitempty"`
	DetectedLanguage *string        `db:"detected_language" json:"detected_language,omitempty"`
	SizeBytes        int64          `db:"size_bytes" json:"size_bytes"`
	IngestedAt       *time.Time     `db:"ingested_at" json:"ingested_at,omitempty"`
	Status           DocumentStatus `db:"status" json:"status"`
	ErrorMessage     *string        `db:"error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// DocumentEvent marks the progress of one pipeline stage for one document.
// At most one row exists per (document_id, stage); re-runs update in place.
type DocumentEvent struct {
	ID         int64       `db:"id" json:"id"`
	DocumentID uuid.UUID   `db:"document_id" json:"document_id"`
	Stage      Stage       `db:"stage" json:"stage"`
	Status     EventStatus `db:"status" json:"status"`
	StartedAt  time.Time   `db:"started_at" json:"started_at"`
	FinishedAt *time.Time  `db:"finished_at" json:"finished_at,omitempty"`
	DurationMS *int64      `db:"duration_ms" json:"duration_ms,omitempty"`
}

// ChatSession is an ordered conversation within a workspace.
type ChatSession struct {
	ID          uuid.UUID `db:"id" json:"id"`
	WorkspaceID uuid.UUID `db:"workspace_id" json:"workspace_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ChatMessage is one turn in a session, ordered by CreatedAt ascending.
type ChatMessage struct {
	ID        uuid.UUID `db:"id" json:"id"`
	SessionID uuid.UUID `db:"session_id" json:"session_id"`
	Role      Role      `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MessageSource is a retrieval passage that grounded an assistant message.
type MessageSource struct {
	ID           uuid.UUID `db:"id" json:"id"`
	MessageID    uuid.UUID `db:"message_id" json:"message_id"`
	SourceID     uuid.UUID `db:"source_id" json:"source_id"`
	DocumentName string    `db:"document_name" json:"document_name"`
	PageStart    int       `db:"page_start" json:"page_start"`
	PageEnd      int       `db:"page_end" json:"page_end"`
	Snippet      string    `db:"snippet" json:"snippet"`
}
