package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/chunker"
	"github.com/fyrsmithlabs/docrag/internal/config"
	"github.com/fyrsmithlabs/docrag/internal/embeddings"
	"github.com/fyrsmithlabs/docrag/internal/extract"
	"github.com/fyrsmithlabs/docrag/internal/ingest"
	"github.com/fyrsmithlabs/docrag/internal/llm"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/rawstorage"
	"github.com/fyrsmithlabs/docrag/internal/repository"
	"github.com/fyrsmithlabs/docrag/internal/tasks"
	"github.com/fyrsmithlabs/docrag/internal/vectorstore"
	"github.com/fyrsmithlabs/docrag/internal/workspace"
)

const testDim = 32

// newTestServer assembles the full service on embedded adapters.
func newTestServer(t *testing.T) *Server {
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
	require.NoError(t, vectors.EnsureCollection(ctx, testDim))

	embedder, err := embeddings.NewHashEmbedder(testDim)
	require.NoError(t, err)

	splitter, err := chunker.New(200, 20, 120)
	require.NoError(t, err)
	factory := extract.NewFactory()

	ingestCfg := config.IngestConfig{
		ChunkSize: 200, ChunkOverlap: 20, SnippetLen: 120,
		EmbedBatchSize: 8, MaxRetries: 1, RetryBackoff: time.Millisecond,
		StageTimeout: 30 * time.Second, QueueSize: 16, Workers: 2,
	}

	queue := tasks.NewQueue(ingestCfg.QueueSize, logger)
	queue.Start(ingestCfg.Workers)
	t.Cleanup(func() { _ = queue.Close(context.Background()) })

	pipeline := ingest.New(repo, raw, vectors, embedder, factory, splitter, ingestCfg, logger)
	documents := ingest.NewService(repo, raw, vectors, factory, pipeline, queue, logger)
	workspaces := workspace.NewService(repo, raw, vectors, queue, logger)
	generator := llm.NewStubClient(logger)
	engine := rag.NewEngine(repo, vectors, embedder, generator,
		config.RAGConfig{TopKDefault: 3, HistoryN: 4}, logger)

	server, err := NewServer(workspaces, documents, engine, repo, raw, vectors, generator, queue, logger,
		config.ServerConfig{Host: "localhost", Port: 8080, MaxUploadBytes: 1 << 20})
	require.NoError(t, err)
	return server
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echoHeaderContentType, "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createWorkspace(t *testing.T, s *Server, name string) uuid.UUID {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/v1/workspaces", CreateWorkspaceRequest{Name: name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	w := decodeJSON[repository.Workspace](t, rec)
	return w.ID
}

// docxBytes builds a small DOCX file in memory.
func docxBytes(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	contentTypes := `<?xml version="1.0" encoding="UTF-8"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`
	document := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body><w:p><w:r><w:t>%s</w:t></w:r></w:p></w:body>
</w:document>`, text)

	for _, file := range []struct{ name, content string }{
		{"[Content_Types].xml", contentTypes},
		{"_rels/.rels", `<?xml version="1.0" encoding="UTF-8"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`},
		{"word/document.xml", document},
	} {
		f, err := w.Create(file.name)
		require.NoError(t, err)
		_, err = f.Write([]byte(file.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func uploadFile(t *testing.T, s *Server, workspaceID uuid.UUID, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("workspace_id", workspaceID.String()))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/documents/upload", &buf)
	req.Header.Set(echoHeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// waitForStatus polls the status endpoint until the document reaches a
// terminal state.
func waitForStatus(t *testing.T, s *Server, documentID uuid.UUID, want repository.DocumentStatus) ingest.DocumentStatus {
	t.Helper()
	var last ingest.DocumentStatus
	require.Eventually(t, func() bool {
		rec := doJSON(t, s, http.MethodGet, "/v1/documents/"+documentID.String()+"/status", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		last = decodeJSON[ingest.DocumentStatus](t, rec)
		return last.Document.Status == want
	}, 10*time.Second, 20*time.Millisecond, "document did not reach %s", want)
	return last
}

func TestWorkspaceEndpoints(t *testing.T) {
	s := newTestServer(t)

	id := createWorkspace(t, s, "research")

	rec := doJSON(t, s, http.MethodGet, "/v1/workspaces", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeJSON[[]repository.Workspace](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	// Duplicate names conflict.
	rec = doJSON(t, s, http.MethodPost, "/v1/workspaces", CreateWorkspaceRequest{Name: "research"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Blank names are rejected.
	rec = doJSON(t, s, http.MethodPost, "/v1/workspaces", CreateWorkspaceRequest{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Deletion answers 204 immediately; the cascade runs in the background.
	rec = doJSON(t, s, http.MethodDelete, "/v1/workspaces/"+id.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	require.Eventually(t, func() bool {
		rec := doJSON(t, s, http.MethodGet, "/v1/workspaces", nil)
		return rec.Code == http.StatusOK && len(decodeJSON[[]repository.Workspace](t, rec)) == 0
	}, 5*time.Second, 20*time.Millisecond)

	rec = doJSON(t, s, http.MethodDelete, "/v1/workspaces/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentUploadAndIngestion(t *testing.T) {
	s := newTestServer(t)
	wsID := createWorkspace(t, s, "research")

	content := docxBytes(t, "The annual report covers revenue growth and market expansion plans.")
	rec := uploadFile(t, s, wsID, "report.docx", content)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	accepted := decodeJSON[UploadResponse](t, rec)
	assert.Equal(t, repository.StatusQueued, accepted.Status)

	status := waitForStatus(t, s, accepted.DocumentID, repository.StatusSuccess)
	assert.Equal(t, 1, status.Document.PageCount)
	assert.Equal(t, extract.MIMEDocx, status.Document.MediaType)
	assert.NotEmpty(t, status.Document.SHA256)
	assert.NotEmpty(t, status.Events, "pipeline stages are recorded")

	// Listing shows the ingested document.
	rec = doJSON(t, s, http.MethodGet, "/v1/documents?workspace_id="+wsID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decodeJSON[[]repository.Document](t, rec)
	require.Len(t, docs, 1)
	assert.Equal(t, "report.docx", docs[0].DocumentName)

	// Download returns the original bytes with attachment headers.
	req := httptest.NewRequest(http.MethodGet, "/v1/documents/"+accepted.DocumentID.String()+"/download", nil)
	dlRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(dlRec, req)
	require.Equal(t, http.StatusOK, dlRec.Code)
	assert.Contains(t, dlRec.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, content, dlRec.Body.Bytes())
}

func TestDocumentUploadRejections(t *testing.T) {
	s := newTestServer(t)
	wsID := createWorkspace(t, s, "research")

	// Unsupported media type.
	rec := uploadFile(t, s, wsID, "notes.txt", []byte("plain text is not supported"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	// Unknown workspace.
	rec = uploadFile(t, s, uuid.New(), "report.docx", docxBytes(t, "text"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Missing file field.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("workspace_id", wsID.String()))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/documents/upload", &buf)
	req.Header.Set(echoHeaderContentType, mw.FormDataContentType())
	recorder := httptest.NewRecorder()
	s.Handler().ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	// Oversized upload.
	big := bytes.Repeat([]byte("x"), (1<<20)+1)
	rec = uploadFile(t, s, wsID, "big.docx", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestDocumentDelete(t *testing.T) {
	s := newTestServer(t)
	wsID := createWorkspace(t, s, "research")

	rec := uploadFile(t, s, wsID, "report.docx", docxBytes(t, "Deletable content about quarterly planning."))
	require.Equal(t, http.StatusAccepted, rec.Code)
	accepted := decodeJSON[UploadResponse](t, rec)
	waitForStatus(t, s, accepted.DocumentID, repository.StatusSuccess)

	rec = doJSON(t, s, http.MethodDelete, "/v1/documents/"+accepted.DocumentID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/documents/"+accepted.DocumentID.String()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/v1/documents/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatFlow(t *testing.T) {
	s := newTestServer(t)
	wsID := createWorkspace(t, s, "research")

	rec := uploadFile(t, s, wsID, "report.docx",
		docxBytes(t, "Revenue grew by twelve percent during the last fiscal year."))
	require.Equal(t, http.StatusAccepted, rec.Code)
	accepted := decodeJSON[UploadResponse](t, rec)
	waitForStatus(t, s, accepted.DocumentID, repository.StatusSuccess)

	rec = doJSON(t, s, http.MethodPost, "/v1/chat/ask", AskRequest{
		WorkspaceID: wsID,
		Question:    "how much did revenue grow during the fiscal year",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	answer := decodeJSON[rag.AskResponse](t, rec)
	assert.NotEmpty(t, answer.Answer)
	assert.NotEqual(t, uuid.Nil, answer.SessionID)
	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, accepted.DocumentID, answer.Sources[0].SourceID)

	// Follow-up in the same session.
	rec = doJSON(t, s, http.MethodPost, "/v1/chat/ask", AskRequest{
		WorkspaceID: wsID,
		SessionID:   &answer.SessionID,
		Question:    "what about revenue growth percent",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/chat?workspace_id="+wsID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decodeJSON[[]repository.ChatSession](t, rec)
	require.Len(t, sessions, 1)

	rec = doJSON(t, s, http.MethodGet, "/v1/chat/"+answer.SessionID.String()+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	messages := decodeJSON[[]rag.MessageWithSources](t, rec)
	require.Len(t, messages, 4)
	assert.Equal(t, repository.RoleUser, messages[0].Role)
	assert.Equal(t, repository.RoleAssistant, messages[1].Role)
	assert.NotEmpty(t, messages[1].Sources)
}

func TestChatValidation(t *testing.T) {
	s := newTestServer(t)
	wsID := createWorkspace(t, s, "research")

	rec := doJSON(t, s, http.MethodPost, "/v1/chat/ask", AskRequest{WorkspaceID: wsID, Question: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/chat/ask", AskRequest{Question: "no workspace"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/v1/chat/ask", AskRequest{WorkspaceID: uuid.New(), Question: "q"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/chat", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "workspace_id is required")
}

func TestChatEmptyWorkspace(t *testing.T) {
	s := newTestServer(t)
	wsID := createWorkspace(t, s, "empty")

	rec := doJSON(t, s, http.MethodPost, "/v1/chat/ask", AskRequest{WorkspaceID: wsID, Question: "anything?"})
	require.Equal(t, http.StatusOK, rec.Code)
	answer := decodeJSON[rag.AskResponse](t, rec)
	assert.Equal(t, rag.NoDocumentsAnswer, answer.Answer)
	assert.Empty(t, answer.Sources)
}

func TestOpsEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/ops/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeJSON[OpsStatusResponse](t, rec)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "stub", status.LLMBackend)
	for _, name := range []string{"database", "raw_storage", "vector_index"} {
		assert.Equal(t, "ok", status.Components[name].Status, name)
	}
}

func TestInvalidIDsRejected(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/v1/documents/not-a-uuid/status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/v1/workspaces/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/documents?workspace_id=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/v1/chat/not-a-uuid/messages", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
