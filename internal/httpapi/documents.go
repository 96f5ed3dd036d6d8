package httpapi

import (
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/docrag/internal/apperr"
	"github.com/fyrsmithlabs/docrag/internal/ingest"
	"github.com/fyrsmithlabs/docrag/internal/repository"
)

// UploadResponse is the body for a 202 from POST /v1/documents/upload.
type UploadResponse struct {
	DocumentID uuid.UUID                 `json:"document_id"`
	Status     repository.DocumentStatus `json:"status"`
}

func (s *Server) handleUploadDocument(c echo.Context) error {
	workspaceID, err := queryOrFormWorkspaceID(c)
	if err != nil {
		return s.respondErr(c, err)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return s.respondErr(c, apperr.New(apperr.KindValidation, "multipart field 'file' is required"))
	}
	if fileHeader.Size > s.cfg.MaxUploadBytes {
		return s.respondErr(c, apperr.Newf(apperr.KindPayloadTooLarge,
			"file exceeds the %d byte upload limit", s.cfg.MaxUploadBytes))
	}

	src, err := fileHeader.Open()
	if err != nil {
		return s.respondErr(c, fmt.Errorf("opening upload: %w", err))
	}
	defer src.Close()

	// The multipart header size can lie; enforce the limit on actual bytes.
	data, err := io.ReadAll(io.LimitReader(src, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return s.respondErr(c, fmt.Errorf("reading upload: %w", err))
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return s.respondErr(c, apperr.Newf(apperr.KindPayloadTooLarge,
			"file exceeds the %d byte upload limit", s.cfg.MaxUploadBytes))
	}

	doc, err := s.documents.Upload(c.Request().Context(), ingest.UploadRequest{
		WorkspaceID: workspaceID,
		Filename:    fileHeader.Filename,
		Data:        data,
	})
	if err != nil {
		return s.respondErr(c, err)
	}

	return c.JSON(http.StatusAccepted, UploadResponse{DocumentID: doc.ID, Status: doc.Status})
}

func (s *Server) handleListDocuments(c echo.Context) error {
	workspaceID, err := queryWorkspaceID(c)
	if err != nil {
		return s.respondErr(c, err)
	}
	docs, err := s.documents.List(c.Request().Context(), workspaceID)
	if err != nil {
		return s.respondErr(c, err)
	}
	return c.JSON(http.StatusOK, docs)
}

func (s *Server) handleDocumentStatus(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return s.respondErr(c, err)
	}
	status, err := s.documents.Status(c.Request().Context(), id)
	if err != nil {
		return s.respondErr(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleDownloadDocument(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return s.respondErr(c, err)
	}

	doc, rc, size, err := s.documents.Download(c.Request().Context(), id)
	if err != nil {
		return s.respondErr(c, err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename=%q`, doc.DocumentName))
	c.Response().Header().Set(echo.HeaderContentLength, fmt.Sprintf("%d", size))
	return c.Stream(http.StatusOK, doc.MediaType, rc)
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return s.respondErr(c, err)
	}
	if err := s.documents.Delete(c.Request().Context(), id); err != nil {
		return s.respondErr(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// queryOrFormWorkspaceID accepts workspace_id as a query parameter or a
// multipart form field.
func queryOrFormWorkspaceID(c echo.Context) (uuid.UUID, error) {
	raw := c.QueryParam("workspace_id")
	if raw == "" {
		raw = c.FormValue("workspace_id")
	}
	if raw == "" {
		return uuid.Nil, apperr.New(apperr.KindValidation, "workspace_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindValidation, "invalid workspace_id")
	}
	return id, nil
}
