package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/docrag/internal/apperr"
	"github.com/fyrsmithlabs/docrag/internal/rag"
)

// AskRequest is the request body for POST /v1/chat/ask.
type AskRequest struct {
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	SessionID   *uuid.UUID `json:"session_id,omitempty"`
	Question    string     `json:"question"`
	TopK        int        `json:"top_k,omitempty"`
}

func (s *Server) handleAsk(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkspaceID == uuid.Nil {
		return s.respondErr(c, apperr.New(apperr.KindValidation, "workspace_id is required"))
	}
	if req.TopK < 0 {
		return s.respondErr(c, apperr.New(apperr.KindValidation, "top_k must not be negative"))
	}

	resp, err := s.chat.Ask(c.Request().Context(), rag.AskRequest{
		WorkspaceID: req.WorkspaceID,
		SessionID:   req.SessionID,
		Question:    req.Question,
		TopK:        req.TopK,
	})
	if err != nil {
		return s.respondErr(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListSessions(c echo.Context) error {
	workspaceID, err := queryWorkspaceID(c)
	if err != nil {
		return s.respondErr(c, err)
	}
	sessions, err := s.chat.Sessions(c.Request().Context(), workspaceID)
	if err != nil {
		return s.respondErr(c, err)
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleListMessages(c echo.Context) error {
	sessionID, err := pathUUID(c, "session_id")
	if err != nil {
		return s.respondErr(c, err)
	}
	messages, err := s.chat.Messages(c.Request().Context(), sessionID)
	if err != nil {
		return s.respondErr(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}
