package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// CreateWorkspaceRequest is the request body for POST /v1/workspaces.
type CreateWorkspaceRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateWorkspace(c echo.Context) error {
	var req CreateWorkspaceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	w, err := s.workspaces.Create(c.Request().Context(), req.Name)
	if err != nil {
		return s.respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (s *Server) handleListWorkspaces(c echo.Context) error {
	list, err := s.workspaces.List(c.Request().Context())
	if err != nil {
		return s.respondErr(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleDeleteWorkspace(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return s.respondErr(c, err)
	}
	if err := s.workspaces.Delete(c.Request().Context(), id); err != nil {
		return s.respondErr(c, err)
	}
	// The cascade runs in the background; the workspace disappears once its
	// data is gone.
	return c.NoContent(http.StatusNoContent)
}
