package httpapi

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/apperr"
)

// ErrorResponse is the JSON body for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondErr maps classified errors to HTTP statuses. Unclassified errors are
// logged with the request id and hidden behind a generic 500.
func (s *Server) respondErr(c echo.Context, err error) error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return err
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return c.JSON(apperr.HTTPStatus(appErr.Kind), ErrorResponse{Error: appErr.Msg})
	}

	s.logger.Error("request failed",
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}

// pathUUID parses a UUID path parameter.
func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.KindValidation, "invalid %s", name)
	}
	return id, nil
}

// queryWorkspaceID parses the required workspace_id query parameter.
func queryWorkspaceID(c echo.Context) (uuid.UUID, error) {
	raw := c.QueryParam("workspace_id")
	if raw == "" {
		return uuid.Nil, apperr.New(apperr.KindValidation, "workspace_id query parameter is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.KindValidation, "invalid workspace_id")
	}
	return id, nil
}
