// Package httpapi exposes the docrag REST API.
package httpapi

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/config"
	"github.com/fyrsmithlabs/docrag/internal/ingest"
	"github.com/fyrsmithlabs/docrag/internal/llm"
	"github.com/fyrsmithlabs/docrag/internal/rag"
	"github.com/fyrsmithlabs/docrag/internal/rawstorage"
	"github.com/fyrsmithlabs/docrag/internal/repository"
	"github.com/fyrsmithlabs/docrag/internal/tasks"
	"github.com/fyrsmithlabs/docrag/internal/vectorstore"
	"github.com/fyrsmithlabs/docrag/internal/workspace"
)

// Server provides the HTTP endpoints for docrag.
type Server struct {
	echo       *echo.Echo
	workspaces *workspace.Service
	documents  *ingest.Service
	chat       *rag.Engine
	repo       repository.Repository
	raw        rawstorage.Storage
	vectors    vectorstore.Store
	generator  llm.Client
	queue      *tasks.Queue
	logger     *zap.Logger
	cfg        config.ServerConfig
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(
	workspaces *workspace.Service,
	documents *ingest.Service,
	chat *rag.Engine,
	repo repository.Repository,
	raw rawstorage.Storage,
	vectors vectorstore.Store,
	generator llm.Client,
	queue *tasks.Queue,
	logger *zap.Logger,
	cfg config.ServerConfig,
) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:       e,
		workspaces: workspaces,
		documents:  documents,
		chat:       chat,
		repo:       repo,
		raw:        raw,
		vectors:    vectors,
		generator:  generator,
		queue:      queue,
		logger:     logger,
		cfg:        cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/v1")

	v1.POST("/workspaces", s.handleCreateWorkspace)
	v1.GET("/workspaces", s.handleListWorkspaces)
	v1.DELETE("/workspaces/:id", s.handleDeleteWorkspace)

	v1.POST("/documents/upload", s.handleUploadDocument)
	v1.GET("/documents", s.handleListDocuments)
	v1.GET("/documents/:id/status", s.handleDocumentStatus)
	v1.GET("/documents/:id/download", s.handleDownloadDocument)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)

	v1.POST("/chat/ask", s.handleAsk)
	v1.GET("/chat", s.handleListSessions)
	v1.GET("/chat/:session_id/messages", s.handleListMessages)

	v1.GET("/ops/status", s.handleOpsStatus)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() *echo.Echo { return s.echo }

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
