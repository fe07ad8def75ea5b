// Package server provides the HTTP API for bunsho.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/bunsho/internal/blob"
	"github.com/hyperjump/bunsho/internal/chat"
	"github.com/hyperjump/bunsho/internal/config"
	"github.com/hyperjump/bunsho/pkg/utils"
)

// EmbeddingStatus reports the embedding client's readiness for /health.
type EmbeddingStatus interface {
	Ready() bool
	ModelName() string
}

// Server is the HTTP server for the bunsho API.
type Server struct {
	chat      *chat.Service
	embedding EmbeddingStatus
	blobs     *blob.DiskStore
	config    *config.Config
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies. blobs may be nil when files
// are stored elsewhere; /blobs/* is then not served.
func NewServer(
	svc *chat.Service,
	embedding EmbeddingStatus,
	blobs *blob.DiskStore,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		chat:      svc,
		embedding: embedding,
		blobs:     blobs,
		config:    cfg,
		logger:    utils.OrNop(logger),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.config.Server.RequestTimeout()))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	if s.blobs != nil {
		r.Handle(blob.PathPrefix+"*", s.blobs.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Put("/rename", s.handleRenameSession)
				r.Get("/messages", s.handleListMessages)
				r.Post("/messages", s.handleAddMessage)
				r.Get("/files", s.handleListFiles)
				r.Post("/upload", s.handleUpload)
				r.Post("/process", s.handleProcess)
				r.Post("/search", s.handleSearch)
			})
		})
		r.Route("/files/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetFile)
			r.Delete("/", s.handleDeleteFile)
			r.Post("/reindex", s.handleReindex)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
