// Package server exposes the QA pipeline over HTTP: a JSON chat
// endpoint, an SSE streaming variant, and per-chat document management.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/petrel-ai/petrel/pkg/config"
	"github.com/petrel-ai/petrel/pkg/ingest"
	"github.com/petrel-ai/petrel/pkg/memory"
	"github.com/petrel-ai/petrel/pkg/rag"
)

// Engine runs one query through the pipeline. Satisfied by
// *rag.Pipeline.
type Engine interface {
	Ask(ctx context.Context, req rag.Request) (*rag.Reply, error)
	Stream(ctx context.Context, req rag.Request) <-chan rag.Event
}

// Server is the HTTP surface around the pipeline.
type Server struct {
	cfg    *config.ServerConfig
	engine Engine
	docs   *ingest.Service
	memory memory.Store

	server *http.Server
}

// New builds the server. docs and mem may be nil in tests that only
// exercise the chat endpoints.
func New(cfg *config.ServerConfig, engine Engine, docs *ingest.Service, mem memory.Store) *Server {
	if cfg.Host == "" || cfg.Port == 0 {
		cfg.SetDefaults()
	}
	return &Server{cfg: cfg, engine: engine, docs: docs, memory: mem}
}

// Address returns the listen address.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Start serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.Address(),
		Handler:     s.routes(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: SSE streams outlive any fixed deadline.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("http server starting", "address", s.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests with a bounded grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	slog.Info("http server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown error: %w", err)
	}
	return nil
}

// routes wires the endpoint table:
//
//	POST   /chat                              non-streaming query
//	POST   /chat/stream                       SSE query
//	POST   /chat/{chatID}/stream              SSE query, chat-scoped
//	DELETE /chat/{chatID}                     delete chat: documents + history
//	GET    /chat/history/{sessionID}          conversation history
//	DELETE /chat/history/{sessionID}          clear history
//	POST   /chat/{chatID}/documents           upload + ingest
//	GET    /chat/{chatID}/documents           list documents
//	DELETE /chat/{chatID}/documents/{docID}   delete document
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat/stream", s.handleChatStream)
	mux.HandleFunc("POST /chat/{chatID}/stream", s.handleChatStream)
	mux.HandleFunc("DELETE /chat/{chatID}", s.handleDeleteChat)

	mux.HandleFunc("GET /chat/history/{sessionID}", s.handleGetHistory)
	mux.HandleFunc("DELETE /chat/history/{sessionID}", s.handleClearHistory)

	mux.HandleFunc("POST /chat/{chatID}/documents", s.handleUploadDocument)
	mux.HandleFunc("GET /chat/{chatID}/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /chat/{chatID}/documents/{docID}", s.handleDeleteDocument)

	return mux
}
