// Package embedders provides dense embedding providers.
//
// The embedding model is part of a collection's schema: vectors written
// with one model are meaningless under another, so providers expose a
// Fingerprint that vector stores record per collection.
package embedders

import (
	"context"
	"fmt"

	"github.com/petrel-ai/petrel/pkg/config"
)

// Provider produces dense embeddings for queries and documents.
type Provider interface {
	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedDocuments embeds a batch of document chunks.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension reports the vector dimension of the configured model.
	Dimension() int
	// Fingerprint identifies the provider+model pair, e.g.
	// "ollama/nomic-embed-text". Collections embedded under one
	// fingerprint reject queries under another.
	Fingerprint() string
}

// New builds a Provider from config.
func New(cfg *config.EmbedderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config is required")
	}
	switch cfg.Type {
	case "ollama":
		return NewOllamaEmbedder(cfg)
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedder provider type: %s", cfg.Type)
	}
}
