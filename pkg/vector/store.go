// Package vector provides the vector store abstraction and its
// providers: chromem (embedded) and qdrant (external).
package vector

import (
	"context"
	"fmt"

	"github.com/petrel-ai/petrel/pkg/config"
)

// Document is a stored chunk with metadata. Score is populated on
// search results as cosine similarity in [0,1].
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
	Score    float64
}

// CollectionInfo describes a collection.
type CollectionInfo struct {
	Name string
	// Count of stored chunks.
	Count int
	// Embedder is the fingerprint of the embedding model the
	// collection was written with.
	Embedder string
}

// Store is the vector store capability used by retrieval and ingestion.
//
// Implementations enforce embedder consistency: a collection written
// under one embedder fingerprint rejects operations under another.
type Store interface {
	// Add upserts documents with pre-computed vectors.
	Add(ctx context.Context, collection string, docs []Document, vectors [][]float32) error
	// SimilaritySearch returns the k nearest documents by cosine
	// similarity, scores descending.
	SimilaritySearch(ctx context.Context, collection string, vector []float32, k int) ([]Document, error)
	// AllChunks returns up to limit documents from the collection in
	// unspecified order (callers sort by metadata).
	AllChunks(ctx context.Context, collection string, limit int) ([]Document, error)
	// DeleteByMetadata removes documents whose metadata matches every
	// filter entry.
	DeleteByMetadata(ctx context.Context, collection string, filter map[string]string) error
	// DeleteCollection removes the collection and all its documents.
	DeleteCollection(ctx context.Context, collection string) error
	// ListCollections names every collection in the store.
	ListCollections(ctx context.Context) ([]string, error)
	// CollectionInfo describes a collection; a nil info with nil error
	// means the collection does not exist.
	CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error)
	// Close flushes any persistence.
	Close() error
}

// New builds a Store from config. The embedder fingerprint is recorded
// on every collection the store creates.
func New(cfg *config.VectorConfig, embedderFingerprint string, dimension int) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector config is required")
	}
	switch cfg.Type {
	case "chromem":
		return NewChromemStore(cfg, embedderFingerprint)
	case "qdrant":
		return NewQdrantStore(cfg, embedderFingerprint, dimension)
	default:
		return nil, fmt.Errorf("unknown vector store type: %s", cfg.Type)
	}
}
