package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/petrel-ai/petrel/pkg/embedders"
	"github.com/petrel-ai/petrel/pkg/lexical"
	"github.com/petrel-ai/petrel/pkg/vector"
)

// DocumentInfo summarizes one ingested document.
type DocumentInfo struct {
	DocID  string `json:"doc_id"`
	Source string `json:"source"`
	Chunks int    `json:"chunks"`
}

// Service runs the ingestion path: load, chunk, embed, store, index.
type Service struct {
	store    vector.Store
	embedder embedders.Provider
	lexical  *lexical.Index
	chunker  *Chunker
}

// NewService wires an ingestion service.
func NewService(store vector.Store, embedder embedders.Provider, lex *lexical.Index, chunker *Chunker) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		lexical:  lex,
		chunker:  chunker,
	}
}

// Ingest loads the file at path into the collection and returns the
// assigned document ID and chunk count.
func (s *Service) Ingest(ctx context.Context, collection, path string) (string, int, error) {
	pages, err := Load(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load %s: %w", path, err)
	}

	docID := uuid.NewString()
	source := filepath.Base(path)
	chunks := s.chunker.Chunk(docID, source, pages)
	if len(chunks) == 0 {
		return "", 0, fmt.Errorf("document %s produced no chunks", source)
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return "", 0, fmt.Errorf("failed to embed chunks: %w", err)
	}

	docs := make([]vector.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = vector.Document{
			ID:       chunk.ID,
			Content:  chunk.Content,
			Metadata: chunk.Metadata,
		}
	}
	if err := s.store.Add(ctx, collection, docs, vectors); err != nil {
		return "", 0, fmt.Errorf("failed to store chunks: %w", err)
	}

	s.lexical.Add(collection, lexicalChunks(chunks))

	slog.Info("ingested document",
		"collection", collection,
		"source", source,
		"doc_id", docID,
		"pages", len(pages),
		"chunks", len(chunks))
	return docID, len(chunks), nil
}

// DeleteDocument removes every chunk of a document from the vector
// store and the lexical index.
func (s *Service) DeleteDocument(ctx context.Context, collection, docID string) error {
	if err := s.store.DeleteByMetadata(ctx, collection, map[string]string{"doc_id": docID}); err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}
	s.lexical.Remove(collection, []string{docID})

	slog.Info("deleted document", "collection", collection, "doc_id", docID)
	return nil
}

// DeleteCollection drops the whole collection from both indices.
func (s *Service) DeleteCollection(ctx context.Context, collection string) error {
	if err := s.store.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	s.lexical.Clear(collection)
	return nil
}

// ListDocuments aggregates the collection's chunks by document.
func (s *Service) ListDocuments(ctx context.Context, collection string) ([]DocumentInfo, error) {
	chunks, err := s.store.AllChunks(ctx, collection, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	byDoc := make(map[string]*DocumentInfo)
	for _, chunk := range chunks {
		docID, _ := chunk.Metadata["doc_id"].(string)
		if docID == "" {
			continue
		}
		info, ok := byDoc[docID]
		if !ok {
			source, _ := chunk.Metadata["source"].(string)
			info = &DocumentInfo{DocID: docID, Source: source}
			byDoc[docID] = info
		}
		info.Chunks++
	}

	out := make([]DocumentInfo, 0, len(byDoc))
	for _, info := range byDoc {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

// Warm rebuilds the in-memory lexical indices from the vector store.
// Called once at startup; the lexical index does not persist.
func (s *Service) Warm(ctx context.Context) error {
	collections, err := s.store.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, collection := range collections {
		docs, err := s.store.AllChunks(ctx, collection, 0)
		if err != nil {
			return fmt.Errorf("failed to read collection %s: %w", collection, err)
		}
		chunks := make([]lexical.Chunk, len(docs))
		for i, doc := range docs {
			chunks[i] = lexical.Chunk{
				ID:       doc.ID,
				Content:  doc.Content,
				Metadata: doc.Metadata,
			}
		}
		s.lexical.Build(collection, chunks)
		slog.Info("warmed lexical index", "collection", collection, "chunks", len(chunks))
	}
	return nil
}

func lexicalChunks(chunks []Chunk) []lexical.Chunk {
	out := make([]lexical.Chunk, len(chunks))
	for i, chunk := range chunks {
		out[i] = lexical.Chunk{
			ID:       chunk.ID,
			Content:  chunk.Content,
			Metadata: chunk.Metadata,
		}
	}
	return out
}
