package vector

import (
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/petrel-ai/petrel/pkg/config"
)

// ChromemStore implements Store on chromem-go: pure Go, in-process,
// optional gzip persistence. Chromem cannot enumerate documents, so the
// store keeps a side registry (content + metadata per ID) that backs
// AllChunks, CollectionInfo and the embedder fingerprint check. The
// registry is persisted next to the vector file.
type ChromemStore struct {
	db          *chromem.DB
	persistPath string
	compress    bool
	fingerprint string

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	registry    map[string]*collectionRegistry
}

type collectionRegistry struct {
	Embedder string
	Docs     map[string]registryDoc
}

type registryDoc struct {
	Content  string
	Metadata map[string]string
}

// NewChromemStore creates a chromem-backed store. With a persist path,
// existing vectors and the registry are loaded from disk.
func NewChromemStore(cfg *config.VectorConfig, fingerprint string) (*ChromemStore, error) {
	s := &ChromemStore{
		persistPath: cfg.PersistPath,
		compress:    cfg.Compress,
		fingerprint: fingerprint,
		collections: make(map[string]*chromem.Collection),
		registry:    make(map[string]*collectionRegistry),
	}

	if cfg.PersistPath == "" {
		s.db = chromem.NewDB()
		slog.Info("created in-memory vector database")
		return s, nil
	}

	if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create persist directory: %w", err)
	}

	// persist() writes a db.Export snapshot, but NewPersistentDB reads
	// chromem's own directory layout, so a reopen against vectors.gob
	// can come back empty. The registry sidecar loaded below is what
	// survives restarts reliably.
	dbPath := s.vectorFile()
	if _, err := os.Stat(dbPath); err == nil {
		db, err := chromem.NewPersistentDB(dbPath, cfg.Compress)
		if err != nil {
			slog.Warn("failed to load existing vector database, creating new", "path", dbPath, "error", err)
			s.db = chromem.NewDB()
		} else {
			s.db = db
			slog.Info("loaded vector database", "path", dbPath)
		}
	} else {
		s.db = chromem.NewDB()
		slog.Info("created new vector database", "path", dbPath)
	}

	if err := s.loadRegistry(); err != nil {
		slog.Warn("failed to load vector registry, starting empty", "error", err)
		s.registry = make(map[string]*collectionRegistry)
	}
	return s, nil
}

func (s *ChromemStore) vectorFile() string {
	path := filepath.Join(s.persistPath, "vectors.gob")
	if s.compress {
		path += ".gz"
	}
	return path
}

func (s *ChromemStore) registryFile() string {
	return filepath.Join(s.persistPath, "registry.gob")
}

// identityEmbed satisfies chromem's embedding hook; vectors are always
// pre-computed upstream.
func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
}

// getCollection returns the chromem collection and its registry entry,
// creating both if needed. Caller must not hold s.mu.
func (s *ChromemStore) getCollection(name string) (*chromem.Collection, *collectionRegistry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registry[name]
	if !ok {
		reg = &collectionRegistry{
			Embedder: s.fingerprint,
			Docs:     make(map[string]registryDoc),
		}
		s.registry[name] = reg
	}
	if reg.Embedder != s.fingerprint {
		return nil, nil, fmt.Errorf("collection %q was embedded with %q, active embedder is %q",
			name, reg.Embedder, s.fingerprint)
	}

	col, ok := s.collections[name]
	if !ok {
		var err error
		col, err = s.db.GetOrCreateCollection(name, map[string]string{"embedder": reg.Embedder}, identityEmbed)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
		}
		s.collections[name] = col
	}
	return col, reg, nil
}

func (s *ChromemStore) Add(ctx context.Context, collection string, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("document count %d does not match vector count %d", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil
	}

	col, reg, err := s.getCollection(collection)
	if err != nil {
		return err
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		meta := make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			meta[k] = fmt.Sprint(v)
		}
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  meta,
			Embedding: vectors[i],
		}
	}

	if err := col.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}

	s.mu.Lock()
	for i, doc := range docs {
		reg.Docs[doc.ID] = registryDoc{
			Content:  doc.Content,
			Metadata: chromemDocs[i].Metadata,
		}
	}
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector store after add", "error", err)
	}
	return nil
}

func (s *ChromemStore) SimilaritySearch(ctx context.Context, collection string, vector []float32, k int) ([]Document, error) {
	col, _, err := s.getCollection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects k greater than the collection size.
	if count := col.Count(); k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	out := make([]Document, 0, len(results))
	for _, r := range results {
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		out = append(out, Document{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: meta,
			Score:    float64(r.Similarity),
		})
	}
	return out, nil
}

func (s *ChromemStore) AllChunks(ctx context.Context, collection string, limit int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.registry[collection]
	if !ok {
		return nil, nil
	}

	out := make([]Document, 0, len(reg.Docs))
	for id, doc := range reg.Docs {
		if limit > 0 && len(out) >= limit {
			break
		}
		meta := make(map[string]any, len(doc.Metadata))
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		out = append(out, Document{ID: id, Content: doc.Content, Metadata: meta})
	}
	return out, nil
}

func (s *ChromemStore) DeleteByMetadata(ctx context.Context, collection string, filter map[string]string) error {
	col, reg, err := s.getCollection(collection)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, filter, nil); err != nil {
		return fmt.Errorf("failed to delete by metadata: %w", err)
	}

	s.mu.Lock()
	for id, doc := range reg.Docs {
		matches := true
		for k, v := range filter {
			if doc.Metadata[k] != v {
				matches = false
				break
			}
		}
		if matches {
			delete(reg.Docs, id)
		}
	}
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector store after delete", "error", err)
	}
	return nil
}

func (s *ChromemStore) DeleteCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	if err := s.db.DeleteCollection(collection); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	delete(s.collections, collection)
	delete(s.registry, collection)
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		slog.Warn("failed to persist vector store after collection delete", "error", err)
	}
	return nil
}

func (s *ChromemStore) ListCollections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.registry))
	for name := range s.registry {
		names = append(names, name)
	}
	return names, nil
}

func (s *ChromemStore) CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.registry[collection]
	if !ok {
		return nil, nil
	}
	return &CollectionInfo{
		Name:     collection,
		Count:    len(reg.Docs),
		Embedder: reg.Embedder,
	}, nil
}

func (s *ChromemStore) Close() error {
	return s.persist()
}

func (s *ChromemStore) persist() error {
	if s.persistPath == "" {
		return nil
	}

	//nolint:staticcheck // Export is the stable persistence entry point.
	if err := s.db.Export(s.vectorFile(), s.compress, ""); err != nil {
		return fmt.Errorf("failed to persist vectors: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Create(s.registryFile())
	if err != nil {
		return fmt.Errorf("failed to create registry file: %w", err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(s.registry); err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}
	return nil
}

func (s *ChromemStore) loadRegistry() error {
	f, err := os.Open(s.registryFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	return gob.NewDecoder(f).Decode(&s.registry)
}

var _ Store = (*ChromemStore)(nil)
