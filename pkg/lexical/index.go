package lexical

import (
	"log/slog"
	"sync"
)

// Index manages BM25 indices keyed by collection. BM25 document
// frequency statistics depend on the whole corpus, so add and remove
// rebuild the collection's index rather than patching it. Rebuilds
// happen off to the side and are published by pointer swap: readers see
// either the previous index or the new one, never a partial build.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*bm25Index

	// writeMu serializes rebuilds so concurrent add/remove cannot
	// interleave their read-rebuild-swap cycles.
	writeMu sync.Mutex
}

// NewIndex creates an empty manager.
func NewIndex() *Index {
	return &Index{collections: make(map[string]*bm25Index)}
}

func (x *Index) get(collection string) *bm25Index {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.collections[collection]
}

func (x *Index) publish(collection string, ix *bm25Index) {
	x.mu.Lock()
	x.collections[collection] = ix
	x.mu.Unlock()
}

// Build replaces the collection's index with one built from chunks.
func (x *Index) Build(collection string, chunks []Chunk) {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	x.publish(collection, buildIndex(chunks))
	slog.Debug("built lexical index", "collection", collection, "chunks", len(chunks))
}

// Add appends chunks to the collection and rebuilds.
func (x *Index) Add(collection string, chunks []Chunk) {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	var existing []Chunk
	if old := x.get(collection); old != nil {
		existing = old.chunks
	}

	merged := make([]Chunk, 0, len(existing)+len(chunks))
	merged = append(merged, existing...)
	merged = append(merged, chunks...)

	x.publish(collection, buildIndex(merged))
	slog.Debug("added to lexical index", "collection", collection, "added", len(chunks), "total", len(merged))
}

// Remove drops chunks whose metadata doc_id is in docIDs and rebuilds.
func (x *Index) Remove(collection string, docIDs []string) {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	old := x.get(collection)
	if old == nil {
		return
	}

	drop := make(map[string]struct{}, len(docIDs))
	for _, id := range docIDs {
		drop[id] = struct{}{}
	}

	kept := make([]Chunk, 0, len(old.chunks))
	for _, chunk := range old.chunks {
		docID, _ := chunk.Metadata["doc_id"].(string)
		if _, gone := drop[docID]; gone {
			continue
		}
		kept = append(kept, chunk)
	}

	x.publish(collection, buildIndex(kept))
	slog.Debug("removed from lexical index", "collection", collection,
		"removed", len(old.chunks)-len(kept), "remaining", len(kept))
}

// Clear drops the collection's index entirely.
func (x *Index) Clear(collection string) {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	x.mu.Lock()
	delete(x.collections, collection)
	x.mu.Unlock()
}

// Search scores the query against the collection and returns the top k
// hits, score descending. A missing or empty collection returns nil.
func (x *Index) Search(collection, query string, k int) []ScoredChunk {
	ix := x.get(collection)
	if ix == nil {
		return nil
	}
	return ix.search(query, k)
}

// Size reports the number of indexed chunks in a collection.
func (x *Index) Size(collection string) int {
	ix := x.get(collection)
	if ix == nil {
		return 0
	}
	return len(ix.chunks)
}
