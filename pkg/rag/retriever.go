package rag

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/petrel-ai/petrel/pkg/config"
	"github.com/petrel-ai/petrel/pkg/embedders"
	"github.com/petrel-ai/petrel/pkg/lexical"
	"github.com/petrel-ai/petrel/pkg/vector"
)

// candidate is a ranked chunk before parent expansion.
type candidate struct {
	content  string
	metadata map[string]any
	score    float64
}

// Retriever combines dense similarity search with BM25 keyword search
// through reciprocal rank fusion, then expands child chunks to their
// parent context.
type Retriever struct {
	store    vector.Store
	lexical  *lexical.Index
	embedder embedders.Provider
	cfg      *config.RetrievalConfig
}

// NewRetriever wires the hybrid retriever.
func NewRetriever(store vector.Store, lex *lexical.Index, embedder embedders.Provider, cfg *config.RetrievalConfig) *Retriever {
	return &Retriever{store: store, lexical: lex, embedder: embedder, cfg: cfg}
}

// Retrieve runs hybrid search with parent expansion and fills the
// state's retrieval fields. An empty result checks whether the
// collection itself is empty.
func (r *Retriever) Retrieve(ctx context.Context, st *State) error {
	query := st.queryForRetrieval()

	results, err := r.searchWithParentExpansion(ctx, query, st.Collection, r.cfg.InitialK, r.cfg.InitialK)
	if err != nil {
		// Retrieval failure degrades to an empty result set; the state
		// machine then rewrites or generates an honest "no data" answer.
		perr := pipelineErr("retriever", "search", "hybrid search failed", err)
		st.Errors = append(st.Errors, perr.Error())
		slog.Error("hybrid search failed", "collection", st.Collection, "error", err)
		results = nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if len(results) == 0 {
		info, err := r.store.CollectionInfo(ctx, st.Collection)
		if err != nil {
			slog.Warn("failed to check collection info", "collection", st.Collection, "error", err)
		} else if info == nil || info.Count == 0 {
			st.CollectionEmpty = true
			slog.Info("collection is empty", "collection", st.Collection)
		}
	}

	docs := make([]Document, len(results))
	for i, c := range results {
		docs[i] = Document{
			Content:        c.content,
			Metadata:       c.metadata,
			RelevanceScore: c.score * 100,
		}
	}
	st.RetrievedDocuments = docs
	st.Step("retrieve_hybrid")

	slog.Info("hybrid retrieval finished",
		"collection", st.Collection,
		"documents", len(docs),
		"collection_empty", st.CollectionEmpty)
	return nil
}

// search runs dense and lexical search in parallel and fuses the
// rankings. If only one side returns results, fusion is skipped and
// that ranking passes through.
func (r *Retriever) search(ctx context.Context, query, collection string, k int) ([]candidate, error) {
	var (
		dense   []vector.Document
		keyword []lexical.ScoredChunk
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := r.embedder.EmbedQuery(gctx, query)
		if err != nil {
			return fmt.Errorf("failed to embed query: %w", err)
		}
		docs, err := r.store.SimilaritySearch(gctx, collection, vec, r.cfg.VectorK)
		if err != nil {
			// Dense search failing is survivable while BM25 works.
			slog.Warn("dense search failed", "collection", collection, "error", err)
			return nil
		}
		dense = docs
		return nil
	})
	g.Go(func() error {
		keyword = r.lexical.Search(collection, query, r.cfg.BM25K)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	denseCands := make([]candidate, len(dense))
	for i, d := range dense {
		denseCands[i] = candidate{content: d.Content, metadata: d.Metadata, score: d.Score}
	}
	keywordCands := make([]candidate, len(keyword))
	for i, s := range keyword {
		keywordCands[i] = candidate{content: s.Chunk.Content, metadata: s.Chunk.Metadata, score: s.Score}
	}

	switch {
	case len(denseCands) == 0 && len(keywordCands) == 0:
		return nil, nil
	case len(denseCands) == 0:
		return topK(keywordCands, k), nil
	case len(keywordCands) == 0:
		return topK(denseCands, k), nil
	}
	return rrfFusion(denseCands, keywordCands, r.cfg.RRFK, k), nil
}

// rrfFusion merges two rankings by reciprocal rank: each chunk earns
// 1/(rrfK + rank) per list it appears in, rank starting at 1. Scores
// from the underlying retrievers are ignored on purpose, RRF needs no
// cross-retriever normalization.
func rrfFusion(denseResults, keywordResults []candidate, rrfK, k int) []candidate {
	scores := make(map[string]float64)
	byID := make(map[string]candidate)

	accumulate := func(results []candidate) {
		for rank, c := range results {
			id := fusionID(c)
			scores[id] += 1.0 / float64(rrfK+rank+1)
			if _, seen := byID[id]; !seen {
				byID[id] = c
			}
		}
	}
	accumulate(denseResults)
	accumulate(keywordResults)

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.SliceStable(ids, func(i, j int) bool { return scores[ids[i]] > scores[ids[j]] })

	if len(ids) > k {
		ids = ids[:k]
	}
	fused := make([]candidate, len(ids))
	for i, id := range ids {
		c := byID[id]
		c.score = scores[id]
		fused[i] = c
	}
	return fused
}

// fusionID identifies a chunk for fusion: its chunk_id, or a content
// hash when chunk metadata predates stable identifiers.
func fusionID(c candidate) string {
	if id := metaString(c.metadata, "chunk_id"); id != "" {
		return id
	}
	head := c.content
	if len(head) > 200 {
		head = head[:200]
	}
	h := fnv.New64a()
	h.Write([]byte(head))
	return strconv.FormatUint(h.Sum64(), 16)
}

func topK(results []candidate, k int) []candidate {
	if len(results) > k {
		return results[:k]
	}
	return results
}

// searchWithParentExpansion replaces each ranked child chunk with its
// parent text, deduplicating by parent so the generator sees coherent
// context instead of overlapping fragments.
func (r *Retriever) searchWithParentExpansion(ctx context.Context, query, collection string, initialK, finalK int) ([]candidate, error) {
	results, err := r.search(ctx, query, collection, initialK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return expandToParents(results, finalK), nil
}

// expandToParents walks the fused ranking in order, keeping the best
// child per parent and swapping in the parent context. Chunks without
// parent metadata pass through unchanged.
func expandToParents(results []candidate, finalK int) []candidate {
	seenParents := make(map[string]struct{})
	expanded := make([]candidate, 0, len(results))

	for _, c := range results {
		parentID := metaString(c.metadata, "parent_id")
		if parentID == "" {
			expanded = append(expanded, c)
			continue
		}
		if _, seen := seenParents[parentID]; seen {
			continue
		}
		seenParents[parentID] = struct{}{}

		content := metaString(c.metadata, "parent_context")
		if content == "" {
			content = c.content
		}
		meta := make(map[string]any, len(c.metadata)+2)
		for k, v := range c.metadata {
			meta[k] = v
		}
		meta["retrieval_score"] = c.score
		meta["expanded_from_child"] = true

		expanded = append(expanded, candidate{content: content, metadata: meta, score: c.score})
	}

	sort.SliceStable(expanded, func(i, j int) bool { return expanded[i].score > expanded[j].score })
	return topK(expanded, finalK)
}

// RetrieveSequential bypasses similarity search for summarization:
// fetch every chunk, order by document position, deduplicate to parent
// chunks. All documents get a full relevance score; for a summary they
// are all in scope.
func (r *Retriever) RetrieveSequential(ctx context.Context, st *State) error {
	st.IsSummarization = true

	all, err := r.store.AllChunks(ctx, st.Collection, r.cfg.SequentialLimit)
	if err != nil {
		slog.Error("sequential retrieval failed", "collection", st.Collection, "error", err)
		all = nil
	}
	if len(all) == 0 {
		st.RetrievedDocuments = nil
		st.CollectionEmpty = true
		st.Step("retrieve_sequential_empty")
		return nil
	}

	sort.SliceStable(all, func(i, j int) bool {
		pi, pj := sequentialSortKey(all[i].Metadata), sequentialSortKey(all[j].Metadata)
		if pi[0] != pj[0] {
			return pi[0] < pj[0]
		}
		if pi[1] != pj[1] {
			return pi[1] < pj[1]
		}
		return pi[2] < pj[2]
	})

	seenParents := make(map[string]struct{})
	var docs []Document
	for _, chunk := range all {
		parentID := metaString(chunk.Metadata, "parent_id")
		if parentID != "" {
			if _, seen := seenParents[parentID]; seen {
				continue
			}
			seenParents[parentID] = struct{}{}
			content := metaString(chunk.Metadata, "parent_context")
			if content == "" {
				content = chunk.Content
			}
			docs = append(docs, Document{Content: content, Metadata: chunk.Metadata, RelevanceScore: 100.0})
		} else {
			docs = append(docs, Document{Content: chunk.Content, Metadata: chunk.Metadata, RelevanceScore: 100.0})
		}
	}

	st.RetrievedDocuments = docs
	st.Step("retrieve_sequential")

	slog.Info("sequential retrieval finished",
		"collection", st.Collection,
		"chunks", len(all),
		"parents", len(docs))
	return nil
}

// sequentialSortKey orders chunks by (page, parent_index, child_index).
// Unparseable page strings sort last rather than first.
func sequentialSortKey(meta map[string]any) [3]int {
	page := 0
	switch v := meta["page"].(type) {
	case int:
		page = v
	case int64:
		page = int(v)
	case float64:
		page = int(v)
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			parsed = 9999
		}
		page = parsed
	}
	return [3]int{page, metaInt(meta, "parent_index"), metaInt(meta, "child_index")}
}
