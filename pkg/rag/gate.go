package rag

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/petrel-ai/petrel/pkg/config"
	"github.com/petrel-ai/petrel/pkg/embedders"
	"github.com/petrel-ai/petrel/pkg/rerank"
)

// Gate reduces retrieved candidates to the few documents worth sending
// to the generator, and builds the user-visible source list.
type Gate struct {
	embedder  embedders.Provider
	scorer    rerank.Scorer
	retrieval *config.RetrievalConfig
}

// NewGate wires the reranker gate. scorer may be nil: grading then
// falls back to retrieval-score thresholding.
func NewGate(embedder embedders.Provider, scorer rerank.Scorer, retrieval *config.RetrievalConfig) *Gate {
	return &Gate{embedder: embedder, scorer: scorer, retrieval: retrieval}
}

// Grade filters st.RetrievedDocuments into st.RelevantDocuments and
// st.Sources. Two stages: a context filter against query drift, then a
// cross-encoder rerank keeping an adaptive top K.
func (g *Gate) Grade(ctx context.Context, st *State) error {
	if len(st.RetrievedDocuments) == 0 {
		st.RelevantDocuments = nil
		st.Sources = nil
		st.Step("grade_empty")
		return nil
	}

	query := st.queryForRetrieval()

	// Summarization wants the whole document in order; reranking a
	// summary's context against the query would just reshuffle it.
	if st.IsSummarization {
		st.RelevantDocuments = st.RetrievedDocuments
		st.Sources = buildSources(query, st.RelevantDocuments)
		st.Step("grade_sequential")
		return nil
	}

	// Adaptive K: simple factual queries need one or two hits; anything
	// comparative or analytical gets broader context.
	finalK := g.retrieval.FinalK
	if st.QueryComplexity == ComplexitySimple {
		finalK = g.retrieval.SimpleK
	}

	docs := g.contextFilter(ctx, query, st.RetrievedDocuments)
	st.Step("grade_context_filter")

	if g.scorer != nil && len(docs) > 0 {
		relevant, err := g.rerankDocs(ctx, query, docs, finalK)
		if err == nil {
			st.RelevantDocuments = relevant
			st.Sources = buildSources(query, relevant)
			st.Step("grade_reranker")
			slog.Info("reranker kept documents",
				"chunks", len(relevant), "sources", len(st.Sources))
			return nil
		}
		slog.Warn("reranker failed, falling back to score threshold", "error", err)
	}

	st.RelevantDocuments = thresholdFilter(docs, finalK, g.retrieval.RelevanceThreshold*100)
	st.Sources = buildSources(query, st.RelevantDocuments)
	st.Step("grade_threshold")
	return nil
}

// contextFilter drops candidates semantically unrelated to the current
// query, so stale context from earlier turns cannot bleed into the
// answer. Embedding failure falls back to keyword overlap.
func (g *Gate) contextFilter(ctx context.Context, query string, docs []Document) []Document {
	if g.embedder == nil {
		return keywordFilter(query, docs, g.retrieval.RelevanceThreshold)
	}

	queryVec, err := g.embedder.EmbedQuery(ctx, query)
	if err != nil {
		slog.Warn("context filter embedding failed, using keyword fallback", "error", err)
		return keywordFilter(query, docs, g.retrieval.RelevanceThreshold)
	}

	kept := make([]Document, 0, len(docs))
	removed := 0
	for _, doc := range docs {
		head := doc.Content
		if len(head) > 1000 {
			head = head[:1000]
		}
		docVec, err := g.embedder.EmbedDocuments(ctx, []string{head})
		if err != nil || len(docVec) == 0 {
			// Can't judge it; keep it rather than silently dropping.
			kept = append(kept, doc)
			continue
		}
		if cosineSimilarity(queryVec, docVec[0]) >= g.retrieval.RelevanceThreshold {
			kept = append(kept, doc)
		} else {
			removed++
		}
	}
	if removed > 0 {
		slog.Info("context filter removed documents", "before", len(docs), "after", len(kept))
	}
	return kept
}

// keywordFilter keeps documents containing at least a threshold
// fraction of the query's content words.
func keywordFilter(query string, docs []Document, threshold float64) []Document {
	queryWords := contentWords(query, classifierStopwords)
	if len(queryWords) == 0 {
		return docs
	}

	kept := make([]Document, 0, len(docs))
	for _, doc := range docs {
		docWords := contentWords(doc.Content, classifierStopwords)
		matched := 0
		for w := range queryWords {
			if _, ok := docWords[w]; ok {
				matched++
			}
		}
		if float64(matched)/float64(len(queryWords)) >= threshold {
			kept = append(kept, doc)
		}
	}
	return kept
}

// rerankDocs scores every (query, doc) pair with the cross-encoder,
// normalizes the raw logits and keeps the top k.
func (g *Gate) rerankDocs(ctx context.Context, query string, docs []Document, k int) ([]Document, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}

	raw, err := g.scorer.Score(ctx, query, texts)
	if err != nil {
		return nil, err
	}
	scores := normalizeScores(raw)

	order := make([]int, len(docs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	if len(order) > k {
		order = order[:k]
	}

	relevant := make([]Document, len(order))
	for i, idx := range order {
		doc := docs[idx]
		doc.RelevanceScore = scores[idx] * 100
		relevant[i] = doc
	}
	return relevant, nil
}

// normalizeScores maps raw cross-encoder logits into [0,1]: min-max
// across a batch, sigmoid for a single item where there is no batch to
// normalize against.
func normalizeScores(raw []float64) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}
	if len(raw) == 1 {
		out[0] = 1 / (1 + math.Exp(-raw[0]))
		return out
	}

	min, max := raw[0], raw[0]
	for _, s := range raw[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if max == min {
		for i := range out {
			out[i] = 0.5
		}
		return out
	}
	for i, s := range raw {
		out[i] = (s - min) / (max - min)
	}
	return out
}

// thresholdFilter is the no-reranker fallback: best retrieval scores
// first, keep those above the threshold, but never return nothing when
// candidates exist.
func thresholdFilter(docs []Document, k int, thresholdPct float64) []Document {
	sorted := make([]Document, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RelevanceScore > sorted[j].RelevanceScore
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}

	var relevant []Document
	for _, doc := range sorted {
		if doc.RelevanceScore >= thresholdPct || len(relevant) == 0 {
			relevant = append(relevant, doc)
		}
	}
	return relevant
}

// buildSources deduplicates kept documents by source filename, keeping
// the best-scoring chunk's details per file.
func buildSources(query string, docs []Document) []Source {
	bestByFile := make(map[string]Source)
	order := make([]string, 0, len(docs))

	for _, doc := range docs {
		filename := metaString(doc.Metadata, "source")
		if filename == "" {
			filename = "unknown"
		}
		existing, seen := bestByFile[filename]
		if seen && doc.RelevanceScore <= existing.RelevanceScore {
			continue
		}
		if !seen {
			order = append(order, filename)
		}
		bestByFile[filename] = Source{
			Source:         filename,
			Filename:       filename,
			Page:           metaInt(doc.Metadata, "page"),
			ChunkID:        metaString(doc.Metadata, "chunk_id"),
			RelevanceScore: doc.RelevanceScore,
			ContentPreview: ExtractSnippet(query, doc.Content, metaString(doc.Metadata, "parent_context")),
		}
	}

	sources := make([]Source, 0, len(order))
	for _, filename := range order {
		sources = append(sources, bestByFile[filename])
	}
	return sources
}
