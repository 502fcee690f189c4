// Package lexical provides the per-collection BM25 keyword index that
// complements dense retrieval.
package lexical

import (
	"math"
	"sort"
	"strings"
)

// BM25 Okapi parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// Chunk is an indexed document chunk.
type Chunk struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// ScoredChunk is a search hit.
type ScoredChunk struct {
	Chunk
	Score float64
}

// bm25Index holds the corpus statistics for one collection. Indices are
// immutable once built; mutation happens by building a replacement.
type bm25Index struct {
	chunks  []Chunk
	tokens  [][]string
	docFreq map[string]int
	docLen  []int
	avgLen  float64
}

// tokenize lowercases and splits on whitespace. Queries and documents
// must go through the same tokenizer or scores are meaningless.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func buildIndex(chunks []Chunk) *bm25Index {
	ix := &bm25Index{
		chunks:  chunks,
		tokens:  make([][]string, len(chunks)),
		docFreq: make(map[string]int),
		docLen:  make([]int, len(chunks)),
	}

	totalLen := 0
	for i, chunk := range chunks {
		toks := tokenize(chunk.Content)
		ix.tokens[i] = toks
		ix.docLen[i] = len(toks)
		totalLen += len(toks)

		seen := make(map[string]struct{}, len(toks))
		for _, t := range toks {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			ix.docFreq[t]++
		}
	}
	if len(chunks) > 0 {
		ix.avgLen = float64(totalLen) / float64(len(chunks))
	}
	return ix
}

// idf uses the Okapi formulation, floored at zero so very common terms
// never penalize a document.
func (ix *bm25Index) idf(term string) float64 {
	df := ix.docFreq[term]
	if df == 0 {
		return 0
	}
	n := float64(len(ix.chunks))
	v := math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1)
	if v < 0 {
		return 0
	}
	return v
}

func (ix *bm25Index) search(query string, k int) []ScoredChunk {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 || len(ix.chunks) == 0 {
		return nil
	}

	scored := make([]ScoredChunk, 0, len(ix.chunks))
	for i, chunk := range ix.chunks {
		tf := make(map[string]int, len(ix.tokens[i]))
		for _, t := range ix.tokens[i] {
			tf[t]++
		}

		score := 0.0
		for _, qt := range queryTokens {
			f := float64(tf[qt])
			if f == 0 {
				continue
			}
			norm := 1 - bm25B + bm25B*float64(ix.docLen[i])/ix.avgLen
			score += ix.idf(qt) * (f * (bm25K1 + 1)) / (f + bm25K1*norm)
		}
		if score > 0 {
			scored = append(scored, ScoredChunk{Chunk: chunk, Score: score})
		}
	}

	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
