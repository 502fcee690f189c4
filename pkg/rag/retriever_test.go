package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-ai/petrel/pkg/config"
	"github.com/petrel-ai/petrel/pkg/lexical"
	"github.com/petrel-ai/petrel/pkg/vector"
)

func testRetrievalConfig() *config.RetrievalConfig {
	cfg := &config.RetrievalConfig{}
	cfg.SetDefaults()
	return cfg
}

func cand(chunkID, content string, score float64) candidate {
	return candidate{
		content:  content,
		metadata: map[string]any{"chunk_id": chunkID},
		score:    score,
	}
}

func TestRRFFusionAsymmetricRanks(t *testing.T) {
	// A sits at dense rank 1 and keyword rank 3; B only at dense rank 2.
	// A must outrank B regardless of raw scores.
	dense := []candidate{
		cand("A", "alpha", 0.9),
		cand("B", "beta", 0.8),
		cand("C", "gamma", 0.7),
	}
	keyword := []candidate{
		cand("D", "delta", 11.0),
		cand("E", "epsilon", 7.0),
		cand("A", "alpha", 3.0),
	}

	fused := rrfFusion(dense, keyword, 60, 10)
	require.NotEmpty(t, fused)
	assert.Equal(t, "A", metaString(fused[0].metadata, "chunk_id"))

	posA, posB := -1, -1
	for i, c := range fused {
		switch metaString(c.metadata, "chunk_id") {
		case "A":
			posA = i
		case "B":
			posB = i
		}
	}
	require.GreaterOrEqual(t, posA, 0)
	require.GreaterOrEqual(t, posB, 0)
	assert.Less(t, posA, posB)
}

func TestRRFFusionIgnoresRawScores(t *testing.T) {
	dense := []candidate{cand("A", "alpha", 0.9), cand("B", "beta", 0.5)}
	keyword := []candidate{cand("B", "beta", 2.0), cand("C", "gamma", 1.0)}

	baseline := rrfFusion(dense, keyword, 60, 10)

	// Scaling every raw score must not change the fused order.
	scale := func(cands []candidate, f float64) []candidate {
		out := make([]candidate, len(cands))
		for i, c := range cands {
			c.score = c.score * f
			out[i] = c
		}
		return out
	}
	scaled := rrfFusion(scale(dense, 1000), scale(keyword, 0.001), 60, 10)

	require.Equal(t, len(baseline), len(scaled))
	for i := range baseline {
		assert.Equal(t,
			metaString(baseline[i].metadata, "chunk_id"),
			metaString(scaled[i].metadata, "chunk_id"))
	}
}

func TestFusionIDFallsBackToContentHash(t *testing.T) {
	a := candidate{content: "same leading content for identity purposes"}
	b := candidate{content: "same leading content for identity purposes"}
	c := candidate{content: "different content entirely"}

	assert.Equal(t, fusionID(a), fusionID(b))
	assert.NotEqual(t, fusionID(a), fusionID(c))
}

func TestExpandToParentsDeduplicates(t *testing.T) {
	meta := func(chunk, parent string) map[string]any {
		return map[string]any{
			"chunk_id":       chunk,
			"parent_id":      parent,
			"parent_context": "parent text of " + parent,
		}
	}
	results := []candidate{
		{content: "child one", metadata: meta("c1", "p1"), score: 0.9},
		{content: "child two", metadata: meta("c2", "p1"), score: 0.8},
		{content: "child three", metadata: meta("c3", "p2"), score: 0.7},
		{content: "orphan", metadata: map[string]any{"chunk_id": "c4"}, score: 0.6},
	}

	expanded := expandToParents(results, 10)
	require.Len(t, expanded, 3)

	assert.Equal(t, "parent text of p1", expanded[0].content)
	assert.Equal(t, true, expanded[0].metadata["expanded_from_child"])
	assert.InDelta(t, 0.9, expanded[0].metadata["retrieval_score"], 1e-9)

	assert.Equal(t, "parent text of p2", expanded[1].content)
	// Orphans pass through with their own content and no flag.
	assert.Equal(t, "orphan", expanded[2].content)
	_, flagged := expanded[2].metadata["expanded_from_child"]
	assert.False(t, flagged)
}

func TestSearchSingleSourcePreservesRanking(t *testing.T) {
	// Empty lexical index: only dense results exist, fusion is skipped.
	docs := []vector.Document{
		testDoc("c1", "p1", "a.pdf", "first ranked content", 1),
		testDoc("c2", "p2", "a.pdf", "second ranked content", 2),
	}
	docs[0].Score = 0.92
	docs[1].Score = 0.85

	r := NewRetriever(&fakeStore{docs: docs}, lexical.NewIndex(), &fakeEmbedder{}, testRetrievalConfig())

	results, err := r.search(context.Background(), "ranked content", "chat_1", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", metaString(results[0].metadata, "chunk_id"))
	assert.InDelta(t, 0.92, results[0].score, 1e-9)
}

func TestRetrieveMarksEmptyCollection(t *testing.T) {
	r := NewRetriever(&fakeStore{}, lexical.NewIndex(), &fakeEmbedder{}, testRetrievalConfig())
	st := NewState("anything at all", "s1", "chat_1", 2)

	require.NoError(t, r.Retrieve(context.Background(), st))
	assert.Empty(t, st.RetrievedDocuments)
	assert.True(t, st.CollectionEmpty)
	assert.Contains(t, st.ProcessingSteps, "retrieve_hybrid")
}

func TestRetrieveScoresArePercentages(t *testing.T) {
	docs := []vector.Document{testDoc("c1", "p1", "a.pdf", "relevant content here", 1)}
	docs[0].Score = 0.9

	r := NewRetriever(&fakeStore{docs: docs}, lexical.NewIndex(), &fakeEmbedder{}, testRetrievalConfig())
	st := NewState("relevant content", "s1", "chat_1", 2)

	require.NoError(t, r.Retrieve(context.Background(), st))
	require.Len(t, st.RetrievedDocuments, 1)
	assert.InDelta(t, 90.0, st.RetrievedDocuments[0].RelevanceScore, 1e-9)
}

func TestRetrieveSequentialOrdersAndDeduplicates(t *testing.T) {
	docs := []vector.Document{
		testDoc("c3", "p2", "a.pdf", "page two child", 2),
		testDoc("c1", "p1", "a.pdf", "page one child a", 1),
		testDoc("c2", "p1", "a.pdf", "page one child b", 1),
	}
	// String page numbers must still sort; unparseable ones go last.
	docs = append(docs, vector.Document{
		ID:      "c4",
		Content: "string page child",
		Metadata: map[string]any{
			"chunk_id":       "c4",
			"parent_id":      "p9",
			"parent_context": "parent text of p9",
			"source":         "a.pdf",
			"page":           "not-a-page",
		},
	})

	r := NewRetriever(&fakeStore{docs: docs}, lexical.NewIndex(), &fakeEmbedder{}, testRetrievalConfig())
	st := NewState("summarize the document", "s1", "chat_1", 2)

	require.NoError(t, r.RetrieveSequential(context.Background(), st))
	assert.True(t, st.IsSummarization)
	require.Len(t, st.RetrievedDocuments, 3) // p1 deduped, p2, p9

	assert.Equal(t, "parent of c1: page one child a", st.RetrievedDocuments[0].Content)
	assert.Equal(t, "parent of c3: page two child", st.RetrievedDocuments[1].Content)
	assert.Equal(t, "parent text of p9", st.RetrievedDocuments[2].Content)
	for _, doc := range st.RetrievedDocuments {
		assert.InDelta(t, 100.0, doc.RelevanceScore, 1e-9)
	}
}

func TestRetrieveSequentialEmptyCollection(t *testing.T) {
	r := NewRetriever(&fakeStore{}, lexical.NewIndex(), &fakeEmbedder{}, testRetrievalConfig())
	st := NewState("summarize", "s1", "chat_1", 2)

	require.NoError(t, r.RetrieveSequential(context.Background(), st))
	assert.True(t, st.CollectionEmpty)
	assert.Contains(t, st.ProcessingSteps, "retrieve_sequential_empty")
}
