package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gateDoc(source, content string, score float64) Document {
	return Document{
		Content: content,
		Metadata: map[string]any{
			"chunk_id": source + "-chunk",
			"source":   source,
			"page":     1,
		},
		RelevanceScore: score,
	}
}

func TestGradeEmptyRetrieval(t *testing.T) {
	g := NewGate(nil, nil, testRetrievalConfig())
	st := NewState("anything", "s1", "chat_1", 2)

	require.NoError(t, g.Grade(context.Background(), st))
	assert.Empty(t, st.RelevantDocuments)
	assert.Empty(t, st.Sources)
	assert.Contains(t, st.ProcessingSteps, "grade_empty")
}

func TestGradeSummarizationKeepsEverything(t *testing.T) {
	g := NewGate(nil, &fakeScorer{scores: []float64{1, 2, 3}}, testRetrievalConfig())
	st := NewState("summarize the report", "s1", "chat_1", 2)
	st.IsSummarization = true
	st.RetrievedDocuments = []Document{
		gateDoc("r.pdf", "introduction section text", 100),
		gateDoc("r.pdf", "middle section text", 100),
		gateDoc("r.pdf", "conclusion section text", 100),
	}

	require.NoError(t, g.Grade(context.Background(), st))
	assert.Equal(t, st.RetrievedDocuments, st.RelevantDocuments)
	assert.Contains(t, st.ProcessingSteps, "grade_sequential")
	assert.NotContains(t, st.ProcessingSteps, "grade_reranker")
}

func TestGradeAdaptiveK(t *testing.T) {
	docs := make([]Document, 6)
	for i := range docs {
		docs[i] = gateDoc("a.pdf", "database replication strategy notes", 50)
	}
	scores := []float64{6, 5, 4, 3, 2, 1}

	t.Run("simple keeps two", func(t *testing.T) {
		g := NewGate(nil, &fakeScorer{scores: scores}, testRetrievalConfig())
		st := NewState("database replication strategy", "s1", "chat_1", 2)
		st.QueryComplexity = ComplexitySimple
		st.RetrievedDocuments = docs

		require.NoError(t, g.Grade(context.Background(), st))
		assert.Len(t, st.RelevantDocuments, 2)
		assert.Contains(t, st.ProcessingSteps, "grade_reranker")
		// Min-max normalization puts the best raw score at 100.
		assert.InDelta(t, 100.0, st.RelevantDocuments[0].RelevanceScore, 1e-9)
		assert.InDelta(t, 80.0, st.RelevantDocuments[1].RelevanceScore, 1e-9)
	})

	t.Run("complex keeps five", func(t *testing.T) {
		g := NewGate(nil, &fakeScorer{scores: scores}, testRetrievalConfig())
		st := NewState("compare database replication strategy options", "s1", "chat_1", 2)
		st.QueryComplexity = ComplexityComplex
		st.RetrievedDocuments = docs

		require.NoError(t, g.Grade(context.Background(), st))
		assert.Len(t, st.RelevantDocuments, 5)
	})
}

func TestGradeRerankerFailureFallsBackToThreshold(t *testing.T) {
	g := NewGate(nil, &fakeScorer{err: assert.AnError}, testRetrievalConfig())
	st := NewState("database replication strategy", "s1", "chat_1", 2)
	st.QueryComplexity = ComplexityComplex
	st.RetrievedDocuments = []Document{
		gateDoc("a.pdf", "database replication strategy overview", 90),
		gateDoc("b.pdf", "database replication strategy details", 40),
		gateDoc("c.pdf", "database replication strategy appendix", 10),
	}

	require.NoError(t, g.Grade(context.Background(), st))
	assert.Contains(t, st.ProcessingSteps, "grade_threshold")
	require.Len(t, st.RelevantDocuments, 2)
	assert.InDelta(t, 90.0, st.RelevantDocuments[0].RelevanceScore, 1e-9)
	assert.InDelta(t, 40.0, st.RelevantDocuments[1].RelevanceScore, 1e-9)
}

func TestKeywordFilter(t *testing.T) {
	docs := []Document{
		gateDoc("a.pdf", "the database replication strategy is quorum based", 50),
		gateDoc("b.pdf", "completely unrelated cooking recipe", 50),
	}

	kept := keywordFilter("database replication strategy", docs, 0.30)
	require.Len(t, kept, 1)
	assert.Equal(t, "a.pdf", metaString(kept[0].Metadata, "source"))
}

func TestContextFilterEmbedFailureUsesKeywordFallback(t *testing.T) {
	g := NewGate(&fakeEmbedder{err: assert.AnError}, nil, testRetrievalConfig())

	docs := []Document{
		gateDoc("a.pdf", "database replication strategy overview", 50),
		gateDoc("b.pdf", "completely unrelated cooking recipe", 50),
	}
	kept := g.contextFilter(context.Background(), "database replication strategy", docs)
	require.Len(t, kept, 1)
	assert.Equal(t, "a.pdf", metaString(kept[0].Metadata, "source"))
}

func TestNormalizeScores(t *testing.T) {
	t.Run("single score uses sigmoid", func(t *testing.T) {
		out := normalizeScores([]float64{0})
		require.Len(t, out, 1)
		assert.InDelta(t, 0.5, out[0], 1e-9)
	})

	t.Run("batch uses min-max", func(t *testing.T) {
		out := normalizeScores([]float64{1, 3, 2})
		assert.InDelta(t, 0.0, out[0], 1e-9)
		assert.InDelta(t, 1.0, out[1], 1e-9)
		assert.InDelta(t, 0.5, out[2], 1e-9)
	})

	t.Run("identical scores map to midpoint", func(t *testing.T) {
		out := normalizeScores([]float64{4, 4, 4})
		for _, s := range out {
			assert.InDelta(t, 0.5, s, 1e-9)
		}
	})
}

func TestThresholdFilterGuaranteesOneDocument(t *testing.T) {
	docs := []Document{
		gateDoc("a.pdf", "weak match one", 12),
		gateDoc("b.pdf", "weak match two", 8),
	}

	relevant := thresholdFilter(docs, 5, 30)
	require.Len(t, relevant, 1)
	assert.InDelta(t, 12.0, relevant[0].RelevanceScore, 1e-9)
}

func TestBuildSourcesDeduplicatesByFile(t *testing.T) {
	docs := []Document{
		gateDoc("a.pdf", "first chunk about replication", 60),
		gateDoc("a.pdf", "better chunk about replication", 95),
		gateDoc("b.pdf", "other file content", 80),
	}

	sources := buildSources("replication", docs)
	require.Len(t, sources, 2)

	// First-seen file order is preserved; the best chunk's score wins.
	assert.Equal(t, "a.pdf", sources[0].Filename)
	assert.InDelta(t, 95.0, sources[0].RelevanceScore, 1e-9)
	assert.Equal(t, "b.pdf", sources[1].Filename)
	assert.NotEmpty(t, sources[0].ContentPreview)
	assert.Equal(t, 1, sources[0].Page)
}
