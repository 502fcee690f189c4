package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/petrel-ai/petrel/pkg/llms"
	"github.com/petrel-ai/petrel/pkg/vector"
)

// fakeLLM replays scripted responses and records every prompt.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
	err       error
}

func (f *fakeLLM) next() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "ok", nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeLLM) record(prompt string) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
}

func (f *fakeLLM) Invoke(_ context.Context, prompt string) (string, error) {
	f.record(prompt)
	return f.next()
}

func (f *fakeLLM) Stream(_ context.Context, prompt string) (<-chan llms.StreamChunk, error) {
	f.record(prompt)
	resp, err := f.next()
	if err != nil {
		return nil, err
	}
	ch := make(chan llms.StreamChunk, len(resp)+2)
	for _, word := range strings.SplitAfter(resp, " ") {
		ch <- llms.StreamChunk{Type: "text", Text: word}
	}
	ch <- llms.StreamChunk{Type: "done"}
	close(ch)
	return ch, nil
}

func (f *fakeLLM) ModelName() string { return "fake" }

func (f *fakeLLM) promptList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// fakeEmbedder embeds text as a bag-of-words vector: identical strings
// are identical vectors, disjoint strings are orthogonal.
type fakeEmbedder struct {
	err error
}

const fakeDim = 128

func bagOfWords(text string) []float32 {
	vec := make([]float32, fakeDim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := 0
		for _, r := range w {
			h = h*31 + int(r)
		}
		if h < 0 {
			h = -h
		}
		vec[h%fakeDim]++
	}
	return vec
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return bagOfWords(text), nil
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = bagOfWords(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int      { return fakeDim }
func (f *fakeEmbedder) Fingerprint() string { return "fake/bow" }

// fakeStore serves a fixed document list regardless of query vector.
type fakeStore struct {
	docs      []vector.Document
	searchErr error
}

func (f *fakeStore) Add(context.Context, string, []vector.Document, [][]float32) error {
	return nil
}

func (f *fakeStore) SimilaritySearch(_ context.Context, _ string, _ []float32, k int) ([]vector.Document, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.docs) > k {
		return f.docs[:k], nil
	}
	return f.docs, nil
}

func (f *fakeStore) AllChunks(_ context.Context, _ string, limit int) ([]vector.Document, error) {
	if limit > 0 && len(f.docs) > limit {
		return f.docs[:limit], nil
	}
	return f.docs, nil
}

func (f *fakeStore) DeleteByMetadata(context.Context, string, map[string]string) error { return nil }
func (f *fakeStore) DeleteCollection(context.Context, string) error                    { return nil }
func (f *fakeStore) ListCollections(context.Context) ([]string, error)                 { return nil, nil }

func (f *fakeStore) CollectionInfo(context.Context, string) (*vector.CollectionInfo, error) {
	if len(f.docs) == 0 {
		return nil, nil
	}
	return &vector.CollectionInfo{Name: "test", Count: len(f.docs), Embedder: "fake/bow"}, nil
}

func (f *fakeStore) Close() error { return nil }

// fakeScorer returns scripted raw scores in document order.
type fakeScorer struct {
	scores []float64
	err    error
}

func (f *fakeScorer) Score(_ context.Context, _ string, docs []string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.scores) >= len(docs) {
		return f.scores[:len(docs)], nil
	}
	out := make([]float64, len(docs))
	copy(out, f.scores)
	return out, nil
}

// testDoc builds a retrieval-shaped child chunk document.
func testDoc(chunkID, parentID, source, content string, page int) vector.Document {
	return vector.Document{
		ID:      chunkID,
		Content: content,
		Metadata: map[string]any{
			"chunk_id":       chunkID,
			"doc_id":         "doc-" + source,
			"parent_id":      parentID,
			"parent_context": fmt.Sprintf("parent of %s: %s", chunkID, content),
			"source":         source,
			"page":           page,
		},
	}
}
