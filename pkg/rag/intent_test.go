package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-ai/petrel/pkg/config"
)

func testPipelineConfig() *config.PipelineConfig {
	cfg := &config.PipelineConfig{}
	cfg.SetDefaults()
	return cfg
}

func TestLayer0HardRules(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantIntent string
		wantConf   float64
		wantHit    bool
	}{
		{"empty", "", IntentGarbage, 1.0, true},
		{"single char", "x", IntentGarbage, 1.0, true},
		{"punctuation only", "!!!", IntentGarbage, 1.0, true},
		{"digits only", "12345", IntentGarbage, 1.0, true},
		{"one letter in noise", "a@#$%", IntentGarbage, 1.0, true},
		{"stopword spam", "the the the", IntentGarbage, 0.95, true},
		{"keyboard spam", "aaaaaaa", IntentGarbage, 0.95, true},
		{"two char repeat", "ababab", IntentGarbage, 0.95, true},
		{"real question", "What is the CAP theorem?", "", 0, false},
		{"short but real", "hi", "", 0, false},
		{"stopwords but long", "what is the state of the art in this and that and more", "", 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			intent, conf, hit := layer0HardRules(tc.query)
			assert.Equal(t, tc.wantHit, hit)
			if tc.wantHit {
				assert.Equal(t, tc.wantIntent, intent)
				assert.InDelta(t, tc.wantConf, conf, 1e-9)
			}
		})
	}
}

func TestLayer1SemanticExactExemplarMatch(t *testing.T) {
	c := NewClassifier(nil, &fakeEmbedder{}, testPipelineConfig())

	intent, conf := c.Classify(context.Background(), "hi")
	assert.Equal(t, IntentGreeting, intent)
	assert.GreaterOrEqual(t, conf, 0.85)

	intent, conf = c.Classify(context.Background(), "tell me more")
	assert.Equal(t, IntentFollowup, intent)
	assert.GreaterOrEqual(t, conf, 0.85)
}

func TestLayer1DisabledWhenEmbeddingsFail(t *testing.T) {
	llm := &fakeLLM{responses: []string{"QUESTION"}}
	c := NewClassifier(llm, &fakeEmbedder{err: assert.AnError}, testPipelineConfig())

	intent, conf := c.Classify(context.Background(), "tell me about the report")
	assert.Equal(t, IntentQuestion, intent)
	assert.InDelta(t, 0.70, conf, 1e-9)
	require.Len(t, llm.promptList(), 1)
}

func TestLayer2ParsesCategories(t *testing.T) {
	tests := []struct {
		response   string
		wantIntent string
		wantConf   float64
	}{
		{"GREETING", IntentGreeting, 0.70},
		{"OFF_TOPIC", IntentOffTopic, 0.70},
		{"the category is COMMAND", IntentCommand, 0.70},
		{"no idea", IntentQuestion, 0.50},
	}

	for _, tc := range tests {
		t.Run(tc.response, func(t *testing.T) {
			llm := &fakeLLM{responses: []string{tc.response}}
			c := NewClassifier(llm, nil, testPipelineConfig())

			intent, conf := c.Classify(context.Background(), "something ambiguous here today")
			assert.Equal(t, tc.wantIntent, intent)
			assert.InDelta(t, tc.wantConf, conf, 1e-9)
		})
	}
}

func TestLayer2ModelFailureDefaultsToQuestion(t *testing.T) {
	llm := &fakeLLM{err: assert.AnError}
	c := NewClassifier(llm, nil, testPipelineConfig())

	intent, conf := c.Classify(context.Background(), "something ambiguous here today")
	assert.Equal(t, IntentQuestion, intent)
	assert.InDelta(t, 0.30, conf, 1e-9)
}

func TestClassifyNoLLMDefaultsToQuestion(t *testing.T) {
	c := NewClassifier(nil, nil, testPipelineConfig())

	intent, conf := c.Classify(context.Background(), "what does chapter two say about revenue")
	assert.Equal(t, IntentQuestion, intent)
	assert.InDelta(t, 0.50, conf, 1e-9)
}

func TestRouteQuery(t *testing.T) {
	tests := []struct {
		query          string
		wantComplexity string
		wantSkip       bool
	}{
		{"What is the CAP theorem?", ComplexitySimple, true},
		{"Compare the two proposals", ComplexityComplex, false},
		{"what is the difference between them", ComplexityComplex, false},
		{"Who wrote it? When? Why?", ComplexityComplex, false},
		{"Define consistency", ComplexitySimple, true},
	}

	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			complexity, skip := routeQuery(tc.query)
			assert.Equal(t, tc.wantComplexity, complexity)
			assert.Equal(t, tc.wantSkip, skip)
		})
	}
}

func TestIsSummarizeQuery(t *testing.T) {
	assert.True(t, isSummarizeQuery("summarize the document"))
	assert.True(t, isSummarizeQuery("give me an overview"))
	assert.True(t, isSummarizeQuery("what are the main points"))
	assert.False(t, isSummarizeQuery("what does page three say"))
}
