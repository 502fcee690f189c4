package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quorumSource = "the replication protocol uses quorum writes across three nodes"

func verifierState(answer string, docs []Document) *State {
	st := NewState("how does replication work", "s1", "chat_1", 2)
	st.QueryComplexity = ComplexityComplex
	st.Answer = answer
	st.RelevantDocuments = docs
	return st
}

func TestCheckSkipsWithoutDocuments(t *testing.T) {
	v := NewVerifier(nil, testPipelineConfig())
	st := verifierState("no sources were found", nil)

	require.NoError(t, v.Check(context.Background(), st))
	assert.True(t, st.IsGrounded)
	assert.InDelta(t, 1.0, st.GroundednessScore, 1e-9)
	assert.True(t, st.SkipLLMCheck)
	assert.Equal(t, 1, st.Iteration)
	assert.Contains(t, st.ProcessingSteps, "hallucination_skip")
}

func TestCheckSkipsSimpleHighConfidence(t *testing.T) {
	v := NewVerifier(nil, testPipelineConfig())
	st := verifierState("quorum writes", []Document{
		{Content: quorumSource, RelevanceScore: 85},
	})
	st.QueryComplexity = ComplexitySimple

	require.NoError(t, v.Check(context.Background(), st))
	assert.True(t, st.IsGrounded)
	assert.InDelta(t, 0.85, st.GroundednessScore, 1e-9)
	assert.Contains(t, st.ProcessingSteps, "hallucination_skip_simple_highconf")
}

func TestCheckFastPassOnVerbatimAnswer(t *testing.T) {
	v := NewVerifier(nil, testPipelineConfig())
	st := verifierState(quorumSource, []Document{
		{Content: quorumSource, RelevanceScore: 50},
	})

	require.NoError(t, v.Check(context.Background(), st))
	assert.True(t, st.IsGrounded)
	assert.GreaterOrEqual(t, st.FastGroundednessScore, 0.80)
	assert.True(t, st.SkipLLMCheck)
	assert.Equal(t, 1, st.Iteration)
	assert.Contains(t, st.ProcessingSteps, "hallucination_fast_pass")
}

func TestCheckFastFailOnFabricatedAnswer(t *testing.T) {
	v := NewVerifier(nil, testPipelineConfig())
	st := verifierState("zeppelin telemetry unicorn magic", []Document{
		{Content: quorumSource, RelevanceScore: 50},
	})

	require.NoError(t, v.Check(context.Background(), st))
	assert.False(t, st.IsGrounded)
	assert.Less(t, st.FastGroundednessScore, 0.30)
	assert.Equal(t, ungroundedDetails, st.HallucinationDetails)
	assert.Equal(t, 1, st.Iteration)
	assert.Contains(t, st.ProcessingSteps, "hallucination_fast_fail")
}

func TestCheckAmbiguousBandConsultsModel(t *testing.T) {
	// Three of four content words match, no matching trigram: the fast
	// score lands between the fail and pass cutoffs.
	ambiguous := "replication quorum writes zeppelin"
	docs := []Document{{Content: quorumSource, RelevanceScore: 50}}

	t.Run("model confirms grounded", func(t *testing.T) {
		llm := &fakeLLM{responses: []string{"GROUNDED: yes\nSCORE: 0.9\nISSUES: none"}}
		v := NewVerifier(llm, testPipelineConfig())
		st := verifierState(ambiguous, docs)

		require.NoError(t, v.Check(context.Background(), st))
		assert.True(t, st.IsGrounded)
		assert.InDelta(t, 0.9, st.GroundednessScore, 1e-9)
		assert.Empty(t, st.HallucinationDetails)
		assert.False(t, st.SkipLLMCheck)
		assert.Contains(t, st.ProcessingSteps, "hallucination_llm_check")
		require.Len(t, llm.promptList(), 1)
		assert.Contains(t, llm.promptList()[0], quorumSource)
	})

	t.Run("model rejects answer", func(t *testing.T) {
		llm := &fakeLLM{responses: []string{"GROUNDED: no\nSCORE: 0.2\nISSUES: invented zeppelin telemetry"}}
		v := NewVerifier(llm, testPipelineConfig())
		st := verifierState(ambiguous, docs)

		require.NoError(t, v.Check(context.Background(), st))
		assert.False(t, st.IsGrounded)
		assert.InDelta(t, 0.2, st.GroundednessScore, 1e-9)
		assert.Equal(t, "invented zeppelin telemetry", st.HallucinationDetails)
	})

	t.Run("model failure keeps fast score", func(t *testing.T) {
		v := NewVerifier(&fakeLLM{err: assert.AnError}, testPipelineConfig())
		st := verifierState(ambiguous, docs)

		require.NoError(t, v.Check(context.Background(), st))
		assert.True(t, st.IsGrounded)
		assert.InDelta(t, st.FastGroundednessScore, st.GroundednessScore, 1e-9)
		assert.Equal(t, 1, st.Iteration)
	})
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name         string
		analysis     string
		wantGrounded bool
		wantScore    float64
		wantIssues   string
	}{
		{"full verdict", "GROUNDED: yes\nSCORE: 0.95\nISSUES: none", true, 0.95, ""},
		{"rejection", "GROUNDED: no\nSCORE: 0.1\nISSUES: made up a date", false, 0.1, "made up a date"},
		{"empty score falls back", "GROUNDED: yes\nSCORE:\nISSUES: none", true, 0.42, ""},
		{"garbled score falls back", "GROUNDED: yes\nSCORE: high\nISSUES: none", true, 0.42, ""},
		{"missing everything", "I cannot tell.", false, 0.42, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			grounded, score, issues := parseVerdict(tc.analysis, 0.42)
			assert.Equal(t, tc.wantGrounded, grounded)
			assert.InDelta(t, tc.wantScore, score, 1e-9)
			assert.Equal(t, tc.wantIssues, issues)
		})
	}
}

func TestFastGroundedness(t *testing.T) {
	docs := []Document{{Content: quorumSource}}

	t.Run("verbatim copy scores one", func(t *testing.T) {
		assert.InDelta(t, 1.0, fastGroundedness(quorumSource, docs), 1e-9)
	})

	t.Run("fabrication scores zero", func(t *testing.T) {
		assert.InDelta(t, 0.0, fastGroundedness("zeppelin telemetry unicorn magic", docs), 1e-9)
	})

	t.Run("stopword-only answer is neutral", func(t *testing.T) {
		assert.InDelta(t, 0.5, fastGroundedness("it is what it is", docs), 1e-9)
	})

	t.Run("empty sources are neutral", func(t *testing.T) {
		assert.InDelta(t, 0.5, fastGroundedness("anything", []Document{{Content: "   "}}), 1e-9)
	})
}
