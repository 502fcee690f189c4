package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrel-ai/petrel/pkg/config"
	"github.com/petrel-ai/petrel/pkg/lexical"
	"github.com/petrel-ai/petrel/pkg/memory"
	"github.com/petrel-ai/petrel/pkg/vector"
)

const quorumParent = "parent of c1: the replication quorum writes across three nodes"

func newTestPipeline(llm *fakeLLM, store vector.Store) (*Pipeline, memory.Store) {
	cfg := &config.Config{}
	cfg.Retrieval.SetDefaults()
	cfg.Pipeline.SetDefaults()

	mem := memory.NewInMemoryStore()
	return NewPipeline(cfg, llm, &fakeEmbedder{}, store, lexical.NewIndex(), nil, mem), mem
}

func quorumStore() *fakeStore {
	doc := testDoc("c1", "p1", "report.pdf", "the replication quorum writes across three nodes", 2)
	doc.Score = 0.9
	return &fakeStore{docs: []vector.Document{doc}}
}

func collectEvents(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestAskGreetingShortCircuits(t *testing.T) {
	llm := &fakeLLM{}
	p, _ := newTestPipeline(llm, quorumStore())

	reply, err := p.Ask(context.Background(), Request{Question: "hi", SessionID: "s1", Collection: "chat_1"})
	require.NoError(t, err)

	assert.Equal(t, greetingReply, reply.Answer)
	assert.True(t, reply.WasGrounded)
	assert.InDelta(t, 1.0, reply.Confidence, 1e-9)
	assert.Empty(t, reply.Sources)
	assert.Empty(t, llm.promptList(), "greeting must not touch the model")
}

func TestAskGarbageShortCircuits(t *testing.T) {
	llm := &fakeLLM{}
	p, _ := newTestPipeline(llm, quorumStore())

	reply, err := p.Ask(context.Background(), Request{Question: "!!!", SessionID: "s1", Collection: "chat_1"})
	require.NoError(t, err)

	assert.Equal(t, garbageReply, reply.Answer)
	assert.True(t, reply.WasGrounded)
	assert.Empty(t, reply.Sources)
	assert.Empty(t, llm.promptList())
}

func TestRunRetrievalGarbageTerminates(t *testing.T) {
	p, _ := newTestPipeline(&fakeLLM{}, quorumStore())
	st := NewState("!!!", "s1", "chat_1", 2)
	st.IsGarbage = true

	require.NoError(t, p.runRetrieval(context.Background(), st))
	assert.Equal(t, garbageQueryReply, st.Answer)
	assert.Equal(t, ComplexityGarbage, st.QueryComplexity)
	assert.Contains(t, st.ProcessingSteps, "handle_garbage_query")
	assert.Empty(t, st.RetrievedDocuments)
}

func TestAskSimpleQuestionEndToEnd(t *testing.T) {
	answer := "The replication quorum writes across three nodes."
	llm := &fakeLLM{responses: []string{"QUESTION", answer}}
	p, mem := newTestPipeline(llm, quorumStore())

	reply, err := p.Ask(context.Background(), Request{
		Question:   "What is the replication protocol?",
		SessionID:  "s1",
		Collection: "chat_1",
	})
	require.NoError(t, err)

	assert.Equal(t, answer, reply.Answer)
	assert.True(t, reply.WasGrounded)
	// Simple query with a high-confidence hit skips verification; the
	// retrieval score carries through as confidence.
	assert.InDelta(t, 0.9, reply.Confidence, 1e-9)

	require.Len(t, reply.Sources, 1)
	assert.Equal(t, "report.pdf", reply.Sources[0].Filename)
	assert.Equal(t, 2, reply.Sources[0].Page)
	assert.NotEmpty(t, reply.Sources[0].ContentPreview)

	prompts := llm.promptList()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "Classify")
	assert.Contains(t, prompts[1], quorumParent)
	assert.Contains(t, prompts[1], "What is the replication protocol?")

	history, err := mem.History(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Nil(t, history[0].Metadata)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, answer, history[1].Content)

	// The assistant turn records its grounding sources.
	saved, ok := history[1].Metadata["sources"].([]Source)
	require.True(t, ok)
	require.Len(t, saved, 1)
	assert.Equal(t, "report.pdf", saved[0].Filename)
}

func TestAskSelfCorrectionRetry(t *testing.T) {
	llm := &fakeLLM{responses: []string{
		"QUESTION",
		"replication quorum writes comparison", // rewrite
		"zeppelin telemetry unicorn magic",     // first draft, fabricated
		quorumParent,                           // retry, verbatim from context
	}}
	p, _ := newTestPipeline(llm, quorumStore())

	reply, err := p.Ask(context.Background(), Request{
		Question:   "compare replication and backups",
		SessionID:  "s1",
		Collection: "chat_1",
	})
	require.NoError(t, err)

	assert.Equal(t, quorumParent, reply.Answer)
	assert.True(t, reply.WasGrounded)
	assert.InDelta(t, 1.0, reply.Confidence, 1e-9)

	prompts := llm.promptList()
	require.Len(t, prompts, 4)
	assert.Contains(t, prompts[1], "Rewritten query")
	assert.Contains(t, prompts[3], "previous answer may have included unsupported information")
}

func TestAskFollowupWithoutHistoryRunsRetrieval(t *testing.T) {
	answer := "The replication protocol uses quorum writes."
	llm := &fakeLLM{responses: []string{
		"replication quorum writes overview", // rewrite after empty first pass
		answer,
	}}
	p, _ := newTestPipeline(llm, quorumStore())

	reply, err := p.Ask(context.Background(), Request{
		Question:   "tell me more",
		SessionID:  "s1",
		Collection: "chat_1",
	})
	require.NoError(t, err)

	// With no previous turn the followup downgrades to a question: the
	// vague query retrieves nothing relevant, gets rewritten, then answers
	// from documents.
	assert.Equal(t, answer, reply.Answer)
	assert.True(t, reply.WasGrounded)
	require.Len(t, reply.Sources, 1)

	prompts := llm.promptList()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "tell me more")
	assert.Contains(t, prompts[0], "Rewritten query")
}

func TestAskEmptyCollection(t *testing.T) {
	answer := "I don't have any documents yet."
	llm := &fakeLLM{responses: []string{"QUESTION", answer}}
	p, _ := newTestPipeline(llm, &fakeStore{})

	reply, err := p.Ask(context.Background(), Request{
		Question:   "What is the replication protocol?",
		SessionID:  "s1",
		Collection: "chat_1",
	})
	require.NoError(t, err)

	assert.Equal(t, answer, reply.Answer)
	assert.True(t, reply.WasGrounded)
	assert.InDelta(t, 1.0, reply.Confidence, 1e-9)
	assert.Empty(t, reply.Sources)

	prompts := llm.promptList()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "No relevant documents found")
}

func TestStreamOrderingForQuestion(t *testing.T) {
	answer := "The replication quorum writes across three nodes."
	llm := &fakeLLM{responses: []string{"QUESTION", answer}}
	p, mem := newTestPipeline(llm, quorumStore())

	events := collectEvents(p.Stream(context.Background(), Request{
		Question:   "What is the replication protocol?",
		SessionID:  "s1",
		Collection: "chat_1",
	}))
	require.GreaterOrEqual(t, len(events), 5)

	phase, ok := events[0].(PhaseEvent)
	require.True(t, ok)
	assert.Equal(t, "searching", phase.Phase)

	sources, ok := events[1].(SourcesEvent)
	require.True(t, ok)
	require.Len(t, sources.Sources, 1)
	assert.Equal(t, "report.pdf", sources.Sources[0].Filename)

	phase, ok = events[2].(PhaseEvent)
	require.True(t, ok)
	assert.Equal(t, "generating", phase.Phase)

	var streamed strings.Builder
	for _, ev := range events[3 : len(events)-1] {
		token, ok := ev.(TokenEvent)
		require.True(t, ok, "only tokens may appear between generating and done")
		streamed.WriteString(token.Content)
	}
	assert.Equal(t, answer, strings.TrimSpace(streamed.String()))

	done, ok := events[len(events)-1].(DoneEvent)
	require.True(t, ok)
	assert.True(t, done.WasGrounded)
	assert.NotEmpty(t, done.MessageID)

	// Exactly one sources and one done event per stream.
	sourcesCount, doneCount := 0, 0
	for _, ev := range events {
		switch ev.(type) {
		case SourcesEvent:
			sourcesCount++
		case DoneEvent:
			doneCount++
		}
	}
	assert.Equal(t, 1, sourcesCount)
	assert.Equal(t, 1, doneCount)

	history, err := mem.History(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestStreamCancelledEmitsError(t *testing.T) {
	llm := &fakeLLM{}
	p, _ := newTestPipeline(llm, quorumStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := collectEvents(p.Stream(ctx, Request{
		Question:   "What is the replication protocol?",
		SessionID:  "s1",
		Collection: "chat_1",
	}))

	require.Len(t, events, 1)
	errEvent, ok := events[0].(ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "cancelled", errEvent.Code)
}

func TestStreamGreeting(t *testing.T) {
	llm := &fakeLLM{}
	p, _ := newTestPipeline(llm, quorumStore())

	events := collectEvents(p.Stream(context.Background(), Request{
		Question:   "hi",
		SessionID:  "s1",
		Collection: "chat_1",
	}))
	require.Len(t, events, 5)

	assert.Equal(t, "searching", events[0].(PhaseEvent).Phase)
	assert.Empty(t, events[1].(SourcesEvent).Sources)
	assert.Equal(t, "generating", events[2].(PhaseEvent).Phase)
	assert.Equal(t, greetingReply, events[3].(TokenEvent).Content)
	assert.True(t, events[4].(DoneEvent).WasGrounded)
	assert.Empty(t, llm.promptList())
}
