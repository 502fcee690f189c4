package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/petrel-ai/petrel/pkg/llms"
	"github.com/petrel-ai/petrel/pkg/memory"
)

const emptyContextText = "No relevant documents found in the knowledge base."

// Generator produces the answer from the relevant documents.
type Generator struct {
	llm    llms.Provider
	memory memory.Store
}

// NewGenerator wires the generator. memory may be nil.
func NewGenerator(llm llms.Provider, mem memory.Store) *Generator {
	return &Generator{llm: llm, memory: mem}
}

// Generate invokes the model to completion and records the answer.
func (g *Generator) Generate(ctx context.Context, st *State) error {
	prompt := g.buildPrompt(ctx, st)

	response, err := g.llm.Invoke(ctx, prompt)
	if err != nil {
		return pipelineErr("generator", "invoke", "generation failed", err)
	}
	st.Answer = strings.TrimSpace(response)
	st.Step("generate")
	return nil
}

// GenerateStream starts a streaming generation. The caller consumes
// chunks and assembles the answer; the prompt is identical to the
// non-streaming path.
func (g *Generator) GenerateStream(ctx context.Context, st *State) (<-chan llms.StreamChunk, error) {
	prompt := g.buildPrompt(ctx, st)

	chunks, err := g.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, pipelineErr("generator", "stream", "generation failed", err)
	}
	st.Step("generate")
	return chunks, nil
}

// buildPrompt assembles the generation prompt. Retries use the stricter
// template that drops chat history and demands strict adherence to the
// provided context.
func (g *Generator) buildPrompt(ctx context.Context, st *State) string {
	context := g.buildContext(st.RelevantDocuments)

	if st.Iteration > 0 {
		slog.Info("generating with retry prompt", "iteration", st.Iteration)
		return fmt.Sprintf(generationRetryPrompt, context, st.Question)
	}
	return fmt.Sprintf(generationPrompt, context, g.chatHistory(ctx, st.SessionID), st.Question)
}

// buildContext concatenates documents under bracketed source headers.
func (g *Generator) buildContext(docs []Document) string {
	if len(docs) == 0 {
		return emptyContextText
	}
	parts := make([]string, len(docs))
	for i, doc := range docs {
		source := metaString(doc.Metadata, "source")
		if source == "" {
			source = "unknown"
		}
		pageStr := ""
		if page := metaInt(doc.Metadata, "page"); page > 0 {
			pageStr = fmt.Sprintf(" (page %d)", page)
		}
		parts[i] = fmt.Sprintf("[Source %d: %s%s]\n%s", i+1, source, pageStr, doc.Content)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// chatHistory renders the last five turns as "role: content" lines.
func (g *Generator) chatHistory(ctx context.Context, sessionID string) string {
	if g.memory == nil || sessionID == "" {
		return noConversationText
	}
	history, err := g.memory.History(ctx, sessionID, 5)
	if err != nil {
		slog.Warn("failed to read chat history for generation", "error", err)
		return noConversationText
	}
	if len(history) == 0 {
		return noConversationText
	}
	lines := make([]string, len(history))
	for i, msg := range history {
		lines[i] = fmt.Sprintf("%s: %s", msg.Role, msg.Content)
	}
	return strings.Join(lines, "\n")
}
