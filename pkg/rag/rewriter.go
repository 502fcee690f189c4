package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/petrel-ai/petrel/pkg/llms"
	"github.com/petrel-ai/petrel/pkg/memory"
)

// Rewriter reformulates the question for better retrieval, using recent
// conversation turns as context.
type Rewriter struct {
	llm    llms.Provider
	memory memory.Store
}

// NewRewriter wires the query rewriter. memory may be nil.
func NewRewriter(llm llms.Provider, mem memory.Store) *Rewriter {
	return &Rewriter{llm: llm, memory: mem}
}

// Rewrite records the model's reformulation as the retrieval query and
// increments the rewrite counter. A failed model call keeps the
// previous query; the counter still advances so the rewrite loop
// terminates.
func (r *Rewriter) Rewrite(ctx context.Context, st *State) {
	slog.Info("rewriting query", "attempt", st.RewriteCount+1)

	history := noConversationText
	if r.memory != nil && st.SessionID != "" {
		msgs, err := r.memory.History(ctx, st.SessionID, 5)
		if err != nil {
			slog.Warn("failed to read history for rewrite", "error", err)
		} else if len(msgs) > 0 {
			lines := make([]string, len(msgs))
			for i, m := range msgs {
				lines[i] = fmt.Sprintf("%s: %s", m.Role, m.Content)
			}
			history = strings.Join(lines, "\n")
		}
	}

	st.RewriteCount++
	st.Step("query_rewrite")

	prompt := fmt.Sprintf(queryRewritePrompt, st.Question, history)
	rewritten, err := r.llm.Invoke(ctx, prompt)
	if err != nil {
		perr := pipelineErr("rewriter", "invoke", "query rewrite failed", err)
		st.Errors = append(st.Errors, perr.Error())
		slog.Warn("query rewrite failed, keeping previous query", "error", err)
		return
	}
	st.RewrittenQuery = strings.TrimSpace(rewritten)
}
