package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/petrel-ai/petrel/pkg/llms"
	"github.com/petrel-ai/petrel/pkg/memory"
)

// Canonical replies for intents that never touch retrieval.
const (
	greetingReply  = "Hello! How can I help you with your documents today?"
	gratitudeReply = "You're welcome! Feel free to ask if you have more questions about your documents."
	garbageReply   = "I didn't quite understand that. Could you rephrase your question about the documents?"
	offTopicReply  = "I'm designed to help you with questions about your uploaded documents. Is there something specific in your documents you'd like to know about?"

	// noContextReply is surfaced when a conversation-dependent handler
	// finds no previous assistant turn to work with.
	noContextReply = "I don't have a previous answer to work with. Could you ask a specific question about your documents first?"

	// garbageQueryReply is the router-branch variant of the garbage reply.
	garbageQueryReply = "I'm not sure I understand your question. Could you please rephrase it or ask something about the documents?"
)

// handlerResult is the outcome of a non-retrieval intent handler.
type handlerResult struct {
	answer  string
	handler string
	// needsRAG marks a context-aware handler that found no prior answer.
	needsRAG bool
}

// intentHandlers dispatches non-retrieval intents. Simple intents get a
// fixed reply; followup/simplify/deepen rework the previous assistant
// answer through the model.
type intentHandlers struct {
	llm    llms.Provider
	memory memory.Store
}

func newIntentHandlers(llm llms.Provider, mem memory.Store) *intentHandlers {
	return &intentHandlers{llm: llm, memory: mem}
}

// dispatch routes the intent to its handler. Unknown intents fall back
// to retrieval.
func (h *intentHandlers) dispatch(ctx context.Context, intent, query, sessionID string) handlerResult {
	switch intent {
	case IntentGreeting:
		return handlerResult{answer: greetingReply, handler: "handle_greeting"}
	case IntentGratitude:
		return handlerResult{answer: gratitudeReply, handler: "handle_gratitude"}
	case IntentGarbage:
		return handlerResult{answer: garbageReply, handler: "handle_garbage"}
	case IntentOffTopic:
		return handlerResult{answer: offTopicReply, handler: "handle_off_topic"}
	case IntentFollowup:
		return h.rework(ctx, query, sessionID, "handle_followup", followupPrompt,
			"I'd like to tell you more, but I encountered an issue. Could you ask a specific question instead?")
	case IntentSimplify:
		return h.rework(ctx, query, sessionID, "handle_simplify", simplifyPrompt,
			"I'd like to simplify that, but I encountered an issue. Could you ask your question again?")
	case IntentDeepen:
		return h.rework(ctx, query, sessionID, "handle_deepen", deepenPrompt,
			"I'd like to go deeper on that, but I encountered an issue. Could you ask a more specific question?")
	}
	slog.Warn("unknown intent, falling back to retrieval", "intent", intent)
	return handlerResult{handler: "unknown_intent", needsRAG: true}
}

// rework runs a context-aware handler: fetch the previous assistant
// answer and ask the model to expand, simplify or deepen it.
func (h *intentHandlers) rework(ctx context.Context, query, sessionID, handler, promptTmpl, errReply string) handlerResult {
	lastAnswer := h.lastAssistantAnswer(ctx, sessionID)
	if lastAnswer == "" {
		slog.Info("no previous answer for context-aware handler", "handler", handler)
		return handlerResult{handler: handler, needsRAG: true}
	}
	if h.llm == nil {
		return handlerResult{handler: handler + "_no_context", needsRAG: true}
	}

	prompt := fmt.Sprintf(promptTmpl, lastAnswer, query)
	response, err := h.llm.Invoke(ctx, prompt)
	if err != nil {
		slog.Error("context-aware handler model call failed", "handler", handler, "error", err)
		return handlerResult{answer: errReply, handler: handler + "_error"}
	}
	return handlerResult{answer: strings.TrimSpace(response), handler: handler}
}

// lastAssistantAnswer returns the most recent assistant turn within the
// last two exchanges, or "" when none exists.
func (h *intentHandlers) lastAssistantAnswer(ctx context.Context, sessionID string) string {
	if h.memory == nil || sessionID == "" {
		return ""
	}
	history, err := h.memory.History(ctx, sessionID, 4)
	if err != nil {
		slog.Error("failed to read conversation context", "error", err)
		return ""
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" {
			return history[i].Content
		}
	}
	return ""
}
