package rag

import (
	"fmt"
	"strings"
)

// Prompt templates. Static rule text sits at the top of each template so
// model-side prompt caches hit across queries; the per-query fields come
// last.

const intentClassificationPrompt = `Classify this user message into ONE intent category.

Message: %s

Categories:
- QUESTION: Asking about document content (who, what, when, where, why, how)
- GREETING: Social greeting (hi, hello, hey)
- GRATITUDE: Expressing thanks (thanks, thank you)
- FOLLOWUP: Wants more on previous topic (more, continue, elaborate)
- SIMPLIFY: Wants simpler explanation (simpler, eli5, dumb it down)
- DEEPEN: Wants more technical detail (deeper, more technical)
- COMMAND: Direct instruction (summarize, compare, list)
- GARBAGE: Meaningless input (random chars, keyboard spam)
- OFF_TOPIC: Unrelated to documents (weather, jokes, personal questions)

If the message looks like a genuine question about document content, classify as QUESTION.
If uncertain between QUESTION and something else, choose QUESTION.

Respond with ONLY the category name in caps (e.g., QUESTION):`

const queryRewritePrompt = `You are a query optimizer for a RAG system.

Your task is to rewrite the user's question to be more effective for semantic search.

Guidelines:
- Expand abbreviations
- Add relevant technical terms
- Make implicit context explicit
- Keep the core intent
- Output ONLY the rewritten query, nothing else

Original question: %s

Chat history (for context):
%s

Rewritten query:`

const generationPrompt = `Answer the user's question using the provided context.

RULES:
1. Answer directly based on what's in the context - don't be overly cautious
2. If the context contains relevant information, USE IT to answer
3. Only say you don't know if the context truly has nothing relevant
4. Write naturally - never mention "context", "documents", "sources", or use citations like [Source 1]
5. Match answer length to question complexity

CONTEXT:
%s

CHAT HISTORY:
%s

QUESTION: %s

Answer:`

const generationRetryPrompt = `Your previous answer may have included unsupported information. Try again, sticking strictly to the context.

RULES:
1. ONLY use information explicitly stated in the context
2. If something isn't clearly stated, don't include it
3. Never use citations like [Source 1] - the UI shows sources separately
4. Write naturally without mentioning "context" or "documents"

CONTEXT:
%s

QUESTION: %s

Answer:`

const hallucinationCheckPrompt = `You are a fact-checker for a RAG system.

Your task is to verify if the answer is grounded in the provided sources.
An answer is grounded if every claim can be traced back to the sources.

Sources:
%s

Answer to verify:
%s

For each claim in the answer, determine if it's supported by the sources.

Output your analysis in this exact format:
GROUNDED: yes/no
SCORE: 0.0-1.0 (what percentage of claims are supported)
ISSUES: List any unsupported claims, or "None" if fully grounded

Analysis:`

const followupPrompt = `The user previously asked a question and received this answer:

PREVIOUS ANSWER:
%s

Now the user wants to know more. They said: "%s"

Provide additional relevant information that expands on the previous answer.
Add new details, examples, or related concepts that weren't covered.
Keep the response focused and helpful.

If you don't have more information to add, say so honestly.`

const simplifyPrompt = `The user received this explanation but wants it simplified:

ORIGINAL ANSWER:
%s

The user said: "%s"

Rewrite this explanation in simpler terms:
- Use everyday language, avoid jargon
- Use short sentences
- Use analogies if helpful
- Keep the core meaning intact
- Aim for a 5th grade reading level

Simplified explanation:`

const deepenPrompt = `The user received this explanation but wants more depth:

ORIGINAL ANSWER:
%s

The user said: "%s"

Provide a more detailed, technical explanation:
- Add technical details and specifics
- Explain underlying mechanisms or principles
- Include relevant terminology with definitions
- Discuss edge cases or nuances if applicable
- Maintain accuracy while adding depth

Detailed explanation:`

const noConversationText = "No previous conversation"

// formatSourcesForPrompt renders documents for the fact-checker prompt.
// Content is capped at 1000 characters, preferring a sentence boundary
// when one falls late enough in the window.
func formatSourcesForPrompt(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		content := doc.Content
		if len(content) > 1000 {
			content = content[:1000]
		}
		if len(content) == 1000 {
			if last := strings.LastIndex(content, "."); last > 700 {
				content = content[:last+1]
			}
		}
		filename := metaString(doc.Metadata, "source")
		if filename == "" {
			filename = "Unknown"
		}
		parts = append(parts, fmt.Sprintf("--- %s ---\n%s\n", filename, content))
	}
	return strings.Join(parts, "\n")
}
