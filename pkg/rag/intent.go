package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/petrel-ai/petrel/pkg/config"
	"github.com/petrel-ai/petrel/pkg/embedders"
	"github.com/petrel-ai/petrel/pkg/llms"
)

// intentExemplars are the canonical phrases for the semantic fast path.
// They are embedded once, lazily, with the retrieval embedding model.
var intentExemplars = map[string][]string{
	IntentGreeting: {
		"hi", "hello", "hey", "hey there", "hi there", "hello there",
		"good morning", "good afternoon", "good evening", "howdy",
		"greetings", "yo", "sup", "what's up",
	},
	IntentGratitude: {
		"thanks", "thank you", "thanks a lot", "thank you so much",
		"thanks for your help", "appreciate it", "much appreciated",
		"thx", "ty", "cheers", "great thanks", "perfect thank you",
		"awesome thanks",
	},
	IntentFollowup: {
		"more", "tell me more", "more details", "continue", "go on",
		"elaborate", "elaborate on that", "can you expand on that",
		"what else", "and then", "keep going", "more please",
	},
	IntentSimplify: {
		"explain simpler", "simpler please", "in simpler terms",
		"explain like i'm five", "eli5", "dumb it down",
		"too complicated", "i don't understand", "can you simplify",
		"make it simpler", "easier explanation",
	},
	IntentDeepen: {
		"go deeper", "more technical", "more detail", "in depth",
		"technically speaking", "dive deeper", "elaborate technically",
		"more specifics", "get into the weeds",
	},
	IntentCommand: {
		"summarize this", "summarize the document", "give me a summary",
		"compare these", "list all", "list the topics",
		"what are the main points", "overview", "table of contents",
	},
}

// layer2Categories maps the model's uppercase token back to an intent.
// Checked in order; the first token found in the response wins.
var layer2Categories = []struct {
	token  string
	intent string
}{
	{"QUESTION", IntentQuestion},
	{"GREETING", IntentGreeting},
	{"GRATITUDE", IntentGratitude},
	{"FOLLOWUP", IntentFollowup},
	{"SIMPLIFY", IntentSimplify},
	{"DEEPEN", IntentDeepen},
	{"COMMAND", IntentCommand},
	{"GARBAGE", IntentGarbage},
	{"OFF_TOPIC", IntentOffTopic},
	{"CLARIFY_NEEDED", IntentClarifyNeeded},
}

// Classifier maps an utterance to an intent with a confidence, using a
// three-layer cascade: deterministic rules, exemplar similarity, model
// fallback. The first layer to produce a verdict wins.
type Classifier struct {
	llm      llms.Provider
	embedder embedders.Provider

	semanticThreshold float64
	llmConfidence     float64

	mu        sync.Mutex
	exemplars map[string][][]float32
}

// NewClassifier builds an intent classifier. llm may be nil (Layer 2
// then defaults to question); embedder may be nil (Layer 1 disabled).
func NewClassifier(llm llms.Provider, embedder embedders.Provider, cfg *config.PipelineConfig) *Classifier {
	return &Classifier{
		llm:               llm,
		embedder:          embedder,
		semanticThreshold: cfg.SemanticThreshold,
		llmConfidence:     cfg.LLMFallbackConfidence,
	}
}

// Classify returns the intent and a confidence in [0,1]. Layer failures
// are non-fatal: the cascade falls through to the next layer.
func (c *Classifier) Classify(ctx context.Context, query string) (string, float64) {
	if intent, conf, ok := layer0HardRules(query); ok {
		slog.Debug("intent layer 0", "intent", intent, "confidence", conf)
		return intent, conf
	}
	if intent, conf, ok := c.layer1Semantic(ctx, query); ok {
		slog.Debug("intent layer 1", "intent", intent, "confidence", conf)
		return intent, conf
	}
	if c.llm != nil {
		return c.layer2Model(ctx, query)
	}
	return IntentQuestion, 0.50
}

// layer0HardRules applies deterministic garbage rules: no embeddings,
// no model, sub-microsecond.
func layer0HardRules(query string) (string, float64, bool) {
	query = strings.TrimSpace(query)
	queryLower := strings.ToLower(query)

	if len(query) <= 1 {
		return IntentGarbage, 1.0, true
	}

	alphaCount := 0
	for _, r := range query {
		if unicode.IsLetter(r) {
			alphaCount++
		}
	}
	if alphaCount == 0 {
		return IntentGarbage, 1.0, true
	}
	if alphaCount < 2 && len(query) > 2 {
		return IntentGarbage, 1.0, true
	}

	// Stopword-saturated short inputs ("the the the") are not questions.
	words := lowerWordRe.FindAllString(queryLower, -1)
	if len(words) > 0 && len(words) <= 5 {
		stopCount := 0
		for _, w := range words {
			if _, ok := classifierStopwords[w]; ok {
				stopCount++
			}
		}
		if float64(stopCount)/float64(len(words)) > 0.9 {
			return IntentGarbage, 0.95, true
		}
	}

	// Keyboard spam: long input made of one or two distinct characters.
	if len(query) >= 4 {
		unique := make(map[rune]struct{})
		for _, r := range strings.ReplaceAll(queryLower, " ", "") {
			unique[r] = struct{}{}
		}
		if len(unique) <= 2 {
			return IntentGarbage, 0.95, true
		}
	}

	return "", 0, false
}

// layer1Semantic compares the query embedding against the exemplar
// banks; a single exemplar above the threshold decides the intent.
func (c *Classifier) layer1Semantic(ctx context.Context, query string) (string, float64, bool) {
	exemplars := c.exemplarVectors(ctx)
	if exemplars == nil {
		return "", 0, false
	}

	queryVec, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		slog.Warn("intent exemplar matching failed", "error", err)
		return "", 0, false
	}

	bestIntent := ""
	bestScore := 0.0
	for intent, vecs := range exemplars {
		for _, vec := range vecs {
			if sim := cosineSimilarity(queryVec, vec); sim > bestScore {
				bestScore = sim
				bestIntent = intent
			}
		}
	}

	if bestScore >= c.semanticThreshold {
		return bestIntent, bestScore, true
	}
	return "", 0, false
}

// exemplarVectors lazily embeds the exemplar banks. A failed attempt
// leaves the cache empty so the next query retries; the layer stays
// disabled while embeddings are unavailable.
func (c *Classifier) exemplarVectors(ctx context.Context) map[string][][]float32 {
	if c.embedder == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exemplars != nil {
		return c.exemplars
	}

	embedded := make(map[string][][]float32, len(intentExemplars))
	for intent, phrases := range intentExemplars {
		vecs, err := c.embedder.EmbedDocuments(ctx, phrases)
		if err != nil {
			slog.Warn("semantic intent routing disabled", "intent", intent, "error", err)
			return nil
		}
		embedded[intent] = vecs
	}
	c.exemplars = embedded
	slog.Info("semantic intent router initialized", "intents", len(embedded))
	return c.exemplars
}

// layer2Model asks the language model to pick a category.
func (c *Classifier) layer2Model(ctx context.Context, query string) (string, float64) {
	prompt := fmt.Sprintf(intentClassificationPrompt, query)

	response, err := c.llm.Invoke(ctx, prompt)
	if err != nil {
		slog.Error("intent classification model call failed", "error", err)
		return IntentQuestion, 0.30
	}

	classification := strings.ToUpper(strings.TrimSpace(response))
	for _, cat := range layer2Categories {
		if strings.Contains(classification, cat.token) {
			return cat.intent, c.llmConfidence
		}
	}

	slog.Warn("intent classification unclear, defaulting to question", "response", classification)
	return IntentQuestion, 0.50
}

// IsRAGIntent reports whether the intent runs the retrieval pipeline.
func IsRAGIntent(intent string) bool {
	return intent == IntentQuestion || intent == IntentCommand
}

// isConversationIntent reports whether the intent operates on the
// previous assistant turn.
func isConversationIntent(intent string) bool {
	switch intent {
	case IntentFollowup, IntentSimplify, IntentDeepen:
		return true
	}
	return false
}
