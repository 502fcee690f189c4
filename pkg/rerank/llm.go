package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/petrel-ai/petrel/pkg/llms"
)

// LLMScorer rates each document with a short prompt when no dedicated
// cross-encoder service is deployed. Slower and noisier than a real
// cross-encoder, but it keeps the gate functional.
type LLMScorer struct {
	llm llms.Provider
}

const scorePrompt = `Rate how relevant this document is to the query on a scale of 0 to 10.
Respond with ONLY a number.

Query: %s

Document:
%s

Rating:`

var numberRe = regexp.MustCompile(`\d+(\.\d+)?`)

// NewLLMScorer wraps an LLM provider as a Scorer.
func NewLLMScorer(llm llms.Provider) *LLMScorer {
	return &LLMScorer{llm: llm}
}

func (s *LLMScorer) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	scores := make([]float64, len(docs))
	for i, doc := range docs {
		// Long documents blow the prompt budget; the head carries
		// enough signal for a relevance rating.
		if len(doc) > 1500 {
			doc = doc[:1500]
		}

		response, err := s.llm.Invoke(ctx, fmt.Sprintf(scorePrompt, query, doc))
		if err != nil {
			return nil, fmt.Errorf("llm rerank failed for document %d: %w", i, err)
		}
		scores[i] = parseRating(response)
	}
	return scores, nil
}

// parseRating extracts the first number from the response and clamps it
// to [0,10]. Unparseable responses score a neutral 5.
func parseRating(response string) float64 {
	match := numberRe.FindString(strings.TrimSpace(response))
	if match == "" {
		slog.Debug("unparseable rerank rating", "response", response)
		return 5
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 5
	}
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

var _ Scorer = (*LLMScorer)(nil)
