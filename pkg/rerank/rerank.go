// Package rerank scores (query, document) pairs for the reranker gate.
package rerank

import (
	"context"
	"fmt"

	"github.com/petrel-ai/petrel/pkg/config"
	"github.com/petrel-ai/petrel/pkg/llms"
)

// Scorer scores each document against the query. Scores are raw model
// outputs; normalization (batch min-max, single-item sigmoid) is the
// caller's concern.
type Scorer interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// New builds a Scorer from config. Type "none" returns nil: the gate
// then falls back to retrieval-score filtering.
func New(cfg *config.RerankerConfig, llm llms.Provider) (Scorer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("reranker config is required")
	}
	switch cfg.Type {
	case "http":
		return NewHTTPScorer(cfg)
	case "llm":
		if llm == nil {
			return nil, fmt.Errorf("llm reranker requires an llm provider")
		}
		return NewLLMScorer(llm), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown reranker type: %s", cfg.Type)
	}
}
