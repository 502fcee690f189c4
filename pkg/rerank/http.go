package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/petrel-ai/petrel/pkg/config"
)

// HTTPScorer calls a text-embeddings-inference style /rerank endpoint.
type HTTPScorer struct {
	client  *http.Client
	baseURL string
	model   string
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// NewHTTPScorer builds an HTTP scorer from config.
func NewHTTPScorer(cfg *config.RerankerConfig) (*HTTPScorer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("http reranker requires a host")
	}
	return &HTTPScorer{
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		baseURL: strings.TrimSuffix(cfg.Host, "/"),
		model:   cfg.Model,
	}, nil
}

func (s *HTTPScorer) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	jsonData, err := json.Marshal(rerankRequest{
		Query: query,
		Texts: docs,
		Model: s.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/rerank", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank API returned status %d: %s", resp.StatusCode, string(body))
	}

	var results []rerankResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make([]float64, len(docs))
	for _, r := range results {
		if r.Index < 0 || r.Index >= len(scores) {
			return nil, fmt.Errorf("rerank API returned out-of-range index %d", r.Index)
		}
		scores[r.Index] = r.Score
	}
	return scores, nil
}

var _ Scorer = (*HTTPScorer)(nil)
