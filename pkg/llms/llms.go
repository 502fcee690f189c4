// Package llms provides language model providers for generation,
// classification and verification prompts.
package llms

import (
	"context"
	"fmt"
	"net/http"

	"github.com/petrel-ai/petrel/pkg/config"
	"github.com/petrel-ai/petrel/pkg/httpclient"
)

// StreamChunk is one unit of a streaming generation.
type StreamChunk struct {
	// Type is "text", "done" or "error".
	Type string
	Text string
	// Tokens is the total token count, set on the done chunk when the
	// provider reports it.
	Tokens int
	Error  error
}

// Provider generates text from prompts.
type Provider interface {
	// Invoke runs a prompt to completion and returns the full response.
	Invoke(ctx context.Context, prompt string) (string, error)
	// Stream runs a prompt and emits chunks on the returned channel.
	// The channel is closed when generation finishes; an error chunk is
	// the final element on failure.
	Stream(ctx context.Context, prompt string) (<-chan StreamChunk, error)
	// ModelName reports the configured model identifier.
	ModelName() string
}

// New builds a Provider from config.
func New(cfg *config.LLMConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is required")
	}
	switch cfg.Type {
	case "ollama":
		return NewOllamaProvider(cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider type: %s", cfg.Type)
	}
}

// newProviderClient builds the shared retrying client. The http.Client
// carries no overall timeout: streaming responses outlive any fixed
// deadline, so per-call timeouts come from the request context.
func newProviderClient() *httpclient.Client {
	return httpclient.New(httpclient.WithHTTPClient(&http.Client{}))
}
