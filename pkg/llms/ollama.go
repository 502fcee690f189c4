package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/petrel-ai/petrel/pkg/config"
	"github.com/petrel-ai/petrel/pkg/httpclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OllamaProvider talks to a local Ollama server over /api/chat.
type OllamaProvider struct {
	config     *config.LLMConfig
	httpClient *httpclient.Client
	baseURL    string
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// NewOllamaProvider builds an Ollama provider from config.
func NewOllamaProvider(cfg *config.LLMConfig) (*OllamaProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		config:     cfg,
		httpClient: newProviderClient(),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (p *OllamaProvider) ModelName() string { return p.config.Model }

func (p *OllamaProvider) Invoke(ctx context.Context, prompt string) (string, error) {
	tracer := otel.Tracer("petrel.llm")
	ctx, span := tracer.Start(ctx, "llm.invoke",
		trace.WithAttributes(
			attribute.String("llm.model", p.config.Model),
			attribute.String("provider", "ollama"),
			attribute.Bool("streaming", false),
		),
	)
	defer span.End()

	if p.config.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.config.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	response, err := p.makeRequest(ctx, p.buildRequest(prompt, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if response.Error != "" {
		apiErr := fmt.Errorf("ollama API error: %s", response.Error)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error)
		return "", apiErr
	}

	span.SetAttributes(
		attribute.Int("llm.tokens_input", response.PromptEvalCount),
		attribute.Int("llm.tokens_output", response.EvalCount),
	)
	span.SetStatus(codes.Ok, "success")
	return response.Message.Content, nil
}

func (p *OllamaProvider) Stream(ctx context.Context, prompt string) (<-chan StreamChunk, error) {
	request := p.buildRequest(prompt, true)
	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)
		if err := p.makeStreamingRequest(ctx, request, outputCh); err != nil {
			outputCh <- StreamChunk{Type: "error", Error: err}
		}
	}()

	return outputCh, nil
}

func (p *OllamaProvider) buildRequest(prompt string, stream bool) ollamaRequest {
	request := ollamaRequest{
		Model:    p.config.Model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt}},
		Stream:   stream,
	}
	opts := &ollamaOptions{}
	if p.config.Temperature > 0 {
		opts.Temperature = p.config.Temperature
	}
	if p.config.MaxTokens > 0 {
		opts.NumPredict = p.config.MaxTokens
	}
	if p.config.ContextWindow > 0 {
		opts.NumCtx = p.config.ContextWindow
	}
	if opts.Temperature > 0 || opts.NumPredict > 0 || opts.NumCtx > 0 {
		request.Options = opts
	}
	return request
}

func (p *OllamaProvider) makeRequest(ctx context.Context, request ollamaRequest) (*ollamaResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response ollamaResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}

func (p *OllamaProvider) makeStreamingRequest(ctx context.Context, request ollamaRequest, outputCh chan<- StreamChunk) error {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make streaming request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		var errorJSON struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(bodyBytes, &errorJSON) == nil && errorJSON.Error != "" {
			return fmt.Errorf("ollama API error: %s", errorJSON.Error)
		}
		return fmt.Errorf("ollama API request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read stream: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama API error: %s", chunk.Error)
		}

		if chunk.Message.Content != "" {
			outputCh <- StreamChunk{Type: "text", Text: chunk.Message.Content}
		}
		if chunk.Done {
			outputCh <- StreamChunk{Type: "done", Tokens: chunk.PromptEvalCount + chunk.EvalCount}
			break
		}
	}
	return nil
}
