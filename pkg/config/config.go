// Package config defines the petrel configuration model.
//
// Configuration is loaded from a single YAML file with optional .env
// overlay for secrets. Every section implements SetDefaults and
// Validate; validation failures are startup errors (the engine never
// tries to recover from a bad provider type mid-request).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Vector    VectorConfig    `yaml:"vector"`
	Reranker  RerankerConfig  `yaml:"reranker"`
	Memory    MemoryConfig    `yaml:"memory"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// DataDir is the base directory for local state (sqlite history,
	// chromem persistence).
	DataDir string `yaml:"data_dir"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8001
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Port)
	}
	return nil
}

// LLMConfig configures the language model provider.
type LLMConfig struct {
	// Type is one of "ollama", "openai".
	Type        string  `yaml:"type"`
	Model       string  `yaml:"model"`
	Host        string  `yaml:"host"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	// MaxTokens caps generation length (0 = provider default).
	MaxTokens int `yaml:"max_tokens"`
	// ContextWindow is passed to providers that accept it (ollama num_ctx).
	ContextWindow int `yaml:"context_window"`
	// TimeoutSeconds bounds a single generation call.
	TimeoutSeconds int `yaml:"timeout"`
}

func (c *LLMConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.Model == "" {
		switch c.Type {
		case "openai":
			c.Model = "gpt-4o-mini"
		default:
			c.Model = "llama3.1:8b"
		}
	}
	if c.Host == "" && c.Type == "ollama" {
		c.Host = "http://localhost:11434"
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.ContextWindow == 0 {
		c.ContextWindow = 4096
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
}

func (c *LLMConfig) Validate() error {
	switch c.Type {
	case "ollama", "openai":
	default:
		return fmt.Errorf("llm: unknown provider type %q", c.Type)
	}
	if c.Type == "openai" && c.APIKey == "" {
		return fmt.Errorf("llm: openai provider requires api_key")
	}
	return nil
}

// EmbedderConfig configures the dense embedding provider.
//
// The model identifier is part of a collection's schema: collections
// embedded with one model cannot be searched with another.
type EmbedderConfig struct {
	// Type is one of "ollama", "openai".
	Type   string `yaml:"type"`
	Model  string `yaml:"model"`
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key"`
	// Dimension of the embedding vectors produced by Model.
	Dimension      int `yaml:"dimension"`
	TimeoutSeconds int `yaml:"timeout"`
	MaxRetries     int `yaml:"max_retries"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.Model == "" {
		switch c.Type {
		case "openai":
			c.Model = "text-embedding-3-small"
		default:
			c.Model = "nomic-embed-text"
		}
	}
	if c.Host == "" && c.Type == "ollama" {
		c.Host = "http://localhost:11434"
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Dimension == 0 {
		switch c.Type {
		case "openai":
			c.Dimension = 1536
		default:
			c.Dimension = 768
		}
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Type {
	case "ollama", "openai":
	default:
		return fmt.Errorf("embedder: unknown provider type %q", c.Type)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("embedder: dimension must be positive")
	}
	return nil
}

// VectorConfig configures the vector store.
type VectorConfig struct {
	// Type is one of "chromem", "qdrant".
	Type string `yaml:"type"`

	// Chromem options.
	PersistPath string `yaml:"persist_path"`
	Compress    bool   `yaml:"compress"`

	// Qdrant options.
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIKey    string `yaml:"api_key"`
	EnableTLS bool   `yaml:"enable_tls"`
}

func (c *VectorConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Type == "qdrant" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
}

func (c *VectorConfig) Validate() error {
	switch c.Type {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vector: unknown provider type %q", c.Type)
	}
	return nil
}

// RerankerConfig configures the cross-encoder scorer.
type RerankerConfig struct {
	// Type is one of "http" (TEI-style /rerank endpoint), "llm"
	// (prompt-based fallback), or "none".
	Type           string `yaml:"type"`
	Host           string `yaml:"host"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout"`
}

func (c *RerankerConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "llm"
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}
}

func (c *RerankerConfig) Validate() error {
	switch c.Type {
	case "http", "llm", "none":
	default:
		return fmt.Errorf("reranker: unknown type %q", c.Type)
	}
	if c.Type == "http" && c.Host == "" {
		return fmt.Errorf("reranker: http reranker requires host")
	}
	return nil
}

// MemoryConfig configures the conversation history store.
type MemoryConfig struct {
	// Backend is one of "sqlite", "memory".
	Backend string `yaml:"backend"`
	DBPath  string `yaml:"db_path"`
}

func (c *MemoryConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "sqlite"
	}
	if c.DBPath == "" {
		c.DBPath = "./data/memory.db"
	}
}

func (c *MemoryConfig) Validate() error {
	switch c.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("memory: unknown backend %q", c.Backend)
	}
	return nil
}

// RetrievalConfig holds the hybrid retrieval knobs.
type RetrievalConfig struct {
	VectorK  int `yaml:"vector_k"`
	BM25K    int `yaml:"bm25_k"`
	RRFK     int `yaml:"rrf_k"`
	InitialK int `yaml:"initial_k"`
	FinalK   int `yaml:"final_k"`
	// SimpleK is the adaptive K used for simple-complexity queries.
	SimpleK int `yaml:"simple_k"`
	// RelevanceThreshold filters candidates in the 0..1 score space.
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
	// SequentialLimit caps full-collection fetches on the summarize branch.
	SequentialLimit int `yaml:"sequential_limit"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.VectorK == 0 {
		c.VectorK = 20
	}
	if c.BM25K == 0 {
		c.BM25K = 20
	}
	if c.RRFK == 0 {
		c.RRFK = 60
	}
	if c.InitialK == 0 {
		c.InitialK = 50
	}
	if c.FinalK == 0 {
		c.FinalK = 5
	}
	if c.SimpleK == 0 {
		c.SimpleK = 2
	}
	if c.RelevanceThreshold == 0 {
		c.RelevanceThreshold = 0.30
	}
	if c.SequentialLimit == 0 {
		c.SequentialLimit = 500
	}
}

func (c *RetrievalConfig) Validate() error {
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1 {
		return fmt.Errorf("retrieval: relevance_threshold must be in [0,1]")
	}
	if c.SimpleK > c.FinalK {
		return fmt.Errorf("retrieval: simple_k must be <= final_k")
	}
	return nil
}

// ChunkingConfig holds parent/child chunk sizes used at ingestion.
type ChunkingConfig struct {
	ParentSize    int `yaml:"parent_size"`
	ParentOverlap int `yaml:"parent_overlap"`
	ChildSize     int `yaml:"child_size"`
	ChildOverlap  int `yaml:"child_overlap"`
}

func (c *ChunkingConfig) SetDefaults() {
	if c.ParentSize == 0 {
		c.ParentSize = 2000
	}
	if c.ParentOverlap == 0 {
		c.ParentOverlap = 200
	}
	if c.ChildSize == 0 {
		c.ChildSize = 400
	}
	if c.ChildOverlap == 0 {
		c.ChildOverlap = 50
	}
}

func (c *ChunkingConfig) Validate() error {
	if c.ChildSize >= c.ParentSize {
		return fmt.Errorf("chunking: child_size must be smaller than parent_size")
	}
	if c.ParentOverlap >= c.ParentSize || c.ChildOverlap >= c.ChildSize {
		return fmt.Errorf("chunking: overlap must be smaller than chunk size")
	}
	return nil
}

// PipelineConfig holds self-correction and intent-classification knobs.
type PipelineConfig struct {
	MaxRetries int `yaml:"max_retries"`
	// HallucinationThreshold is the fast-path grounded cutoff.
	HallucinationThreshold float64 `yaml:"hallucination_threshold"`
	// FastFailCutoff is the fast-path not-grounded cutoff.
	FastFailCutoff float64 `yaml:"fast_fail_cutoff"`
	// SkipVerifyScore skips verification entirely for simple queries whose
	// top retrieval score (percent) is at or above this value.
	SkipVerifyScore float64 `yaml:"skip_verify_score"`
	// SemanticThreshold is the exemplar-similarity confidence floor.
	SemanticThreshold float64 `yaml:"semantic_threshold"`
	// LLMFallbackConfidence is the confidence assigned to Layer 2 verdicts.
	LLMFallbackConfidence float64 `yaml:"llm_fallback_confidence"`
}

func (c *PipelineConfig) SetDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.HallucinationThreshold == 0 {
		c.HallucinationThreshold = 0.80
	}
	if c.FastFailCutoff == 0 {
		c.FastFailCutoff = 0.30
	}
	if c.SkipVerifyScore == 0 {
		c.SkipVerifyScore = 70
	}
	if c.SemanticThreshold == 0 {
		c.SemanticThreshold = 0.85
	}
	if c.LLMFallbackConfidence == 0 {
		c.LLMFallbackConfidence = 0.70
	}
}

func (c *PipelineConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("pipeline: max_retries cannot be negative")
	}
	if c.FastFailCutoff >= c.HallucinationThreshold {
		return fmt.Errorf("pipeline: fast_fail_cutoff must be below hallucination_threshold")
	}
	return nil
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()
	c.Reranker.SetDefaults()
	c.Memory.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Chunking.SetDefaults()
	c.Pipeline.SetDefaults()
}

// Validate validates every section.
func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{
		&c.Server, &c.LLM, &c.Embedder, &c.Vector, &c.Reranker,
		&c.Memory, &c.Retrieval, &c.Chunking, &c.Pipeline,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// Parse decodes YAML bytes into a defaulted, validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
