package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/petrel-ai/petrel/pkg/config"
	"github.com/petrel-ai/petrel/pkg/embedders"
	"github.com/petrel-ai/petrel/pkg/ingest"
	"github.com/petrel-ai/petrel/pkg/lexical"
	"github.com/petrel-ai/petrel/pkg/llms"
	"github.com/petrel-ai/petrel/pkg/memory"
	"github.com/petrel-ai/petrel/pkg/rag"
	"github.com/petrel-ai/petrel/pkg/rerank"
	"github.com/petrel-ai/petrel/pkg/server"
	"github.com/petrel-ai/petrel/pkg/vector"
)

// runtime holds every wired provider for one process.
type runtime struct {
	cfg      *config.Config
	store    vector.Store
	memory   memory.Store
	lexical  *lexical.Index
	ingest   *ingest.Service
	pipeline *rag.Pipeline
}

// buildRuntime wires providers from config: model, embedder, stores,
// indices, ingestion and the pipeline.
func buildRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	llm, err := llms.New(&cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	embedder, err := embedders.New(&cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("embedder provider: %w", err)
	}
	store, err := vector.New(&cfg.Vector, embedder.Fingerprint(), embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}
	scorer, err := rerank.New(&cfg.Reranker, llm)
	if err != nil {
		return nil, fmt.Errorf("reranker: %w", err)
	}
	mem, err := memory.New(&cfg.Memory)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}

	lex := lexical.NewIndex()
	svc := ingest.NewService(store, embedder, lex, ingest.NewChunker(&cfg.Chunking))

	return &runtime{
		cfg:      cfg,
		store:    store,
		memory:   mem,
		lexical:  lex,
		ingest:   svc,
		pipeline: rag.NewPipeline(cfg, llm, embedder, store, lex, scorer, mem),
	}, nil
}

func (r *runtime) close() {
	if err := r.memory.Close(); err != nil {
		slog.Warn("failed to close memory store", "error", err)
	}
	if err := r.store.Close(); err != nil {
		slog.Warn("failed to close vector store", "error", err)
	}
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Host string `help:"Listen host (overrides config)."`
	Port int    `help:"Listen port (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	rt, err := buildRuntime(cli.Config)
	if err != nil {
		return err
	}
	defer rt.close()

	if c.Host != "" {
		rt.cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		rt.cfg.Server.Port = c.Port
	}

	// The BM25 index lives in memory; rebuild it from the vector store
	// before accepting queries.
	if err := rt.ingest.Warm(ctx); err != nil {
		return fmt.Errorf("failed to warm lexical index: %w", err)
	}

	srv := server.New(&rt.cfg.Server, rt.pipeline, rt.ingest, rt.memory)
	return srv.Start(ctx)
}

// IngestCmd ingests one document from the command line.
type IngestCmd struct {
	Path string `arg:"" help:"Document to ingest (pdf, docx, txt, md)." type:"existingfile"`
	Chat string `help:"Chat whose collection receives the document." default:"default"`
}

func (c *IngestCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := buildRuntime(cli.Config)
	if err != nil {
		return err
	}
	defer rt.close()

	collection := "chat_" + c.Chat
	docID, chunks, err := rt.ingest.Ingest(ctx, collection, c.Path)
	if err != nil {
		return err
	}

	fmt.Printf("ingested %s into %s: doc_id=%s chunks=%d\n", c.Path, collection, docID, chunks)
	return nil
}
