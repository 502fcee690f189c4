package rag

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrel-ai/petrel/pkg/config"
	"github.com/petrel-ai/petrel/pkg/embedders"
	"github.com/petrel-ai/petrel/pkg/lexical"
	"github.com/petrel-ai/petrel/pkg/llms"
	"github.com/petrel-ai/petrel/pkg/memory"
	"github.com/petrel-ai/petrel/pkg/rerank"
	"github.com/petrel-ai/petrel/pkg/vector"
)

// Request is one user query against a collection.
type Request struct {
	Question   string `json:"question"`
	SessionID  string `json:"session_id"`
	Collection string `json:"collection"`
}

// Reply is the non-streaming response.
type Reply struct {
	MessageID        string   `json:"message_id"`
	Answer           string   `json:"answer"`
	Sources          []Source `json:"sources"`
	SessionID        string   `json:"session_id"`
	WasGrounded      bool     `json:"was_grounded"`
	Confidence       float64  `json:"confidence"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

// Pipeline wires the stages into the query state machine:
//
//	classify_intent → handle_non_rag_intent | route_query
//	route_query → rewrite_query | retrieve | retrieve_sequential | handle_garbage_query
//	rewrite_query → retrieve → grade_documents → generate | rewrite_query
//	generate → check_hallucination → generate (retry) | save_to_memory
//
// The orchestrator holds no cross-query state; any number of queries
// run concurrently.
type Pipeline struct {
	cfg *config.Config

	memory     memory.Store
	classifier *Classifier
	handlers   *intentHandlers
	rewriter   *Rewriter
	retriever  *Retriever
	gate       *Gate
	generator  *Generator
	verifier   *Verifier
}

// NewPipeline builds the full pipeline from its providers.
func NewPipeline(
	cfg *config.Config,
	llm llms.Provider,
	embedder embedders.Provider,
	store vector.Store,
	lex *lexical.Index,
	scorer rerank.Scorer,
	mem memory.Store,
) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		memory:     mem,
		classifier: NewClassifier(llm, embedder, &cfg.Pipeline),
		handlers:   newIntentHandlers(llm, mem),
		rewriter:   NewRewriter(llm, mem),
		retriever:  NewRetriever(store, lex, embedder, &cfg.Retrieval),
		gate:       NewGate(embedder, scorer, &cfg.Retrieval),
		generator:  NewGenerator(llm, mem),
		verifier:   NewVerifier(llm, &cfg.Pipeline),
	}
}

// Ask runs one query to completion and returns the reply.
func (p *Pipeline) Ask(ctx context.Context, req Request) (*Reply, error) {
	start := time.Now()

	tracer := otel.Tracer("petrel.pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.ask",
		trace.WithAttributes(attribute.String("collection", req.Collection)),
	)
	defer span.End()

	st := NewState(req.Question, req.SessionID, req.Collection, p.cfg.Pipeline.MaxRetries)

	p.classifyIntent(ctx, st)
	span.SetAttributes(attribute.String("intent", string(st.DetectedIntent)))

	if !IsRAGIntent(st.DetectedIntent) {
		p.handleNonRAG(ctx, st)
		return p.reply(st, start), nil
	}

	if err := p.runRetrieval(ctx, st); err != nil {
		return nil, err
	}
	if st.Answer != "" {
		// Terminal branch (garbage) produced its reply during routing.
		return p.reply(st, start), nil
	}

	for {
		if err := p.generator.Generate(ctx, st); err != nil {
			return nil, err
		}
		if err := p.verifier.Check(ctx, st); err != nil {
			return nil, err
		}
		if st.IsGrounded || st.Iteration >= st.MaxIterations {
			break
		}
		slog.Info("answer not grounded, retrying generation",
			"iteration", st.Iteration,
			"score", st.GroundednessScore)
	}

	p.saveToMemory(ctx, st)
	return p.reply(st, start), nil
}

// Stream runs one query, emitting events in fixed order:
// phase(searching), sources, phase(generating), token*, done. The
// channel is bounded; emission suspends until the consumer keeps up or
// the context is cancelled. The channel closes after the terminal
// event.
func (p *Pipeline) Stream(ctx context.Context, req Request) <-chan Event {
	ch := make(chan Event, 32)

	go func() {
		defer close(ch)
		start := time.Now()

		tracer := otel.Tracer("petrel.pipeline")
		ctx, span := tracer.Start(ctx, "pipeline.stream",
			trace.WithAttributes(attribute.String("collection", req.Collection)),
		)
		defer span.End()

		st := NewState(req.Question, req.SessionID, req.Collection, p.cfg.Pipeline.MaxRetries)

		// A cancelled stream still ends with an error event when the
		// channel has room; the send never blocks.
		cancelled := false
		defer func() {
			if !cancelled {
				return
			}
			select {
			case ch <- errorEvent("request cancelled", "cancelled"):
			default:
			}
		}()

		emit := func(ev Event) bool {
			if ctx.Err() != nil {
				cancelled = true
				return false
			}
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				cancelled = true
				return false
			}
		}
		finish := func() bool {
			p.saveToMemory(ctx, st)
			return emit(doneEvent(uuid.NewString(), st.IsGrounded, time.Since(start).Milliseconds()))
		}

		if !emit(phaseEvent("searching")) {
			return
		}

		p.classifyIntent(ctx, st)

		if !IsRAGIntent(st.DetectedIntent) {
			p.handleNonRAG(ctx, st)
			if !emit(sourcesEvent(st.Sources)) || !emit(phaseEvent("generating")) {
				return
			}
			if st.Answer != "" && !emit(tokenEvent(st.Answer)) {
				return
			}
			emit(doneEvent(uuid.NewString(), st.IsGrounded, time.Since(start).Milliseconds()))
			return
		}

		if err := p.runRetrieval(ctx, st); err != nil {
			emit(errorEvent(err.Error(), "pipeline_error"))
			return
		}

		if !emit(sourcesEvent(st.Sources)) || !emit(phaseEvent("generating")) {
			return
		}

		if st.Answer != "" {
			// Terminal routing branch: the reply streams as one token.
			if !emit(tokenEvent(st.Answer)) {
				return
			}
			emit(doneEvent(uuid.NewString(), st.IsGrounded, time.Since(start).Milliseconds()))
			return
		}

		// Tokens are already on the wire once generation starts, so the
		// self-correction retry is a non-streaming concern; verification
		// still runs and done reports was_grounded honestly.
		chunks, err := p.generator.GenerateStream(ctx, st)
		if err != nil {
			emit(errorEvent(err.Error(), "generation_failed"))
			return
		}

		var answer strings.Builder
		for chunk := range chunks {
			switch chunk.Type {
			case "text":
				answer.WriteString(chunk.Text)
				if !emit(tokenEvent(chunk.Text)) {
					return
				}
			case "error":
				emit(errorEvent(chunk.Error.Error(), "generation_failed"))
				return
			}
		}
		st.Answer = strings.TrimSpace(answer.String())

		if err := p.verifier.Check(ctx, st); err != nil {
			emit(errorEvent(err.Error(), "verification_failed"))
			return
		}
		finish()
	}()

	return ch
}

// classifyIntent runs the three-layer classifier, then downgrades
// conversation-dependent intents to question when the session has no
// prior turns to work with.
func (p *Pipeline) classifyIntent(ctx context.Context, st *State) {
	intent, confidence := p.classifier.Classify(ctx, st.Question)

	if isConversationIntent(intent) && !p.hasHistory(ctx, st.SessionID) {
		slog.Info("conversation intent without history, downgrading to question", "intent", intent)
		intent = IntentQuestion
		confidence = 1.0
	}

	st.DetectedIntent = intent
	st.IntentConfidence = confidence
	st.IsGarbage = intent == IntentGarbage
	st.Step("classify_intent")

	slog.Info("intent classified",
		"intent", intent,
		"confidence", confidence,
		"session", st.SessionID)
}

func (p *Pipeline) hasHistory(ctx context.Context, sessionID string) bool {
	if p.memory == nil || sessionID == "" {
		return false
	}
	history, err := p.memory.History(ctx, sessionID, 1)
	if err != nil {
		slog.Debug("could not check history", "error", err)
		return false
	}
	return len(history) > 0
}

// handleNonRAG produces the terminal answer for intents that skip
// retrieval. Handler output is grounded by definition.
func (p *Pipeline) handleNonRAG(ctx context.Context, st *State) {
	result := p.handlers.dispatch(ctx, st.DetectedIntent, st.Question, st.SessionID)

	if result.needsRAG {
		st.Answer = noContextReply
		st.Step(result.handler + "_no_context")
	} else {
		st.Answer = result.answer
		st.Step(result.handler)
	}
	st.Sources = nil
	st.IsGrounded = true
	st.GroundednessScore = 1.0
}

// runRetrieval executes route → (rewrite) → retrieve → grade, looping
// back through rewrite while nothing relevant surfaces and the rewrite
// budget lasts.
func (p *Pipeline) runRetrieval(ctx context.Context, st *State) error {
	if st.IsGarbage {
		st.QueryComplexity = ComplexityGarbage
		st.Answer = garbageQueryReply
		st.IsGrounded = true
		st.GroundednessScore = 1.0
		st.Step("handle_garbage_query")
		return nil
	}

	st.QueryComplexity, st.SkipRewrite = routeQuery(st.Question)
	st.Step("route_query_fast")

	if st.DetectedIntent == IntentCommand && isSummarizeQuery(st.Question) {
		st.QueryComplexity = ComplexitySummarize
		st.SkipRewrite = true
		if err := p.retriever.RetrieveSequential(ctx, st); err != nil {
			return err
		}
		return p.gate.Grade(ctx, st)
	}

	needRewrite := !st.SkipRewrite
	for {
		if needRewrite {
			p.rewriter.Rewrite(ctx, st)
		}
		if err := p.retriever.Retrieve(ctx, st); err != nil {
			return err
		}
		if err := p.gate.Grade(ctx, st); err != nil {
			return err
		}

		if st.RewriteCount >= st.MaxIterations {
			return nil
		}
		if st.CollectionEmpty {
			return nil
		}
		if len(st.RelevantDocuments) > 0 {
			return nil
		}
		slog.Info("no relevant documents, rewriting",
			"attempt", st.RewriteCount+1,
			"max", st.MaxIterations)
		needRewrite = true
	}
}

// saveToMemory persists the exchange for future turns.
func (p *Pipeline) saveToMemory(ctx context.Context, st *State) {
	if p.memory == nil || st.SessionID == "" {
		return
	}
	if _, err := p.memory.Add(ctx, st.SessionID, "user", st.Question, nil); err != nil {
		slog.Error("failed to save user turn", "error", err)
		return
	}

	// The assistant turn carries the sources it was grounded on, so
	// history replays can show them.
	var meta map[string]any
	if len(st.Sources) > 0 {
		meta = map[string]any{"sources": st.Sources}
	}
	if _, err := p.memory.Add(ctx, st.SessionID, "assistant", st.Answer, meta); err != nil {
		slog.Error("failed to save assistant turn", "error", err)
		return
	}
	st.Step("save_to_memory")
}

func (p *Pipeline) reply(st *State, start time.Time) *Reply {
	sources := st.Sources
	if sources == nil {
		sources = []Source{}
	}
	return &Reply{
		MessageID:        uuid.NewString(),
		Answer:           st.Answer,
		Sources:          sources,
		SessionID:        st.SessionID,
		WasGrounded:      st.IsGrounded,
		Confidence:       st.GroundednessScore,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
}
