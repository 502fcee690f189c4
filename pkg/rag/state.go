// Package rag implements the query-processing pipeline: intent
// classification, routing, hybrid retrieval, reranking, grounded
// generation with self-correction and streaming event emission.
package rag

// Intent categories produced by the classifier.
const (
	IntentQuestion      = "question"
	IntentGreeting      = "greeting"
	IntentGratitude     = "gratitude"
	IntentFollowup      = "followup"
	IntentSimplify      = "simplify"
	IntentDeepen        = "deepen"
	IntentClarifyNeeded = "clarify_needed"
	IntentCommand       = "command"
	IntentGarbage       = "garbage"
	IntentOffTopic      = "off_topic"
)

// Query complexity classes assigned by the router.
const (
	ComplexitySimple    = "simple"
	ComplexityComplex   = "complex"
	ComplexitySummarize = "summarize"
	ComplexityGarbage   = "garbage"
)

// Document is a retrieved unit of context flowing through the pipeline.
// RelevanceScore is a percentage in [0,100].
type Document struct {
	Content        string
	Metadata       map[string]any
	RelevanceScore float64
}

// Source is one user-visible citation, deduplicated by filename.
type Source struct {
	Source         string  `json:"source"`
	Filename       string  `json:"filename"`
	Page           int     `json:"page,omitempty"`
	ChunkID        string  `json:"chunk_id"`
	RelevanceScore float64 `json:"relevance_score"`
	ContentPreview string  `json:"content_preview"`
}

// State is the per-query record threaded through every pipeline stage.
// Stages read prior fields and write their own; none overwrites another
// stage's output.
type State struct {
	// Input.
	Question      string
	SessionID     string
	Collection    string
	MaxIterations int

	// Classification.
	DetectedIntent   string
	IntentConfidence float64
	QueryComplexity  string
	SkipRewrite      bool
	IsSummarization  bool
	IsGarbage        bool

	// Query processing.
	RewrittenQuery string
	RewriteCount   int

	// Retrieval.
	RetrievedDocuments []Document
	RelevantDocuments  []Document
	CollectionEmpty    bool

	// Generation.
	Answer    string
	Sources   []Source
	Iteration int

	// Verification.
	IsGrounded            bool
	GroundednessScore     float64
	FastGroundednessScore float64
	SkipLLMCheck          bool
	HallucinationDetails  string

	// Provenance.
	ProcessingSteps []string
	Errors          []string
}

// NewState builds the initial state for one query.
func NewState(question, sessionID, collection string, maxIterations int) *State {
	return &State{
		Question:      question,
		SessionID:     sessionID,
		Collection:    collection,
		MaxIterations: maxIterations,
	}
}

// Step appends a stage identifier to the provenance trace.
func (s *State) Step(names ...string) {
	s.ProcessingSteps = append(s.ProcessingSteps, names...)
}

// queryForRetrieval is the rewritten query when one exists, otherwise
// the original question.
func (s *State) queryForRetrieval() string {
	if s.RewrittenQuery != "" {
		return s.RewrittenQuery
	}
	return s.Question
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}

func metaInt(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
