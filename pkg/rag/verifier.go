package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/petrel-ai/petrel/pkg/config"
	"github.com/petrel-ai/petrel/pkg/llms"
)

const ungroundedDetails = "Answer contains claims not found in sources"

// Verifier detects hallucinations: claims in the answer the retrieved
// context does not support. A deterministic overlap check runs first;
// the model is only consulted in the ambiguous band between the fail
// and pass cutoffs.
type Verifier struct {
	llm llms.Provider
	cfg *config.PipelineConfig
}

// NewVerifier wires the groundedness verifier.
func NewVerifier(llm llms.Provider, cfg *config.PipelineConfig) *Verifier {
	return &Verifier{llm: llm, cfg: cfg}
}

// Check fills the verification fields and increments the iteration
// counter on every path.
func (v *Verifier) Check(ctx context.Context, st *State) error {
	defer func() { st.Iteration++ }()

	if len(st.RelevantDocuments) == 0 {
		st.IsGrounded = true
		st.GroundednessScore = 1.0
		st.FastGroundednessScore = 1.0
		st.SkipLLMCheck = true
		st.Step("hallucination_skip")
		return nil
	}

	// Simple queries with a high-confidence top hit rarely hallucinate;
	// skipping the check saves a model round trip.
	if st.QueryComplexity == ComplexitySimple {
		topScore := 0.0
		for _, d := range st.RelevantDocuments {
			if d.RelevanceScore > topScore {
				topScore = d.RelevanceScore
			}
		}
		if topScore >= v.cfg.SkipVerifyScore {
			st.IsGrounded = true
			st.GroundednessScore = topScore / 100
			st.FastGroundednessScore = topScore / 100
			st.SkipLLMCheck = true
			st.Step("hallucination_skip_simple_highconf")
			return nil
		}
	}

	fastScore := fastGroundedness(st.Answer, st.RelevantDocuments)
	st.FastGroundednessScore = fastScore

	if fastScore >= v.cfg.HallucinationThreshold {
		st.IsGrounded = true
		st.GroundednessScore = fastScore
		st.SkipLLMCheck = true
		st.Step("hallucination_fast_pass")
		return nil
	}
	if fastScore < v.cfg.FastFailCutoff {
		st.IsGrounded = false
		st.GroundednessScore = fastScore
		st.SkipLLMCheck = true
		st.HallucinationDetails = ungroundedDetails
		st.Step("hallucination_fast_fail")
		return nil
	}

	// Ambiguous band: ask the model.
	slog.Info("fast groundedness ambiguous, checking with model", "score", fastScore)
	prompt := fmt.Sprintf(hallucinationCheckPrompt, formatSourcesForPrompt(st.RelevantDocuments), st.Answer)

	analysis, err := v.llm.Invoke(ctx, prompt)
	if err != nil {
		// Keep the fast score rather than failing the whole query.
		slog.Warn("model groundedness check failed, keeping fast score", "error", err)
		st.IsGrounded = true
		st.GroundednessScore = fastScore
		st.SkipLLMCheck = false
		st.Step("hallucination_llm_check")
		return nil
	}

	grounded, score, issues := parseVerdict(analysis, fastScore)
	st.IsGrounded = grounded
	st.GroundednessScore = score
	st.SkipLLMCheck = false
	st.HallucinationDetails = issues
	st.Step("hallucination_llm_check")
	return nil
}

// parseVerdict extracts GROUNDED/SCORE/ISSUES from the model's
// structured response. Unparseable fields fall back to the fast score.
func parseVerdict(analysis string, fastScore float64) (grounded bool, score float64, issues string) {
	grounded = strings.Contains(strings.ToLower(analysis), "grounded: yes")
	score = fastScore

	for _, line := range strings.Split(analysis, "\n") {
		if !strings.Contains(line, "SCORE:") {
			continue
		}
		raw := strings.TrimSpace(line[strings.Index(line, "SCORE:")+len("SCORE:"):])
		if fields := strings.Fields(raw); len(fields) > 0 {
			if parsed, err := strconv.ParseFloat(fields[0], 64); err == nil {
				score = parsed
			}
		}
		break
	}

	if idx := strings.Index(analysis, "ISSUES:"); idx >= 0 {
		rest := strings.TrimSpace(analysis[idx+len("ISSUES:"):])
		if !strings.EqualFold(rest, "none") {
			issues = rest
		}
	}
	return grounded, score, issues
}

// fastGroundedness scores the answer against the source text with
// weighted word and trigram overlap. Deterministic, no model call.
func fastGroundedness(answer string, docs []Document) float64 {
	if len(docs) == 0 {
		return 0.5
	}

	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(d.Content)
	}
	sourceText := strings.ToLower(b.String())
	if strings.TrimSpace(sourceText) == "" {
		return 0.5
	}

	answerLower := strings.ToLower(answer)

	answerWords := contentWords(answerLower, verifierStopwords)
	if len(answerWords) == 0 {
		return 0.5
	}
	matchedWords := 0
	for w := range answerWords {
		if strings.Contains(sourceText, w) {
			matchedWords++
		}
	}
	wordOverlap := float64(matchedWords) / float64(len(answerWords))

	// Trigrams with at least two content words: word overlap alone is
	// easy to satisfy with paraphrase, trigrams catch invented phrasing.
	words := strings.Fields(answerLower)
	trigrams := make(map[string]struct{})
	for i := 0; i+2 < len(words); i++ {
		contentCount := 0
		for _, w := range words[i : i+3] {
			if _, stop := verifierStopwords[w]; !stop {
				contentCount++
			}
		}
		if contentCount >= 2 {
			trigrams[strings.Join(words[i:i+3], " ")] = struct{}{}
		}
	}
	trigramOverlap := 0.0
	if len(trigrams) > 0 {
		matched := 0
		for tg := range trigrams {
			if strings.Contains(sourceText, tg) {
				matched++
			}
		}
		trigramOverlap = float64(matched) / float64(len(trigrams))
	}

	final := wordOverlap*0.6 + trigramOverlap*0.4
	slog.Debug("fast groundedness",
		"word_overlap", wordOverlap,
		"trigram_overlap", trigramOverlap,
		"score", final)
	return final
}
