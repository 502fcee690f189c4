package rag

import "strings"

// complexPatterns force the complex branch when present in the query.
var complexPatterns = []string{"compare", "contrast", "vs", "difference"}

// summarizeKeywords detect whole-document commands that need sequential
// retrieval instead of similarity search.
var summarizeKeywords = []string{"summarize", "summary", "overview", "main points"}

// routeQuery classifies complexity with pure string heuristics: no
// model call, so the router costs well under a millisecond. Simple
// queries skip the rewrite step.
func routeQuery(question string) (complexity string, skipRewrite bool) {
	q := strings.ToLower(question)
	for _, p := range complexPatterns {
		if strings.Contains(q, p) {
			return ComplexityComplex, false
		}
	}
	if strings.Count(q, "?") > 1 {
		return ComplexityComplex, false
	}
	return ComplexitySimple, true
}

// isSummarizeQuery reports whether a command asks for the document as a
// whole. Vector search finds needles; these want the haystack.
func isSummarizeQuery(question string) bool {
	q := strings.ToLower(question)
	for _, kw := range summarizeKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
