package rag

import (
	"math"
	"regexp"
	"strings"
)

// classifierStopwords backs the Layer 0 stopword-density rule.
var classifierStopwords = wordSet(`
	the a an is are was were be been being
	have has had do does did will would could
	should may might must shall can need to of
	in for on with at by from as into through
	and but if or because until while this that
	these those it its what which who whom how
	when where why i me my you your he she
	they them we our there here`)

// verifierStopwords is the function-word set used by the fast
// groundedness check, augmented with tokens the generation prompt
// itself tends to inject ("context", "source", ...).
var verifierStopwords = wordSet(`
	the a an is are was were be been being
	have has had do does did will would could
	should may might must shall can need dare
	ought used to of in for on with at by
	from as into through during before after above
	below between under again further then once here
	there when where why how all each few more
	most other some such no nor not only own
	same so than too very just and but if or
	because until while this that these those it
	its i me my myself we our you your he
	him his she her they them their what which
	who whom according based provided context document
	source information answer question`)

// snippetStopwords is the stopword set for query-term extraction in the
// snippet selector.
var snippetStopwords = wordSet(`
	the a an is are was were be been being
	have has had do does did will would could
	should may might must shall can need dare
	what which who whom this that these those
	am i me my myself we our ours ourselves
	you your yours yourself yourselves
	he him his himself she her hers herself
	it its itself they them their theirs themselves
	and but if or because as until while
	of at by for with about against between
	into through during before after above below
	to from up down in out on off over under
	again further then once here there when where
	why how all each few more most other some
	such no nor not only own same so than
	too very s t just don now`)

var (
	lowerWordRe   = regexp.MustCompile(`\b[a-z]+\b`)
	contentWordRe = regexp.MustCompile(`\b[a-z]{3,}\b`)
	queryTermRe   = regexp.MustCompile(`\w+`)
)

func wordSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

// contentWords extracts lowercase words of length >= 3 not in the given
// stopword set.
func contentWords(text string, stopwords map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range contentWordRe.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopwords[w]; !stop {
			out[w] = struct{}{}
		}
	}
	return out
}

// cosineSimilarity over float32 vectors, 0 when either norm vanishes.
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
