package rag

import (
	"regexp"
	"strings"
)

// Snippet selection: pick a short, query-relevant preview from a source
// document. Pure text work, no model calls. Strategies are tried in
// order; the first hit wins:
//
//  1. labeled key-value section matching a query term (or its alias)
//  2. header/section whose title matches a query term
//  3. the same two strategies over the parent context
//  4. best-scoring sentence window
//  5. truncated leading content
const (
	snippetMaxLength    = 300
	snippetContextChars = 100
)

// termAliases maps common query words to section labels they refer to.
var termAliases = map[string]string{
	"degree":     "education",
	"studied":    "education",
	"studies":    "education",
	"university": "education",
	"job":        "experience",
	"work":       "experience",
	"career":     "experience",
	"skill":      "skills",
	"language":   "languages",
	"email":      "contact",
	"phone":      "contact",
}

var (
	sentenceSplitRe = regexp.MustCompile(`[.!?\n]+|\s*[-•]\s*|\s*\d+[.)]\s*`)
	labelLineRe     = regexp.MustCompile(`^([A-Za-z][A-Za-z /&-]{1,30}):\s*`)
	markdownHdrRe   = regexp.MustCompile(`^#{1,6}\s+(.+)$`)
	underlineRe     = regexp.MustCompile(`^[=-]{3,}\s*$`)
)

// ExtractSnippet returns the most informative preview of content for
// the query. parentContext may be empty.
func ExtractSnippet(query, content, parentContext string) string {
	if content == "" {
		return ""
	}
	terms := extractQueryTerms(query)
	if len(terms) == 0 {
		return truncateSnippet(content, snippetMaxLength)
	}

	for _, text := range []string{content, parentContext} {
		if text == "" {
			continue
		}
		if s := keyValueSection(terms, text); s != "" {
			return s
		}
		if s := headerSection(terms, text); s != "" {
			return s
		}
	}

	if s := bestSentenceWindow(terms, content); s != "" {
		return s
	}
	if s := termContext(terms, content); s != "" {
		return s
	}
	return truncateSnippet(content, snippetMaxLength)
}

// extractQueryTerms returns lowercase content terms of the query,
// stopwords and single characters removed.
func extractQueryTerms(query string) []string {
	words := queryTermRe.FindAllString(strings.ToLower(query), -1)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) <= 1 {
			continue
		}
		if _, stop := snippetStopwords[w]; stop {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// keyValueSection finds a "Label:" line whose label matches a query
// term or its alias, and returns that labeled block.
func keyValueSection(terms []string, content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		m := labelLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		label := strings.ToLower(m[1])
		if !labelMatches(label, terms) {
			continue
		}
		block := []string{strings.TrimSpace(line)}
		for j := i + 1; j < len(lines); j++ {
			next := strings.TrimSpace(lines[j])
			if next == "" || labelLineRe.MatchString(next) {
				break
			}
			block = append(block, next)
		}
		return truncateSnippet(strings.Join(block, "\n"), snippetMaxLength)
	}
	return ""
}

func labelMatches(label string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(label, term) {
			return true
		}
		if alias, ok := termAliases[term]; ok && strings.Contains(label, alias) {
			return true
		}
	}
	return false
}

// headerSection finds a markdown, underlined or all-caps header
// containing a query term and returns it with the section body up to
// the next header.
func headerSection(terms []string, content string) string {
	lines := strings.Split(content, "\n")
	for i := range lines {
		title, ok := headerTitle(lines, i)
		if !ok || !labelMatches(strings.ToLower(title), terms) {
			continue
		}
		block := []string{strings.TrimSpace(title)}
		start := i + 1
		if start < len(lines) && underlineRe.MatchString(strings.TrimSpace(lines[start])) {
			start++
		}
		for j := start; j < len(lines); j++ {
			if _, isHdr := headerTitle(lines, j); isHdr {
				break
			}
			if text := strings.TrimSpace(lines[j]); text != "" {
				block = append(block, text)
			}
		}
		return truncateSnippet(strings.Join(block, "\n"), snippetMaxLength)
	}
	return ""
}

// headerTitle reports whether lines[i] is a header and returns its
// title text.
func headerTitle(lines []string, i int) (string, bool) {
	line := strings.TrimSpace(lines[i])
	if line == "" {
		return "", false
	}
	if m := markdownHdrRe.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	if i+1 < len(lines) && underlineRe.MatchString(strings.TrimSpace(lines[i+1])) {
		return line, true
	}
	if len(line) <= 60 && line == strings.ToUpper(line) && strings.IndexFunc(line, isLetter) >= 0 {
		return line, true
	}
	return "", false
}

func isLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

// bestSentenceWindow scores each sentence by rarity-weighted term
// matches plus a phrase bonus, then extends the winner with following
// sentences while it fits.
func bestSentenceWindow(terms []string, content string) string {
	sentences := sentenceSplitRe.Split(content, -1)
	contentLower := strings.ToLower(content)

	// Rarer terms are worth more: weight by inverse corpus frequency
	// within this document.
	weights := make(map[string]float64, len(terms))
	for _, term := range terms {
		count := strings.Count(contentLower, term)
		if count < 1 {
			count = 1
		}
		weights[term] = 1.0 / float64(count)
	}

	bestIdx := -1
	bestScore := 0.0
	for i, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < 10 {
			continue
		}
		lower := strings.ToLower(sentence)

		score := 0.0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				score += weights[term]
			}
		}
		for j := 0; j+1 < len(terms); j++ {
			if strings.Contains(lower, terms[j]+" "+terms[j+1]) {
				score += 5
			}
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return ""
	}

	window := strings.TrimSpace(sentences[bestIdx])
	for j := bestIdx + 1; j < len(sentences); j++ {
		next := strings.TrimSpace(sentences[j])
		if len(next) < 10 {
			continue
		}
		if len(window)+len(next)+2 > snippetMaxLength {
			break
		}
		window += ". " + next
	}
	return truncateSnippet(window, snippetMaxLength)
}

// termContext returns text surrounding the earliest query-term match.
func termContext(terms []string, content string) string {
	contentLower := strings.ToLower(content)

	first := -1
	for _, term := range terms {
		if pos := strings.Index(contentLower, term); pos >= 0 && (first < 0 || pos < first) {
			first = pos
		}
	}
	if first < 0 {
		return ""
	}

	start := first - snippetContextChars
	if start < 0 {
		start = 0
	}
	end := first + snippetContextChars + len(terms[0])
	if end > len(content) {
		end = len(content)
	}

	snippet := strings.TrimSpace(content[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet += "..."
	}
	return truncateSnippet(snippet, snippetMaxLength)
}

// truncateSnippet cuts at maxLength, backing up to a word boundary when
// one is close enough.
func truncateSnippet(text string, maxLength int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxLength {
		return text
	}
	truncated := text[:maxLength]
	if last := strings.LastIndex(truncated, " "); last > maxLength*7/10 {
		truncated = truncated[:last]
	}
	return strings.TrimRight(truncated, " ") + "..."
}
