package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSnippetLabeledSection(t *testing.T) {
	content := strings.Join([]string{
		"Name: Ada Lovelace",
		"Education: BSc Mathematics, University of London",
		"Graduated with honors in 1842",
		"Experience: Analytical Engine programmer",
	}, "\n")

	snippet := ExtractSnippet("what university degree does she hold", content, "")
	assert.Contains(t, snippet, "Education: BSc Mathematics")
	assert.Contains(t, snippet, "Graduated with honors")
	assert.NotContains(t, snippet, "Experience:")
}

func TestExtractSnippetAliasedLabel(t *testing.T) {
	content := "Contact: ada@example.com\nSkills: calculus, punched cards"

	snippet := ExtractSnippet("what is her email", content, "")
	assert.Contains(t, snippet, "Contact: ada@example.com")
}

func TestExtractSnippetMarkdownHeader(t *testing.T) {
	content := strings.Join([]string{
		"## Introduction",
		"This report covers many topics.",
		"## Revenue",
		"Revenue grew 40% year over year.",
		"## Outlook",
		"Uncertain.",
	}, "\n")

	snippet := ExtractSnippet("revenue growth", content, "")
	assert.Contains(t, snippet, "Revenue")
	assert.Contains(t, snippet, "grew 40%")
	assert.NotContains(t, snippet, "Uncertain")
}

func TestExtractSnippetFallsBackToParentContext(t *testing.T) {
	content := "A small child chunk with nothing labeled."
	parent := "Budget: the project budget is 2.4 million\nAllocated across four quarters"

	snippet := ExtractSnippet("what is the budget", content, parent)
	assert.Contains(t, snippet, "Budget: the project budget")
}

func TestExtractSnippetSentenceWindow(t *testing.T) {
	content := "The weather was mild. The replication protocol tolerates two node failures. Dinner was served late."

	snippet := ExtractSnippet("replication protocol failures", content, "")
	assert.Contains(t, snippet, "replication protocol tolerates")
	assert.NotContains(t, snippet, "weather")
}

func TestExtractSnippetNoTermsTruncates(t *testing.T) {
	long := strings.Repeat("word ", 100)

	snippet := ExtractSnippet("the is a", long, "")
	assert.LessOrEqual(t, len(snippet), snippetMaxLength+3)
	assert.True(t, strings.HasSuffix(snippet, "..."))
}

func TestExtractSnippetEmptyContent(t *testing.T) {
	assert.Equal(t, "", ExtractSnippet("anything", "", "parent text"))
}

func TestTruncateSnippet(t *testing.T) {
	t.Run("short text untouched", func(t *testing.T) {
		assert.Equal(t, "short", truncateSnippet("  short  ", 300))
	})

	t.Run("cuts at word boundary", func(t *testing.T) {
		text := strings.Repeat("abcdefghi ", 40)
		out := truncateSnippet(text, 95)
		assert.True(t, strings.HasSuffix(out, "..."))
		assert.LessOrEqual(t, len(out), 98)
		assert.NotContains(t, strings.TrimSuffix(out, "..."), "  ")
	})
}

func TestExtractQueryTerms(t *testing.T) {
	terms := extractQueryTerms("What is the replication Protocol?")
	assert.Equal(t, []string{"replication", "protocol"}, terms)

	assert.Empty(t, extractQueryTerms("what is the"))
}
