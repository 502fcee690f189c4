package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/petrel-ai/petrel/pkg/config"
)

// splitSeparators are tried in order; the coarsest one present wins.
var splitSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunk is a child chunk ready for embedding and indexing. Metadata
// carries everything retrieval needs, including the full parent text
// under parent_context so parent expansion never re-reads the source.
type Chunk struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Chunker performs two-level splitting: large parents for generation
// context, small children for precise retrieval.
type Chunker struct {
	parentSize    int
	parentOverlap int
	childSize     int
	childOverlap  int
}

// NewChunker builds a Chunker from config.
func NewChunker(cfg *config.ChunkingConfig) *Chunker {
	return &Chunker{
		parentSize:    cfg.ParentSize,
		parentOverlap: cfg.ParentOverlap,
		childSize:     cfg.ChildSize,
		childOverlap:  cfg.ChildOverlap,
	}
}

// Chunk splits the loaded pages of one document into child chunks.
// Parent indices run across the whole document; child indices restart
// per parent.
func (c *Chunker) Chunk(docID, source string, pages []Page) []Chunk {
	var chunks []Chunk
	parentIndex := 0

	for _, page := range pages {
		parents := recursiveSplit(page.Content, splitSeparators, c.parentSize, c.parentOverlap)
		for _, parent := range parents {
			parentID := fmt.Sprintf("%s_p%d", docID, parentIndex)
			children := recursiveSplit(parent, splitSeparators, c.childSize, c.childOverlap)

			for childIndex, child := range children {
				chunkID := fmt.Sprintf("%s_c%d", parentID, childIndex)
				chunks = append(chunks, Chunk{
					ID:      chunkID,
					Content: child,
					Metadata: map[string]any{
						"chunk_id":       chunkID,
						"doc_id":         docID,
						"parent_id":      parentID,
						"parent_context": parent,
						"parent_index":   parentIndex,
						"child_index":    childIndex,
						"total_children": len(children),
						"chunk_size":     len(child),
						"parent_size":    len(parent),
						"source":         source,
						"page":           page.Number,
					},
				})
			}
			parentIndex++
		}
	}
	return chunks
}

// recursiveSplit breaks text into chunks of at most chunkSize bytes,
// preferring the coarsest separator present and carrying overlap bytes
// between adjacent chunks.
func recursiveSplit(text string, separators []string, chunkSize, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	sep := ""
	rest := separators
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	if sep == "" {
		return hardSplit(text, chunkSize, overlap)
	}

	// Break oversized parts further before merging, so every piece
	// fits a chunk on its own.
	var pieces []string
	for _, part := range strings.Split(text, sep) {
		if len(part) > chunkSize {
			pieces = append(pieces, recursiveSplit(part, rest, chunkSize, overlap)...)
		} else if strings.TrimSpace(part) != "" {
			pieces = append(pieces, part)
		}
	}

	var chunks []string
	current := ""
	for _, piece := range pieces {
		joined := piece
		if current != "" {
			joined = current + sep + piece
		}
		if len(joined) <= chunkSize {
			current = joined
			continue
		}
		if current != "" {
			chunks = append(chunks, current)
			tail := runeSafeTail(current, overlap)
			carried := tail + sep + piece
			if len(carried) <= chunkSize {
				current = carried
			} else {
				current = piece
			}
		} else {
			current = piece
		}
	}
	if strings.TrimSpace(current) != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// hardSplit windows the text byte-wise when no separator helps,
// stepping chunkSize-overlap at a time on rune boundaries.
func hardSplit(text string, chunkSize, overlap int) []string {
	step := chunkSize - overlap
	if step <= 0 {
		step = chunkSize
	}

	var chunks []string
	for start := 0; start < len(text); start += step {
		start = runeBoundary(text, start)
		end := start + chunkSize
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		end = runeBoundary(text, end)
		chunks = append(chunks, text[start:end])
	}
	return chunks
}

// runeSafeTail returns the last n bytes of s, extended backward to a
// rune boundary.
func runeSafeTail(s string, n int) string {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[runeBoundary(s, len(s)-n):]
}

// runeBoundary moves i forward to the start of a rune.
func runeBoundary(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}
