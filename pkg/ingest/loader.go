// Package ingest loads documents, splits them into parent/child chunks
// and writes them to the vector store and lexical index.
package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// Page is one unit of loaded text. Non-paginated formats produce a
// single page 1.
type Page struct {
	Content string
	// Number is 1-indexed.
	Number int
}

// SupportedExtensions lists the file types Load accepts.
var SupportedExtensions = []string{".pdf", ".docx", ".txt", ".md"}

// Load reads a document into pages based on its extension.
func Load(path string) ([]Page, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return loadPDF(path)
	case ".docx":
		return loadDocx(path)
	case ".txt", ".md":
		return loadText(path)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
}

func loadPDF(path string) ([]Page, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single broken page should not sink the document.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Content: text, Number: i})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf contains no extractable text")
	}
	return pages, nil
}

var (
	docxParaRe = regexp.MustCompile(`</w:p>`)
	docxTagRe  = regexp.MustCompile(`<[^>]+>`)
)

func loadDocx(path string) ([]Page, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}
	defer r.Close()

	// GetContent returns the raw document XML; paragraph closes become
	// newlines, everything else is stripped.
	content := r.Editable().GetContent()
	content = docxParaRe.ReplaceAllString(content, "\n")
	content = docxTagRe.ReplaceAllString(content, "")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("docx contains no extractable text")
	}
	return []Page{{Content: content, Number: 1}}, nil
}

func loadText(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, fmt.Errorf("file is empty")
	}
	return []Page{{Content: content, Number: 1}}, nil
}
