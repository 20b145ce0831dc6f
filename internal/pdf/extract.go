// Package pdf extracts plain text from uploaded PDF blobs. A page is the
// natural retrieval granule; pages that exceed the chunk limit are split
// deterministically so rebuilding the same document yields the same chunks.
package pdf

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxChunkChars caps the size of a single retrieval chunk. Long pages are
// split at the nearest whitespace below this limit.
const MaxChunkChars = 4000

// Extractor pulls page text out of PDF bytes.
type Extractor struct{}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor { return &Extractor{} }

// PageCount returns the number of pages in the document.
func (e *Extractor) PageCount(data []byte) (int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	return r.NumPage(), nil
}

// Pages returns the plain text of every page in order. Pages that fail
// text extraction come back empty rather than aborting the document.
func (e *Extractor) Pages(data []byte) ([]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, "")
			continue
		}
		pages = append(pages, strings.TrimSpace(text))
	}
	return pages, nil
}

// Chunks converts page texts into retrieval chunks: one chunk per page,
// with oversized pages split at whitespace. Blank pages are dropped.
// The output is stable for identical input.
func Chunks(pages []string) []string {
	var chunks []string
	for _, page := range pages {
		if page == "" {
			continue
		}
		chunks = append(chunks, splitPage(page, MaxChunkChars)...)
	}
	return chunks
}

// splitPage cuts text into pieces of at most limit characters, preferring
// the last whitespace before the limit so words stay intact.
func splitPage(text string, limit int) []string {
	var parts []string
	for len(text) > limit {
		cut := strings.LastIndexAny(text[:limit], " \t\n")
		if cut <= 0 {
			cut = limit
		}
		parts = append(parts, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
