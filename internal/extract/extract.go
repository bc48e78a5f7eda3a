// Package extract turns uploaded bytes into plain text.
//
// Extraction is pure: identical bytes and content type always yield the same
// text or the same error. Inputs that cannot produce usable text fail with a
// *document.ValidationError so callers never index empty or garbled content.
package extract

import (
	"docrag/internal/document"
)

const (
	// DefaultMinPDFChars is the minimum non-whitespace rune count for PDF text.
	// Scanned or image-only PDFs fall below it.
	DefaultMinPDFChars = 20
	// DefaultMinTextRunes is the minimum trimmed length of plain text.
	DefaultMinTextRunes = 10
	// DefaultMinAlnumDensity is the minimum share of letters and digits among
	// non-whitespace runes of plain text.
	DefaultMinAlnumDensity = 0.3
)

// Extractor converts raw bytes into plain text according to content type.
type Extractor struct {
	minPDFChars     int
	minTextRunes    int
	minAlnumDensity float64
	markdown        *markdownRenderer
}

// New creates an Extractor with the default validation thresholds.
func New() *Extractor {
	return &Extractor{
		minPDFChars:     DefaultMinPDFChars,
		minTextRunes:    DefaultMinTextRunes,
		minAlnumDensity: DefaultMinAlnumDensity,
		markdown:        newMarkdownRenderer(),
	}
}

// Extract returns the plain text of data interpreted as contentType.
//
//   - PDF: per-page text, control characters stripped, whitespace collapsed.
//   - Plain text: permissive decode, then length and density checks.
//   - Markdown: rendered to text, then the plain text checks.
//   - Anything else: permissive decode without structural validation.
func (e *Extractor) Extract(data []byte, contentType string) (string, error) {
	switch document.KindOf(contentType) {
	case document.KindPDF:
		return e.extractPDF(data)
	case document.KindPlainText:
		text := decodeText(data)
		if err := e.validateText(text); err != nil {
			return "", err
		}
		return text, nil
	case document.KindMarkdown:
		text := e.markdown.render(decodeText(data))
		if err := e.validateText(text); err != nil {
			return "", err
		}
		return text, nil
	default:
		return decodeText(data), nil
	}
}

var defaultExtractor = New()

// Extract runs the default Extractor.
func Extract(data []byte, contentType string) (string, error) {
	return defaultExtractor.Extract(data, contentType)
}
