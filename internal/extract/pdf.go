package extract

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"

	"docrag/internal/document"
)

const noExtractableText = "no extractable text"

func (e *Extractor) extractPDF(data []byte) (string, error) {
	pages, err := pdfPages(data)
	if err != nil {
		return "", document.NewValidationError("file", fmt.Sprintf("%s: unreadable pdf: %v", noExtractableText, err))
	}
	return e.joinPDFPages(pages)
}

// joinPDFPages cleans every page and enforces the minimum amount of text.
func (e *Extractor) joinPDFPages(pages []string) (string, error) {
	cleaned := make([]string, 0, len(pages))
	for _, page := range pages {
		if text := cleanPDFText(page); text != "" {
			cleaned = append(cleaned, text)
		}
	}
	text := strings.Join(cleaned, "\n\n")

	var visible int
	for _, r := range text {
		if !unicode.IsSpace(r) {
			visible++
		}
	}
	if visible < e.minPDFChars {
		return "", document.NewValidationError("file", noExtractableText)
	}
	return text, nil
}

// pdfPages returns the plain text of every page in order.
// The pdf reader panics on some malformed inputs; that is reported as an error.
func pdfPages(data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

// cleanPDFText drops control characters and collapses whitespace runs.
func cleanPDFText(s string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(stripped), " ")
}
