package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"docrag/internal/document"
)

// decodeText decodes bytes permissively: a UTF-8 or UTF-16 byte order mark
// selects the encoding, everything else is read as UTF-8 and invalid
// sequences become U+FFFD. It never fails.
func decodeText(data []byte) string {
	decoder := xunicode.BOMOverride(xunicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(decoder, data)
	if err != nil {
		out = data
	}
	if utf8.Valid(out) {
		return string(out)
	}
	return strings.ToValidUTF8(string(out), string(utf8.RuneError))
}

// validateText rejects empty, too short or garbled plain text.
func (e *Extractor) validateText(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return document.NewValidationError("content", "text content is empty")
	}
	if utf8.RuneCountInString(trimmed) < e.minTextRunes {
		return document.NewValidationError("content", "text content is too short")
	}

	var visible, alnum int
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			continue
		}
		visible++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	if visible == 0 || float64(alnum)/float64(visible) < e.minAlnumDensity {
		return document.NewValidationError("content", "text content appears to be binary or garbled")
	}
	return nil
}
