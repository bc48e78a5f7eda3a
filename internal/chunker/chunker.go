// Package chunker splits normalized text into fixed-size overlapping windows.
package chunker

import (
	"fmt"

	"docrag/internal/document"
)

// Params describes one window configuration, measured in runes.
type Params struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// Validate reports configuration errors. Overlap must be smaller than the window.
func (p Params) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("chunk size must be greater than 0, got %d", p.Size)
	}
	if p.Overlap < 0 {
		return fmt.Errorf("chunk overlap must not be negative, got %d", p.Overlap)
	}
	if p.Overlap >= p.Size {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", p.Overlap, p.Size)
	}
	return nil
}

var (
	// DefaultPlainText is used for text/plain style content.
	DefaultPlainText = Params{Size: 2000, Overlap: 50}
	// DefaultOther is used for every other content kind.
	DefaultOther = Params{Size: 1000, Overlap: 100}
)

// Chunk is one window of a document's text.
type Chunk struct {
	Index int    // position within the document, starting at 0
	Start int    // rune offset of the first rune
	End   int    // rune offset one past the last rune
	Text  string // exact substring of the input
}

// Chunker splits text using per content kind window parameters.
type Chunker struct {
	plainText Params
	other     Params
}

// New creates a Chunker. It fails when either parameter set is invalid.
func New(plainText, other Params) (*Chunker, error) {
	if err := plainText.Validate(); err != nil {
		return nil, fmt.Errorf("plain text chunking: %w", err)
	}
	if err := other.Validate(); err != nil {
		return nil, fmt.Errorf("default chunking: %w", err)
	}
	return &Chunker{plainText: plainText, other: other}, nil
}

// NewDefault creates a Chunker with the default windows.
func NewDefault() *Chunker {
	return &Chunker{plainText: DefaultPlainText, other: DefaultOther}
}

// ParamsFor returns the window parameters used for contentType.
func (c *Chunker) ParamsFor(contentType string) Params {
	if document.KindOf(contentType) == document.KindPlainText {
		return c.plainText
	}
	return c.other
}

// Split cuts text into ordered windows. Identical text and content type
// always yield identical boundaries. Text shorter than one window produces
// exactly one chunk; empty text produces none.
func (c *Chunker) Split(text, contentType string) []Chunk {
	return split(text, c.ParamsFor(contentType))
}

func split(text string, p Params) []Chunk {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	step := p.Size - p.Overlap

	var chunks []Chunk
	for start := 0; ; start += step {
		end := start + p.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
