package indexer

import (
	"fmt"

	"docrag/internal/document"
)

// Mode says whether an upload is ingested inline or on the worker pool.
type Mode int

const (
	ModeSync Mode = iota
	ModeAsync
)

func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "sync"
}

const (
	KiB = 1024
	MiB = 1024 * KiB
)

// Thresholds are the inclusive sync size limits per content kind, in bytes.
type Thresholds struct {
	Text  int64 `yaml:"text"` // plain text and markdown
	PDF   int64 `yaml:"pdf"`
	Other int64 `yaml:"other"`
	Max   int64 `yaml:"max"` // hard upload cap
}

// DefaultThresholds are the built-in routing limits.
var DefaultThresholds = Thresholds{
	Text:  500 * KiB,
	PDF:   1 * MiB,
	Other: 3 * MiB,
	Max:   100 * MiB,
}

// Validate reports inconsistent limits.
func (t Thresholds) Validate() error {
	limits := []struct {
		name  string
		value int64
	}{{"text", t.Text}, {"pdf", t.PDF}, {"other", t.Other}, {"max", t.Max}}
	for _, l := range limits {
		if l.value <= 0 {
			return fmt.Errorf("%s threshold must be greater than 0, got %d", l.name, l.value)
		}
	}
	if t.Text > t.Max || t.PDF > t.Max || t.Other > t.Max {
		return fmt.Errorf("sync thresholds must not exceed the upload cap %d", t.Max)
	}
	return nil
}

// For returns the sync limit for contentType.
func (t Thresholds) For(contentType string) int64 {
	switch document.KindOf(contentType) {
	case document.KindPlainText, document.KindMarkdown:
		return t.Text
	case document.KindPDF:
		return t.PDF
	default:
		return t.Other
	}
}

// Decide routes an upload of size bytes. A file exactly at the threshold is
// ingested synchronously.
func (t Thresholds) Decide(size int64, contentType string) (Mode, error) {
	if !document.Supported(contentType) {
		return ModeSync, document.NewValidationError("content_type", "unsupported content type")
	}
	if size <= 0 {
		return ModeSync, document.NewValidationError("file", "file is empty")
	}
	if size > t.Max {
		return ModeSync, document.NewValidationError("file",
			fmt.Sprintf("file exceeds the maximum size of %d bytes", t.Max))
	}
	if size > t.For(contentType) {
		return ModeAsync, nil
	}
	return ModeSync, nil
}
