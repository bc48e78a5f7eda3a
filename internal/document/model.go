package document

import (
	"mime"
	"strings"
	"time"
)

// Document is the metadata record of an uploaded file.
type Document struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	OwnerID          string    `json:"owner_id"`
	ContentType      string    `json:"content_type"`
	Content          *string   `json:"content,omitempty"` // canonical text of the live chunk set
	FileURL          string    `json:"file_url,omitempty"`
	FileSize         int64     `json:"file_size"`
	OriginalFilename string    `json:"original_filename"`
	Status           Status    `json:"status"`
	StatusMessage    string    `json:"status_message,omitempty"`
	VectorRef        string    `json:"vector_ref,omitempty"` // generation of the live chunk set
	Tags             []string  `json:"tags,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Indexed reports whether the document has a confirmed live chunk set.
func (d *Document) Indexed() bool {
	return d.VectorRef != ""
}

// Text returns the cached canonical text, or "" when none is stored.
func (d *Document) Text() string {
	if d.Content == nil {
		return ""
	}
	return *d.Content
}

// Kind groups content types that share extraction, chunking and routing rules.
type Kind int

const (
	KindOther Kind = iota
	KindPlainText
	KindMarkdown
	KindPDF
)

func (k Kind) String() string {
	switch k {
	case KindPlainText:
		return "text"
	case KindMarkdown:
		return "markdown"
	case KindPDF:
		return "pdf"
	default:
		return "other"
	}
}

// MediaType strips parameters (e.g. "; charset=utf-8") and lowercases ct.
func MediaType(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return "application/octet-stream"
	}
	if parsed, _, err := mime.ParseMediaType(ct); err == nil {
		return parsed
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// KindOf classifies a declared content type.
func KindOf(contentType string) Kind {
	mt := MediaType(contentType)
	switch {
	case mt == "application/pdf":
		return KindPDF
	case mt == "text/markdown" || mt == "text/x-markdown":
		return KindMarkdown
	case strings.HasPrefix(mt, "text/"):
		return KindPlainText
	default:
		return KindOther
	}
}

// Supported reports whether a content type can be ingested at all.
// Media families without any text representation are rejected.
func Supported(contentType string) bool {
	mt := MediaType(contentType)
	for _, prefix := range []string{"image/", "audio/", "video/"} {
		if strings.HasPrefix(mt, prefix) {
			return false
		}
	}
	return true
}
