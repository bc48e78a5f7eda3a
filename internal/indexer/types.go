package indexer

// PlaceholderRequest describes an upload before any of its bytes are processed.
type PlaceholderRequest struct {
	OwnerID     string
	Title       string // defaults to Filename without extension
	ContentType string
	Size        int64
	Filename    string
	Tags        []string
	FileURL     string // set when the bytes were staged before the row existed
}

// IngestRequest carries the bytes of a placeholder document.
type IngestRequest struct {
	DocumentID  string
	Data        []byte
	Filename    string
	ContentType string // defaults to the document's content type
	FileURL     string // already stored blob; skips the blob write
}

// UpdateRequest changes a document. Nil fields are left unchanged.
// A non-nil Content replaces the canonical text and the chunk set.
type UpdateRequest struct {
	DocumentID string
	Title      *string
	Tags       []string
	Content    *string
}
