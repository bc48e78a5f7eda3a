package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_store.go -package=mocks docrag/internal/vectorstore VectorStore

import "context"

// Payload keys stored on every chunk point.
const (
	KeyDocumentID  = "document_id"
	KeyOwnerID     = "owner_id"
	KeyTitle       = "title"
	KeyContentType = "content_type"
	KeyChunkIndex  = "chunk_index"
	KeyTags        = "tags"
	KeyGeneration  = "generation"
	KeyText        = "text"
)

// Point represents a vector point with metadata.
type Point struct {
	ID   string
	Vec  []float32
	Meta map[string]any
}

// SearchResult represents a search result from vector search.
type SearchResult struct {
	PointID string
	Score   float32
	Meta    map[string]any
}

// Filter restricts an operation to points whose payload matches every set field.
// DocumentIDs matches any of the listed documents.
type Filter struct {
	OwnerID     string
	DocumentID  string
	DocumentIDs []string
	Generation  string
	ContentType string
}

// Empty reports whether the filter matches every point.
func (f Filter) Empty() bool {
	return f.OwnerID == "" && f.DocumentID == "" && len(f.DocumentIDs) == 0 &&
		f.Generation == "" && f.ContentType == ""
}

// VectorStore defines the interface for vector storage operations.
type VectorStore interface {
	// Upsert inserts or updates points in the collection.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search performs a similarity search restricted by filter.
	Search(ctx context.Context, collection string, query []float32, k int, filter Filter) ([]SearchResult, error)

	// Delete removes points by their IDs.
	Delete(ctx context.Context, collection string, ids []string) error

	// DeleteByFilter removes every point matching filter. An empty filter is rejected.
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error

	// Count returns the exact number of points matching filter.
	Count(ctx context.Context, collection string, filter Filter) (int, error)

	// SetPayload overwrites the given payload keys on every point matching filter.
	SetPayload(ctx context.Context, collection string, filter Filter, payload map[string]any) error
}
