// Package vectorindex stores document chunks as embedded points and queries
// them under metadata filters. Every external call is bounded by a timeout
// and failures surface as *document.ExternalServiceError.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docrag/internal/contextutil"
	"docrag/internal/document"
	"docrag/internal/llm"
	"docrag/internal/vectorstore"
)

const (
	serviceVectorIndex = "vector index"
	serviceEmbedding   = "embedding service"

	// DefaultBatchSize bounds the number of texts sent in one embedding call.
	DefaultBatchSize = 64
)

// pointNamespace scopes the UUIDv5 chunk point ids.
var pointNamespace = uuid.MustParse("6f1c1b7e-3d55-4a8e-9a4c-2f0a1e7d9b52")

// Chunk is one window of a document's text plus the metadata stored with it.
type Chunk struct {
	DocumentID  string
	OwnerID     string
	Title       string
	ContentType string
	Generation  string
	Index       int
	Text        string
	Tags        []string
}

// Hit is one ranked query result.
type Hit struct {
	PointID    string
	DocumentID string
	OwnerID    string
	Title      string
	Generation string
	ChunkIndex int
	Text       string
	Score      float32
}

// Index couples an Embedder with a VectorStore collection.
type Index struct {
	store      vectorstore.VectorStore
	embedder   llm.Embedder
	collection string
	timeout    time.Duration
	batchSize  int
}

// Option configures an Index.
type Option func(*Index)

// WithTimeout bounds every call to the embedder and the store. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(ix *Index) { ix.timeout = d }
}

// WithBatchSize sets the embedding batch size.
func WithBatchSize(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// New creates an Index over collection.
func New(store vectorstore.VectorStore, embedder llm.Embedder, collection string, opts ...Option) *Index {
	ix := &Index{
		store:      store,
		embedder:   embedder,
		collection: collection,
		timeout:    30 * time.Second,
		batchSize:  DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// PointID returns the deterministic point id of a chunk. Re-running the same
// generation overwrites its points instead of duplicating them.
func PointID(documentID, generation string, index int) string {
	name := fmt.Sprintf("%s/%s/%d", documentID, generation, index)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

// Add embeds chunks and writes them as points. It returns the point ids in
// chunk order. On error some points may already have been written; callers
// remove them by generation.
func (ix *Index) Add(ctx context.Context, chunks []Chunk) ([]string, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if len(chunks) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(chunks))
	for start := 0; start < len(chunks); start += ix.batchSize {
		end := min(start+ix.batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		var vectors [][]float32
		err := ix.call(ctx, serviceEmbedding, func(ctx context.Context) error {
			var err error
			vectors, err = ix.embedder.EmbedTexts(ctx, texts)
			return err
		})
		if err != nil {
			return ids, err
		}
		if len(vectors) != len(batch) {
			return ids, document.NewExternalServiceError(serviceEmbedding,
				fmt.Errorf("embedding count mismatch: expected %d, got %d", len(batch), len(vectors)))
		}

		points := make([]vectorstore.Point, len(batch))
		for i, c := range batch {
			points[i] = vectorstore.Point{
				ID:   PointID(c.DocumentID, c.Generation, c.Index),
				Vec:  vectors[i],
				Meta: payload(c),
			}
		}

		err = ix.call(ctx, serviceVectorIndex, func(ctx context.Context) error {
			return ix.store.Upsert(ctx, ix.collection, points)
		})
		if err != nil {
			return ids, err
		}
		for _, p := range points {
			ids = append(ids, p.ID)
		}
	}

	logger.DebugContext(ctx, "added chunks", "document_id", chunks[0].DocumentID, "count", len(ids))
	return ids, nil
}

// Query returns the n chunks most similar to text under filter, best first.
func (ix *Index) Query(ctx context.Context, text string, n int, filter vectorstore.Filter) ([]Hit, error) {
	if n <= 0 {
		return nil, document.NewValidationError("n", "result count must be greater than 0")
	}

	var vectors [][]float32
	err := ix.call(ctx, serviceEmbedding, func(ctx context.Context) error {
		var err error
		vectors, err = ix.embedder.EmbedTexts(ctx, []string{text})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, document.NewExternalServiceError(serviceEmbedding,
			fmt.Errorf("expected 1 embedding, got %d", len(vectors)))
	}

	var results []vectorstore.SearchResult
	err = ix.call(ctx, serviceVectorIndex, func(ctx context.Context) error {
		var err error
		results, err = ix.store.Search(ctx, ix.collection, vectors[0], n, filter)
		return err
	})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			PointID:    r.PointID,
			DocumentID: metaString(r.Meta, vectorstore.KeyDocumentID),
			OwnerID:    metaString(r.Meta, vectorstore.KeyOwnerID),
			Title:      metaString(r.Meta, vectorstore.KeyTitle),
			Generation: metaString(r.Meta, vectorstore.KeyGeneration),
			ChunkIndex: metaInt(r.Meta, vectorstore.KeyChunkIndex),
			Text:       metaString(r.Meta, vectorstore.KeyText),
			Score:      r.Score,
		})
	}
	return hits, nil
}

// Delete removes points by id.
func (ix *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return ix.call(ctx, serviceVectorIndex, func(ctx context.Context) error {
		return ix.store.Delete(ctx, ix.collection, ids)
	})
}

// DeleteDocument removes every point of a document, across all generations.
func (ix *Index) DeleteDocument(ctx context.Context, documentID string) error {
	return ix.deleteWhere(ctx, vectorstore.Filter{DocumentID: documentID})
}

// DeleteGeneration removes the points of one chunk set of a document.
func (ix *Index) DeleteGeneration(ctx context.Context, documentID, generation string) error {
	return ix.deleteWhere(ctx, vectorstore.Filter{DocumentID: documentID, Generation: generation})
}

func (ix *Index) deleteWhere(ctx context.Context, filter vectorstore.Filter) error {
	if filter.DocumentID == "" {
		return document.NewValidationError("document_id", "document id is required")
	}
	return ix.call(ctx, serviceVectorIndex, func(ctx context.Context) error {
		return ix.store.DeleteByFilter(ctx, ix.collection, filter)
	})
}

// Count returns the number of points matching filter.
func (ix *Index) Count(ctx context.Context, filter vectorstore.Filter) (int, error) {
	var n int
	err := ix.call(ctx, serviceVectorIndex, func(ctx context.Context) error {
		var err error
		n, err = ix.store.Count(ctx, ix.collection, filter)
		return err
	})
	return n, err
}

// SetMetadata rewrites the denormalized title and tags on every point of a document.
func (ix *Index) SetMetadata(ctx context.Context, documentID, title string, tags []string) error {
	if documentID == "" {
		return document.NewValidationError("document_id", "document id is required")
	}
	fields := map[string]any{
		vectorstore.KeyTitle: title,
		vectorstore.KeyTags:  tagList(tags),
	}
	return ix.call(ctx, serviceVectorIndex, func(ctx context.Context) error {
		return ix.store.SetPayload(ctx, ix.collection, vectorstore.Filter{DocumentID: documentID}, fields)
	})
}

// call runs fn under the index timeout and maps failures to ExternalServiceError.
func (ix *Index) call(ctx context.Context, service string, fn func(context.Context) error) error {
	callCtx := ctx
	if ix.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, ix.timeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", ix.timeout, err)
	}
	return document.NewExternalServiceError(service, err)
}

func payload(c Chunk) map[string]any {
	return map[string]any{
		vectorstore.KeyDocumentID:  c.DocumentID,
		vectorstore.KeyOwnerID:     c.OwnerID,
		vectorstore.KeyTitle:       c.Title,
		vectorstore.KeyContentType: c.ContentType,
		vectorstore.KeyChunkIndex:  c.Index,
		vectorstore.KeyTags:        tagList(c.Tags),
		vectorstore.KeyGeneration:  c.Generation,
		vectorstore.KeyText:        c.Text,
	}
}

func tagList(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

// metaInt reads integers stored natively (memory store) or as int64/float64 (Qdrant).
func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
