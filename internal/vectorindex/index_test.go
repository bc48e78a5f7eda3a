package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"docrag/internal/document"
	"docrag/internal/llm"
	llm_mocks "docrag/internal/llm/mocks"
	"docrag/internal/vectorstore"
	vectorstore_mocks "docrag/internal/vectorstore/mocks"
)

func newTestIndex(t *testing.T, opts ...Option) (*Index, *vectorstore.MemoryStore) {
	t.Helper()

	embedder, err := llm.NewHashEmbedder(32)
	if err != nil {
		t.Fatalf("NewHashEmbedder() error = %v", err)
	}
	store := vectorstore.NewMemoryStore()
	return New(store, embedder, "documents", opts...), store
}

func testChunks(docID, owner, generation string, texts ...string) []Chunk {
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			DocumentID:  docID,
			OwnerID:     owner,
			Title:       "Title " + docID,
			ContentType: "text/plain",
			Generation:  generation,
			Index:       i,
			Text:        text,
		}
	}
	return chunks
}

func TestPointID_Deterministic(t *testing.T) {
	a := PointID("doc", "g1", 0)
	if a != PointID("doc", "g1", 0) {
		t.Error("PointID() not deterministic")
	}
	if a == PointID("doc", "g2", 0) || a == PointID("doc", "g1", 1) || a == PointID("other", "g1", 0) {
		t.Error("PointID() collides across generation, index or document")
	}
}

func TestIndex_AddAndQuery(t *testing.T) {
	ix, _ := newTestIndex(t, WithBatchSize(2))
	ctx := context.Background()

	chunks := testChunks("doc-1", "alice", "g1",
		"invoices are due at the end of the month",
		"the cat sat on the mat",
		"quarterly revenue grew by ten percent",
	)
	ids, err := ix.Add(ctx, chunks)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if len(ids) != 3 || ids[1] != PointID("doc-1", "g1", 1) {
		t.Errorf("Add() ids = %v", ids)
	}

	hits, err := ix.Query(ctx, "the cat sat on the mat", 2, vectorstore.Filter{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("Query() returned %d hits, want 2", len(hits))
	}
	best := hits[0]
	if best.DocumentID != "doc-1" || best.ChunkIndex != 1 || best.Text != "the cat sat on the mat" || best.Title != "Title doc-1" {
		t.Errorf("Query() best hit = %+v", best)
	}

	none, err := ix.Query(ctx, "the cat", 5, vectorstore.Filter{OwnerID: "bob"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Query() for other owner returned %d hits", len(none))
	}
}

func TestIndex_AddSameGenerationTwiceDoesNotDuplicate(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()
	chunks := testChunks("doc", "alice", "g1", "alpha", "beta")

	for i := 0; i < 2; i++ {
		if _, err := ix.Add(ctx, chunks); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if n, _ := ix.Count(ctx, vectorstore.Filter{DocumentID: "doc"}); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestIndex_DeleteGenerationAndDocument(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()

	_, _ = ix.Add(ctx, testChunks("doc", "alice", "g1", "one", "two"))
	_, _ = ix.Add(ctx, testChunks("doc", "alice", "g2", "three"))
	_, _ = ix.Add(ctx, testChunks("keep", "alice", "g1", "four"))

	if err := ix.DeleteGeneration(ctx, "doc", "g1"); err != nil {
		t.Fatalf("DeleteGeneration() error = %v", err)
	}
	if n, _ := ix.Count(ctx, vectorstore.Filter{DocumentID: "doc"}); n != 1 {
		t.Errorf("Count() after DeleteGeneration = %d, want 1", n)
	}

	if err := ix.DeleteDocument(ctx, "doc"); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if n, _ := ix.Count(ctx, vectorstore.Filter{DocumentID: "doc"}); n != 0 {
		t.Errorf("Count() after DeleteDocument = %d, want 0", n)
	}
	if n, _ := ix.Count(ctx, vectorstore.Filter{DocumentID: "keep"}); n != 1 {
		t.Errorf("unrelated document lost points: %d", n)
	}

	if err := ix.DeleteDocument(ctx, ""); !errors.Is(err, document.ErrInvalidInput) {
		t.Errorf("DeleteDocument(\"\") error = %v, want validation error", err)
	}
}

func TestIndex_SetMetadata(t *testing.T) {
	ix, _ := newTestIndex(t)
	ctx := context.Background()
	_, _ = ix.Add(ctx, testChunks("doc", "alice", "g1", "some text here"))

	if err := ix.SetMetadata(ctx, "doc", "Renamed", []string{"x"}); err != nil {
		t.Fatalf("SetMetadata() error = %v", err)
	}
	hits, _ := ix.Query(ctx, "some text here", 1, vectorstore.Filter{DocumentID: "doc"})
	if len(hits) != 1 || hits[0].Title != "Renamed" {
		t.Errorf("hit after SetMetadata = %+v", hits)
	}
}

func TestIndex_EmbeddingFailureIsExternal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	embedder := llm_mocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).Return(nil, fmt.Errorf("connection refused"))

	ix := New(vectorstore.NewMemoryStore(), embedder, "documents")
	_, err := ix.Add(context.Background(), testChunks("doc", "alice", "g1", "text"))

	var extErr *document.ExternalServiceError
	if !errors.As(err, &extErr) || extErr.Service != serviceEmbedding {
		t.Errorf("Add() error = %v, want ExternalServiceError from embedding service", err)
	}
}

func TestIndex_StoreTimeoutIsExternal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := vectorstore_mocks.NewMockVectorStore(ctrl)
	store.EXPECT().
		Count(gomock.Any(), "documents", gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ string, _ vectorstore.Filter) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})

	embedder, _ := llm.NewHashEmbedder(8)
	ix := New(store, embedder, "documents", WithTimeout(10*time.Millisecond))

	_, err := ix.Count(context.Background(), vectorstore.Filter{DocumentID: "doc"})
	if !errors.Is(err, document.ErrExternalService) {
		t.Fatalf("Count() error = %v, want ErrExternalService", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Count() error = %v, want wrapped deadline", err)
	}
}

func TestIndex_PartialAddReturnsWrittenIDs(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := vectorstore_mocks.NewMockVectorStore(ctrl)
	gomock.InOrder(
		store.EXPECT().Upsert(gomock.Any(), "documents", gomock.Len(1)).Return(nil),
		store.EXPECT().Upsert(gomock.Any(), "documents", gomock.Len(1)).Return(errors.New("disk full")),
	)

	embedder, _ := llm.NewHashEmbedder(8)
	ix := New(store, embedder, "documents", WithBatchSize(1))

	ids, err := ix.Add(context.Background(), testChunks("doc", "alice", "g1", "a", "b", "c"))
	if !errors.Is(err, document.ErrExternalService) {
		t.Fatalf("Add() error = %v, want ErrExternalService", err)
	}
	if len(ids) != 1 {
		t.Errorf("Add() returned %d ids, want 1 written before failure", len(ids))
	}
}
