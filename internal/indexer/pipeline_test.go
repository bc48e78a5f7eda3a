package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/mock/gomock"

	"docrag/internal/blob"
	"docrag/internal/chunker"
	"docrag/internal/document"
	"docrag/internal/llm"
	"docrag/internal/storage"
	"docrag/internal/vectorindex"
	"docrag/internal/vectorstore"
	vectorstore_mocks "docrag/internal/vectorstore/mocks"
	"docrag/internal/worker"
)

const noteText = "Meeting notes: ship the beta on Friday, call Dana."

var errStoreDown = errors.New("vector store down")

type testEnv struct {
	pipeline *Pipeline
	docs     *storage.DocumentRepo
	chunks   *storage.ChunkRepo
	mem      *vectorstore.MemoryStore
	index    *vectorindex.Index
	blobs    *blob.FileStore
	blobDir  string
}

type testOptions struct {
	// inject registers failing expectations before the pass-through defaults.
	inject    func(m *vectorstore_mocks.MockVectorStore, env *testEnv)
	batchSize int
	windows   *chunker.Params
}

func newTestEnv(t *testing.T, opts testOptions) *testEnv {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	blobDir := filepath.Join(t.TempDir(), "blobs")
	blobs, err := blob.NewFileStore(blobDir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	embedder, err := llm.NewHashEmbedder(64)
	if err != nil {
		t.Fatalf("NewHashEmbedder() error = %v", err)
	}

	env := &testEnv{
		docs:    storage.NewDocumentRepo(db),
		chunks:  storage.NewChunkRepo(db),
		mem:     vectorstore.NewMemoryStore(),
		blobs:   blobs,
		blobDir: blobDir,
	}

	ctrl := gomock.NewController(t)
	store := vectorstore_mocks.NewMockVectorStore(ctrl)
	if opts.inject != nil {
		opts.inject(store, env)
	}
	store.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(env.mem.Upsert).AnyTimes()
	store.EXPECT().Search(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(env.mem.Search).AnyTimes()
	store.EXPECT().Delete(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(env.mem.Delete).AnyTimes()
	store.EXPECT().DeleteByFilter(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(env.mem.DeleteByFilter).AnyTimes()
	store.EXPECT().Count(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(env.mem.Count).AnyTimes()
	store.EXPECT().SetPayload(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(env.mem.SetPayload).AnyTimes()

	var indexOpts []vectorindex.Option
	if opts.batchSize > 0 {
		indexOpts = append(indexOpts, vectorindex.WithBatchSize(opts.batchSize))
	}
	env.index = vectorindex.New(store, embedder, "documents", indexOpts...)

	var pipelineOpts []Option
	if opts.windows != nil {
		c, err := chunker.New(*opts.windows, *opts.windows)
		if err != nil {
			t.Fatalf("chunker.New() error = %v", err)
		}
		pipelineOpts = append(pipelineOpts, WithChunker(c))
	}
	env.pipeline = NewPipeline(env.docs, env.chunks, env.index, blobs, pipelineOpts...)
	return env
}

func (e *testEnv) placeholder(t *testing.T, owner, filename, contentType string, size int) *document.Document {
	t.Helper()
	doc, err := e.pipeline.CreatePlaceholder(context.Background(), PlaceholderRequest{
		OwnerID:     owner,
		ContentType: contentType,
		Size:        int64(size),
		Filename:    filename,
	})
	if err != nil {
		t.Fatalf("CreatePlaceholder() error = %v", err)
	}
	return doc
}

func (e *testEnv) ingestText(t *testing.T, owner, text string) *document.Document {
	t.Helper()
	doc := e.placeholder(t, owner, "notes.txt", "text/plain", len(text))
	got, err := e.pipeline.Ingest(context.Background(), IngestRequest{DocumentID: doc.ID, Data: []byte(text), Filename: "notes.txt"})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	return got
}

func (e *testEnv) pointCount(t *testing.T, documentID string) int {
	t.Helper()
	n, err := e.mem.Count(context.Background(), "documents", vectorstore.Filter{DocumentID: documentID})
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	return n
}

func (e *testEnv) blobFiles(t *testing.T) int {
	t.Helper()
	var n int
	err := filepath.WalkDir(e.blobDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir() error = %v", err)
	}
	return n
}

var smallWindows = &chunker.Params{Size: 40, Overlap: 10}

func longText(words int, seed string) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", seed, i)
	}
	return strings.Join(parts, " ")
}

// imageOnlyPDF builds a one-page PDF whose content stream draws nothing.
func imageOnlyPDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << >> >>",
		"<< /Length 0 >>\nstream\n\nendstream",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestPipeline_CreatePlaceholder(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	ctx := context.Background()

	tests := []struct {
		name      string
		req       PlaceholderRequest
		wantTitle string
		wantErr   bool
	}{
		{"explicit title", PlaceholderRequest{OwnerID: "alice", Title: "Note", ContentType: "text/plain", Size: 50, Filename: "n.txt"}, "Note", false},
		{"title from filename", PlaceholderRequest{OwnerID: "alice", ContentType: "application/pdf", Size: 10, Filename: "report.2024.pdf"}, "report.2024", false},
		{"untitled", PlaceholderRequest{OwnerID: "alice", ContentType: "text/plain", Size: 10}, "Untitled", false},
		{"missing owner", PlaceholderRequest{ContentType: "text/plain", Size: 10}, "", true},
		{"image", PlaceholderRequest{OwnerID: "alice", ContentType: "image/png", Size: 10}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := env.pipeline.CreatePlaceholder(ctx, tt.req)
			if tt.wantErr {
				if !errors.Is(err, document.ErrInvalidInput) {
					t.Fatalf("CreatePlaceholder() error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreatePlaceholder() error = %v", err)
			}
			if doc.Title != tt.wantTitle {
				t.Errorf("CreatePlaceholder() title = %q, want %q", doc.Title, tt.wantTitle)
			}
			if doc.Status != document.StatusPending || doc.Content != nil {
				t.Errorf("CreatePlaceholder() = %+v, want pending without text", doc)
			}
		})
	}
}

func TestPipeline_IngestPlainText(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	ctx := context.Background()

	if len(noteText) != 50 {
		t.Fatalf("fixture length = %d, want 50", len(noteText))
	}

	doc, err := env.pipeline.CreatePlaceholder(ctx, PlaceholderRequest{
		OwnerID: "alice", Title: "Note", ContentType: "text/plain", Size: 50, Filename: "note.txt",
	})
	if err != nil {
		t.Fatalf("CreatePlaceholder() error = %v", err)
	}

	got, err := env.pipeline.Ingest(ctx, IngestRequest{DocumentID: doc.ID, Data: []byte(noteText), Filename: "note.txt"})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if got.Status != document.StatusCompleted {
		t.Errorf("status = %v (%s), want completed", got.Status, got.StatusMessage)
	}
	if got.Text() != noteText {
		t.Errorf("content = %q, want input text", got.Text())
	}
	if got.VectorRef == "" {
		t.Error("vector_ref should name the live generation")
	}
	if n := env.pointCount(t, doc.ID); n != 1 {
		t.Errorf("indexed chunks = %d, want 1", n)
	}
	if n, _ := env.chunks.CountByDocument(ctx, doc.ID); n != 1 {
		t.Errorf("ledger rows = %d, want 1", n)
	}

	stored, err := env.blobs.Fetch(ctx, got.FileURL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(stored) != noteText {
		t.Errorf("stored file = %q, want input bytes", stored)
	}
}

func TestPipeline_IngestScannedPDF(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	ctx := context.Background()

	data := imageOnlyPDF()
	doc := env.placeholder(t, "alice", "scan.pdf", "application/pdf", len(data))

	_, err := env.pipeline.Ingest(ctx, IngestRequest{DocumentID: doc.ID, Data: data})
	if !errors.Is(err, document.ErrInvalidInput) {
		t.Fatalf("Ingest() error = %v, want ErrInvalidInput", err)
	}

	got, err := env.pipeline.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get() error = %v, row must survive an extraction failure", err)
	}
	if got.Status != document.StatusError {
		t.Errorf("status = %v, want error", got.Status)
	}
	if !strings.Contains(got.StatusMessage, "no extractable text") {
		t.Errorf("status message = %q", got.StatusMessage)
	}
	if n := env.pointCount(t, doc.ID); n != 0 {
		t.Errorf("indexed chunks = %d, want 0", n)
	}
	if n := env.blobFiles(t); n != 0 {
		t.Errorf("stored files = %d, want 0", n)
	}
}

func TestPipeline_UpdateContentReplacesChunkSet(t *testing.T) {
	env := newTestEnv(t, testOptions{windows: smallWindows})
	ctx := context.Background()

	original := longText(40, "alpha")
	doc := env.ingestText(t, "alice", original)
	if n := env.pointCount(t, doc.ID); n < 2 {
		t.Fatalf("fixture produced %d chunks, want several", n)
	}

	replacement := longText(15, "beta")
	want := len(env.pipeline.chunker.Split(replacement, "text/plain"))

	got, err := env.pipeline.Update(ctx, UpdateRequest{DocumentID: doc.ID, Content: &replacement})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if got.Status != document.StatusCompleted || got.Text() != replacement {
		t.Errorf("Update() = status %v, text %q", got.Status, got.Text())
	}
	if got.VectorRef == doc.VectorRef {
		t.Error("vector_ref should move to the new generation")
	}
	if n := env.pointCount(t, doc.ID); n != want {
		t.Errorf("indexed chunks = %d, want %d", n, want)
	}
	if n, err := env.mem.Count(ctx, "documents", vectorstore.Filter{DocumentID: doc.ID, Generation: got.VectorRef}); err != nil || n != want {
		t.Errorf("chunks of live generation = %d (err %v), want %d", n, err, want)
	}
	ids, _ := env.chunks.ListIDsByDocument(ctx, doc.ID)
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate chunk id %s", id)
		}
		seen[id] = true
	}
	if len(ids) != want {
		t.Errorf("ledger rows = %d, want %d", len(ids), want)
	}
}

func TestPipeline_ReindexIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testOptions{windows: smallWindows})
	ctx := context.Background()

	doc := env.ingestText(t, "alice", longText(30, "gamma"))
	before := env.pointCount(t, doc.ID)

	for i := 0; i < 2; i++ {
		got, err := env.pipeline.Reindex(ctx, doc.ID)
		if err != nil {
			t.Fatalf("Reindex() error = %v", err)
		}
		if got.Status != document.StatusCompleted || got.VectorRef != doc.VectorRef {
			t.Errorf("Reindex() = status %v, ref %q, want completed with unchanged ref", got.Status, got.VectorRef)
		}
	}

	if n := env.pointCount(t, doc.ID); n != before {
		t.Errorf("indexed chunks = %d, want %d", n, before)
	}
}

func TestPipeline_DeleteRemovesEverything(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	ctx := context.Background()

	doc := env.ingestText(t, "alice", noteText)

	if err := env.pipeline.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := env.pipeline.Get(ctx, doc.ID); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	hits, err := env.index.Query(ctx, noteText, 5, vectorstore.Filter{DocumentID: doc.ID})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Query() = %d hits, want 0", len(hits))
	}
	if n := env.blobFiles(t); n != 0 {
		t.Errorf("stored files = %d, want 0", n)
	}

	if err := env.pipeline.Delete(ctx, doc.ID); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestPipeline_DeleteKeepsRowWhenIndexFails(t *testing.T) {
	env := newTestEnv(t, testOptions{
		inject: func(m *vectorstore_mocks.MockVectorStore, _ *testEnv) {
			m.EXPECT().DeleteByFilter(gomock.Any(), gomock.Any(), gomock.Any()).Return(errStoreDown).Times(1)
		},
	})
	ctx := context.Background()

	doc := env.ingestText(t, "alice", noteText)

	if err := env.pipeline.Delete(ctx, doc.ID); !errors.Is(err, document.ErrExternalService) {
		t.Fatalf("Delete() error = %v, want ErrExternalService", err)
	}
	if _, err := env.pipeline.Get(ctx, doc.ID); err != nil {
		t.Errorf("Get() error = %v, row must survive", err)
	}
}

func TestPipeline_FirstIngestWriteFailureCompensates(t *testing.T) {
	env := newTestEnv(t, testOptions{
		batchSize: 1,
		windows:   smallWindows,
		inject: func(m *vectorstore_mocks.MockVectorStore, env *testEnv) {
			calls := 0
			m.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(ctx context.Context, collection string, points []vectorstore.Point) error {
					calls++
					if calls > 1 {
						return errStoreDown
					}
					return env.mem.Upsert(ctx, collection, points)
				}).AnyTimes()
		},
	})
	ctx := context.Background()

	text := longText(20, "delta")
	doc := env.placeholder(t, "alice", "notes.txt", "text/plain", len(text))

	_, err := env.pipeline.Ingest(ctx, IngestRequest{DocumentID: doc.ID, Data: []byte(text)})
	if !errors.Is(err, document.ErrExternalService) {
		t.Fatalf("Ingest() error = %v, want ErrExternalService", err)
	}

	if _, err := env.pipeline.Get(ctx, doc.ID); !errors.Is(err, document.ErrNotFound) {
		t.Errorf("Get() error = %v, want the row removed", err)
	}
	if n := env.pointCount(t, doc.ID); n != 0 {
		t.Errorf("indexed chunks = %d, want partial chunks removed", n)
	}
	if n := env.blobFiles(t); n != 0 {
		t.Errorf("stored files = %d, want 0", n)
	}
}

func TestPipeline_UpdateWriteFailureKeepsPreviousSet(t *testing.T) {
	failing := false
	env := newTestEnv(t, testOptions{
		batchSize: 1,
		windows:   smallWindows,
		inject: func(m *vectorstore_mocks.MockVectorStore, env *testEnv) {
			calls := 0
			m.EXPECT().Upsert(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(ctx context.Context, collection string, points []vectorstore.Point) error {
					if failing {
						calls++
						if calls > 1 {
							return errStoreDown
						}
					}
					return env.mem.Upsert(ctx, collection, points)
				}).AnyTimes()
		},
	})
	ctx := context.Background()

	original := longText(20, "epsilon")
	doc := env.ingestText(t, "alice", original)
	before := env.pointCount(t, doc.ID)

	failing = true
	replacement := longText(25, "zeta")
	_, err := env.pipeline.Update(ctx, UpdateRequest{DocumentID: doc.ID, Content: &replacement})
	if !errors.Is(err, document.ErrExternalService) {
		t.Fatalf("Update() error = %v, want ErrExternalService", err)
	}

	got, err := env.pipeline.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != document.StatusError {
		t.Errorf("status = %v, want error", got.Status)
	}
	if got.Text() != original || got.VectorRef != doc.VectorRef {
		t.Error("previous text and chunk set reference must be untouched")
	}
	if n := env.pointCount(t, doc.ID); n != before {
		t.Errorf("indexed chunks = %d, want the previous %d", n, before)
	}
}

func TestPipeline_ZeroCountBecomesWarning(t *testing.T) {
	env := newTestEnv(t, testOptions{
		inject: func(m *vectorstore_mocks.MockVectorStore, _ *testEnv) {
			m.EXPECT().Count(gomock.Any(), gomock.Any(), gomock.Any()).Return(0, nil).Times(1)
		},
	})

	doc := env.ingestText(t, "alice", noteText)

	if doc.Status != document.StatusWarning {
		t.Errorf("status = %v, want warning", doc.Status)
	}
	if doc.VectorRef != "" {
		t.Errorf("vector_ref = %q, want empty", doc.VectorRef)
	}
	if doc.Text() != noteText {
		t.Error("text should still be stored")
	}
}

func TestPipeline_StaleChunksBecomeWarning(t *testing.T) {
	env := newTestEnv(t, testOptions{
		inject: func(m *vectorstore_mocks.MockVectorStore, _ *testEnv) {
			m.EXPECT().Delete(gomock.Any(), gomock.Any(), gomock.Any()).Return(errStoreDown).Times(1)
		},
	})
	ctx := context.Background()

	doc := env.ingestText(t, "alice", noteText)
	replacement := "Updated meeting notes: the beta moves to Monday."

	if _, err := env.pipeline.Update(ctx, UpdateRequest{DocumentID: doc.ID, Content: &replacement}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := env.pipeline.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != document.StatusWarning || got.StatusMessage != msgStale {
		t.Errorf("status = %v (%q), want warning about stale chunks", got.Status, got.StatusMessage)
	}
	if got.Text() != replacement {
		t.Error("new text should be live")
	}

	live, err := env.pipeline.LiveGenerations(ctx, []string{doc.ID, "missing"})
	if err != nil {
		t.Fatalf("LiveGenerations() error = %v", err)
	}
	if len(live) != 1 || live[doc.ID] != got.VectorRef {
		t.Fatalf("LiveGenerations() = %v, want only %s -> %s", live, doc.ID, got.VectorRef)
	}

	hits, err := env.index.Query(ctx, noteText, 20, vectorstore.Filter{DocumentID: doc.ID})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	var stale, current int
	for _, hit := range hits {
		if hit.Generation == live[doc.ID] {
			current++
		} else {
			stale++
		}
	}
	if stale == 0 || current == 0 {
		t.Errorf("hits = %d stale, %d current; want both sets present and told apart by generation", stale, current)
	}
}

func TestPipeline_DeletedDuringIngest(t *testing.T) {
	env := newTestEnv(t, testOptions{
		inject: func(m *vectorstore_mocks.MockVectorStore, env *testEnv) {
			m.EXPECT().Count(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(ctx context.Context, collection string, filter vectorstore.Filter) (int, error) {
					if err := env.docs.Delete(ctx, filter.DocumentID); err != nil {
						return 0, err
					}
					return env.mem.Count(ctx, collection, filter)
				}).Times(1)
		},
	})
	ctx := context.Background()

	doc := env.placeholder(t, "alice", "note.txt", "text/plain", len(noteText))
	_, err := env.pipeline.Ingest(ctx, IngestRequest{DocumentID: doc.ID, Data: []byte(noteText)})
	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("Ingest() error = %v, want ErrNotFound", err)
	}
	if n := env.pointCount(t, doc.ID); n != 0 {
		t.Errorf("indexed chunks = %d, want the new chunks removed", n)
	}
}

func TestPipeline_UpdateMetadataOnly(t *testing.T) {
	env := newTestEnv(t, testOptions{windows: smallWindows})
	ctx := context.Background()

	doc := env.ingestText(t, "alice", longText(20, "eta"))
	before := env.pointCount(t, doc.ID)

	title := "Renamed"
	got, err := env.pipeline.Update(ctx, UpdateRequest{DocumentID: doc.ID, Title: &title, Tags: []string{" work ", "work", "q3"}})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Title != "Renamed" || len(got.Tags) != 2 {
		t.Errorf("Update() = title %q, tags %v", got.Title, got.Tags)
	}
	if got.VectorRef != doc.VectorRef || got.Status != document.StatusCompleted {
		t.Error("metadata-only update must not regenerate chunks")
	}
	if n := env.pointCount(t, doc.ID); n != before {
		t.Errorf("indexed chunks = %d, want %d", n, before)
	}

	hits, err := env.index.Query(ctx, "eta1", before, vectorstore.Filter{DocumentID: doc.ID})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	for _, hit := range hits {
		if hit.Title != "Renamed" {
			t.Errorf("chunk %d title = %q, want Renamed", hit.ChunkIndex, hit.Title)
		}
	}

	empty := " "
	if _, err := env.pipeline.Update(ctx, UpdateRequest{DocumentID: doc.ID, Title: &empty}); !errors.Is(err, document.ErrInvalidInput) {
		t.Errorf("Update() error = %v, want ErrInvalidInput", err)
	}
}

func TestPipeline_Reindex(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	ctx := context.Background()

	t.Run("from stored file", func(t *testing.T) {
		url, err := env.blobs.Store(ctx, []byte(noteText), "alice", "staged.txt")
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		doc, err := env.pipeline.CreatePlaceholder(ctx, PlaceholderRequest{
			OwnerID: "alice", ContentType: "text/plain", Size: int64(len(noteText)), Filename: "staged.txt", FileURL: url,
		})
		if err != nil {
			t.Fatalf("CreatePlaceholder() error = %v", err)
		}

		got, err := env.pipeline.Reindex(ctx, doc.ID)
		if err != nil {
			t.Fatalf("Reindex() error = %v", err)
		}
		if got.Status != document.StatusCompleted || got.Text() != noteText || got.FileURL != url {
			t.Errorf("Reindex() = %+v", got)
		}
	})

	t.Run("nothing to reindex", func(t *testing.T) {
		doc := env.placeholder(t, "alice", "empty.txt", "text/plain", 10)
		if _, err := env.pipeline.Reindex(ctx, doc.ID); !errors.Is(err, document.ErrInvalidInput) {
			t.Errorf("Reindex() error = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("unknown document", func(t *testing.T) {
		if _, err := env.pipeline.Reindex(ctx, "missing"); !errors.Is(err, document.ErrNotFound) {
			t.Errorf("Reindex() error = %v, want ErrNotFound", err)
		}
	})
}

func TestPipeline_HandleJob(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	ctx := context.Background()

	stage := func(t *testing.T) (*document.Document, worker.Job) {
		t.Helper()
		url, err := env.blobs.Store(ctx, []byte(noteText), "bob", "big.txt")
		if err != nil {
			t.Fatalf("Store() error = %v", err)
		}
		doc, err := env.pipeline.CreatePlaceholder(ctx, PlaceholderRequest{
			OwnerID: "bob", ContentType: "text/plain", Size: int64(len(noteText)), Filename: "big.txt", FileURL: url,
		})
		if err != nil {
			t.Fatalf("CreatePlaceholder() error = %v", err)
		}
		return doc, worker.Job{ID: "job-" + doc.ID, DocumentID: doc.ID, FileURL: url, Filename: "big.txt", ContentType: "text/plain", Attempts: 1}
	}

	t.Run("ingests staged file", func(t *testing.T) {
		doc, job := stage(t)
		if err := env.pipeline.HandleJob(ctx, job); err != nil {
			t.Fatalf("HandleJob() error = %v", err)
		}
		status, _, err := env.pipeline.GetStatus(ctx, doc.ID)
		if err != nil || status != document.StatusCompleted {
			t.Errorf("GetStatus() = %v, %v, want completed", status, err)
		}

		// Redelivery of the same job leaves one chunk set.
		if err := env.pipeline.HandleJob(ctx, job); err != nil {
			t.Fatalf("HandleJob() redelivery error = %v", err)
		}
		if n := env.pointCount(t, doc.ID); n != 1 {
			t.Errorf("indexed chunks = %d, want 1", n)
		}
	})

	t.Run("document deleted before the job ran", func(t *testing.T) {
		doc, job := stage(t)
		if err := env.docs.Delete(ctx, doc.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := env.pipeline.HandleJob(ctx, job); err != nil {
			t.Errorf("HandleJob() error = %v, want nil", err)
		}
		if _, err := env.blobs.Fetch(ctx, job.FileURL); !errors.Is(err, blob.ErrNotFound) {
			t.Errorf("Fetch() error = %v, staged file should be removed", err)
		}
	})
}

func TestPipeline_FailJob(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	ctx := context.Background()

	doc := env.placeholder(t, "alice", "a.txt", "text/plain", 10)
	if err := env.docs.SetStatus(ctx, doc.ID, document.StatusProcessing, msgExtracting); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}

	env.pipeline.FailJob(ctx, worker.Job{DocumentID: doc.ID}, "ingestion abandoned after 3 attempts")

	status, message, err := env.pipeline.GetStatus(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status != document.StatusError || message != "ingestion abandoned after 3 attempts" {
		t.Errorf("GetStatus() = %v %q", status, message)
	}

	// Settled and missing documents are ignored.
	env.pipeline.FailJob(ctx, worker.Job{DocumentID: doc.ID}, "again")
	env.pipeline.FailJob(ctx, worker.Job{DocumentID: "missing"}, "gone")
}

func TestPipeline_CompletedImpliesChunks(t *testing.T) {
	env := newTestEnv(t, testOptions{windows: smallWindows})
	ctx := context.Background()

	texts := []string{noteText, longText(10, "theta"), longText(60, "iota")}
	for _, text := range texts {
		env.ingestText(t, "carol", text)
	}

	docs, err := env.pipeline.List(ctx, "carol")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != len(texts) {
		t.Fatalf("List() = %d documents, want %d", len(docs), len(texts))
	}
	for _, doc := range docs {
		if doc.Status == document.StatusCompleted && env.pointCount(t, doc.ID) < 1 {
			t.Errorf("completed document %s has no chunks", doc.ID)
		}
	}
}
