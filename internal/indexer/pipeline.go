package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"docrag/internal/blob"
	"docrag/internal/chunker"
	"docrag/internal/contextutil"
	"docrag/internal/document"
	"docrag/internal/extract"
	"docrag/internal/storage"
	"docrag/internal/vectorindex"
	"docrag/internal/vectorstore"
	"docrag/internal/worker"
)

const (
	serviceBlobStore = "blob store"

	msgExtracting  = "extracting"
	msgVectorizing = "vectorizing"
	msgNoChunks    = "no chunks were confirmed in the vector index"
	msgStale       = "stale chunks could not be removed"
	msgPayload     = "chunk metadata could not be refreshed"
)

// Pipeline turns uploaded bytes into an indexed document and keeps the
// metadata row and the vector index consistent when either side fails.
// New chunk sets are always written before the row points at them, and the
// previous set is removed only after the swap.
type Pipeline struct {
	docs       storage.DocumentStore
	chunks     storage.ChunkStore
	index      *vectorindex.Index
	blobs      blob.Store
	extractor  *extract.Extractor
	chunker    *chunker.Chunker
	thresholds Thresholds
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithChunker replaces the default chunker.
func WithChunker(c *chunker.Chunker) Option {
	return func(p *Pipeline) { p.chunker = c }
}

// WithExtractor replaces the default extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// WithThresholds replaces the default sync/async routing limits.
func WithThresholds(t Thresholds) Option {
	return func(p *Pipeline) { p.thresholds = t }
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	docs storage.DocumentStore,
	chunks storage.ChunkStore,
	index *vectorindex.Index,
	blobs blob.Store,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		docs:       docs,
		chunks:     chunks,
		index:      index,
		blobs:      blobs,
		extractor:  extract.New(),
		chunker:    chunker.NewDefault(),
		thresholds: DefaultThresholds,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DecideMode routes an upload by size and content type. It has no side effects.
func (p *Pipeline) DecideMode(size int64, contentType string) (Mode, error) {
	return p.thresholds.Decide(size, contentType)
}

// CreatePlaceholder stores a pending document with no text.
func (p *Pipeline) CreatePlaceholder(ctx context.Context, req PlaceholderRequest) (*document.Document, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, document.NewValidationError("owner_id", "owner is required")
	}
	if !document.Supported(req.ContentType) {
		return nil, document.NewValidationError("content_type", "unsupported content type")
	}

	doc := &document.Document{
		ID:               uuid.New().String(),
		Title:            defaultTitle(req.Title, req.Filename),
		OwnerID:          req.OwnerID,
		ContentType:      document.MediaType(req.ContentType),
		FileURL:          req.FileURL,
		FileSize:         req.Size,
		OriginalFilename: req.Filename,
		Status:           document.StatusPending,
		Tags:             normalizeTags(req.Tags),
	}
	if err := p.docs.Create(ctx, doc); err != nil {
		return nil, document.NewDatabaseError("create document", err)
	}

	logger.InfoContext(ctx, "created placeholder", "document_id", doc.ID, "content_type", doc.ContentType, "size", doc.FileSize)
	return doc, nil
}

// Ingest extracts, chunks and indexes the bytes of a placeholder document.
// Failures end in status error; a failed first write of the chunk set also
// removes the row and the stored bytes.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (*document.Document, error) {
	doc, err := p.get(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	return p.ingest(ctx, doc, req, doc.Content == nil && !doc.Indexed())
}

func (p *Pipeline) ingest(ctx context.Context, doc *document.Document, req IngestRequest, first bool) (*document.Document, error) {
	logger := contextutil.LoggerFromContext(ctx).With("document_id", doc.ID)

	contentType := req.ContentType
	if contentType == "" {
		contentType = doc.ContentType
	}

	if err := p.setStatus(ctx, doc.ID, document.StatusProcessing, msgExtracting); err != nil {
		return nil, err
	}

	text, err := p.extractor.Extract(req.Data, contentType)
	if err != nil {
		logger.WarnContext(ctx, "extraction failed", "error", err)
		p.markError(ctx, doc.ID, document.Message(err))
		return nil, err
	}

	fileURL := req.FileURL
	storedBlob := false
	if fileURL == "" {
		filename := req.Filename
		if filename == "" {
			filename = doc.OriginalFilename
		}
		fileURL, err = p.blobs.Store(ctx, req.Data, doc.OwnerID, filename)
		if err != nil {
			logger.ErrorContext(ctx, "failed to store file", "error", err)
			p.markError(ctx, doc.ID, "file could not be stored")
			return nil, document.NewExternalServiceError(serviceBlobStore, err)
		}
		storedBlob = true
	}

	return p.commit(ctx, doc, text, fileURL, first, storedBlob)
}

// commit writes text as a new chunk set generation and makes it live.
func (p *Pipeline) commit(ctx context.Context, doc *document.Document, text, fileURL string, first, storedBlob bool) (*document.Document, error) {
	logger := contextutil.LoggerFromContext(ctx).With("document_id", doc.ID)

	if err := p.setStatus(ctx, doc.ID, document.StatusProcessing, msgVectorizing); err != nil {
		if storedBlob {
			p.deleteBlob(ctx, fileURL)
		}
		return nil, err
	}

	oldIDs, err := p.chunks.ListIDsByDocument(ctx, doc.ID)
	if err != nil {
		p.markError(ctx, doc.ID, "chunk ledger could not be read")
		return nil, document.NewDatabaseError("list chunks", err)
	}

	generation := generationFor(ChunkerVersion, doc.ID, text, p.chunker.ParamsFor(doc.ContentType))
	// The live set has identical chunks when the generation is unchanged.
	live := generation == doc.VectorRef
	pieces := p.chunker.Split(text, doc.ContentType)
	chunks := make([]vectorindex.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = vectorindex.Chunk{
			DocumentID:  doc.ID,
			OwnerID:     doc.OwnerID,
			Title:       doc.Title,
			ContentType: doc.ContentType,
			Generation:  generation,
			Index:       piece.Index,
			Text:        piece.Text,
			Tags:        doc.Tags,
		}
	}

	ids, err := p.index.Add(ctx, chunks)
	if err != nil {
		logger.ErrorContext(ctx, "failed to write chunks", "error", err, "generation", generation)
		if !live {
			p.discardGeneration(ctx, doc.ID, generation)
		}
		if first {
			p.compensate(ctx, doc.ID, fileURL)
		} else {
			if storedBlob {
				p.deleteBlob(ctx, fileURL)
			}
			p.markError(ctx, doc.ID, document.Message(err))
		}
		return nil, err
	}

	status, message, vectorRef := document.StatusCompleted, "", generation
	count, err := p.index.Count(ctx, vectorstore.Filter{DocumentID: doc.ID, Generation: generation})
	switch {
	case err != nil:
		logger.WarnContext(ctx, "failed to confirm chunk count", "error", err)
		status, message, vectorRef = document.StatusWarning, msgNoChunks, ""
	case count == 0:
		logger.WarnContext(ctx, "no chunks found after write", "expected", len(chunks))
		status, message, vectorRef = document.StatusWarning, msgNoChunks, ""
	}

	records := make([]storage.ChunkRecord, len(ids))
	for i, id := range ids {
		records[i] = storage.ChunkRecord{ID: id, DocumentID: doc.ID, Generation: generation, ChunkIndex: i}
	}

	err = p.docs.SaveIndexed(ctx, doc.ID, storage.IndexedUpdate{
		Content:   text,
		FileURL:   fileURL,
		VectorRef: vectorRef,
		Status:    status,
		Message:   message,
		Chunks:    records,
	})
	if err != nil {
		if !live || errors.Is(err, storage.ErrNotFound) {
			p.discardGeneration(ctx, doc.ID, generation)
		}
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted while ingesting.
			logger.InfoContext(ctx, "document deleted during ingestion, discarding chunks")
			if storedBlob {
				p.deleteBlob(ctx, fileURL)
			}
			return nil, document.NewNotFoundError("document", doc.ID)
		}
		logger.ErrorContext(ctx, "failed to save indexed document", "error", err)
		p.markError(ctx, doc.ID, "metadata could not be saved")
		return nil, document.NewDatabaseError("save indexed document", err)
	}

	if stale := staleIDs(oldIDs, ids); len(stale) > 0 {
		if err := p.index.Delete(ctx, stale); err != nil {
			logger.WarnContext(ctx, "failed to delete previous chunks", "error", err, "count", len(stale))
			if status == document.StatusCompleted {
				if err := p.docs.SetStatus(ctx, doc.ID, document.StatusWarning, msgStale); err != nil {
					logger.WarnContext(ctx, "failed to record stale chunks", "error", err)
				}
			}
		}
	}

	logger.InfoContext(ctx, "indexed document", "chunks", len(ids), "generation", generation, "status", status)
	return p.get(ctx, doc.ID)
}

// Update changes title, tags and/or content. New content replaces the chunk
// set; a metadata-only change rewrites the payload of the existing points.
func (p *Pipeline) Update(ctx context.Context, req UpdateRequest) (*document.Document, error) {
	logger := contextutil.LoggerFromContext(ctx).With("document_id", req.DocumentID)

	doc, err := p.get(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return nil, document.NewValidationError("title", "title must not be empty")
	}
	if req.Content != nil && strings.TrimSpace(*req.Content) == "" {
		return nil, document.NewValidationError("content", "content must not be empty")
	}

	metadataChanged := req.Title != nil || req.Tags != nil
	if metadataChanged {
		update := storage.MetadataUpdate{Title: req.Title}
		if req.Tags != nil {
			update.Tags = normalizeTags(req.Tags)
			if update.Tags == nil {
				update.Tags = []string{}
			}
		}
		if err := p.docs.UpdateMetadata(ctx, doc.ID, update); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, document.NewNotFoundError("document", doc.ID)
			}
			return nil, document.NewDatabaseError("update document", err)
		}
		if doc, err = p.get(ctx, doc.ID); err != nil {
			return nil, err
		}
	}

	if req.Content != nil {
		return p.commit(ctx, doc, *req.Content, doc.FileURL, false, false)
	}

	if metadataChanged && doc.Indexed() {
		if err := p.index.SetMetadata(ctx, doc.ID, doc.Title, doc.Tags); err != nil {
			logger.WarnContext(ctx, "failed to refresh chunk metadata", "error", err)
			if err := p.docs.SetStatus(ctx, doc.ID, document.StatusWarning, msgPayload); err != nil {
				logger.WarnContext(ctx, "failed to record payload warning", "error", err)
			}
			return nil, err
		}
	}

	logger.InfoContext(ctx, "updated document metadata")
	return doc, nil
}

// Delete removes every chunk of the document, then the row, then the stored
// bytes. The row survives when the vector index cannot be cleaned.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	logger := contextutil.LoggerFromContext(ctx).With("document_id", id)

	doc, err := p.get(ctx, id)
	if err != nil {
		return err
	}

	if err := p.index.DeleteDocument(ctx, id); err != nil {
		logger.ErrorContext(ctx, "failed to delete chunks", "error", err)
		return err
	}

	if err := p.docs.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return document.NewNotFoundError("document", id)
		}
		return document.NewDatabaseError("delete document", err)
	}

	if doc.FileURL != "" {
		p.deleteBlob(ctx, doc.FileURL)
	}

	logger.InfoContext(ctx, "deleted document")
	return nil
}

// Reindex rebuilds the chunk set from the cached text, or from the stored
// file when no text was ever extracted. It is allowed from any status.
func (p *Pipeline) Reindex(ctx context.Context, id string) (*document.Document, error) {
	doc, err := p.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if doc.Content != nil {
		return p.commit(ctx, doc, *doc.Content, doc.FileURL, false, false)
	}

	if doc.FileURL == "" {
		return nil, document.NewValidationError("document", "document has neither extracted text nor a stored file")
	}

	data, err := p.blobs.Fetch(ctx, doc.FileURL)
	if err != nil {
		p.markError(ctx, id, "stored file could not be read")
		return nil, document.NewExternalServiceError(serviceBlobStore, err)
	}

	return p.ingest(ctx, doc, IngestRequest{
		DocumentID: id,
		Data:       data,
		Filename:   doc.OriginalFilename,
		FileURL:    doc.FileURL,
	}, false)
}

// Get returns a document by id.
func (p *Pipeline) Get(ctx context.Context, id string) (*document.Document, error) {
	return p.get(ctx, id)
}

// GetStatus returns the lifecycle status and its message.
func (p *Pipeline) GetStatus(ctx context.Context, id string) (document.Status, string, error) {
	doc, err := p.get(ctx, id)
	if err != nil {
		return 0, "", err
	}
	return doc.Status, doc.StatusMessage, nil
}

// LiveGenerations maps each indexed document to the generation its
// vector_ref points at. Missing and unindexed documents are left out.
func (p *Pipeline) LiveGenerations(ctx context.Context, ids []string) (map[string]string, error) {
	live := make(map[string]string, len(ids))
	for _, id := range ids {
		doc, err := p.docs.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, document.NewDatabaseError("get document", err)
		}
		if doc.Indexed() {
			live[id] = doc.VectorRef
		}
	}
	return live, nil
}

// List returns the documents of an owner, newest first.
func (p *Pipeline) List(ctx context.Context, ownerID string) ([]*document.Document, error) {
	docs, err := p.docs.List(ctx, ownerID)
	if err != nil {
		return nil, document.NewDatabaseError("list documents", err)
	}
	return docs, nil
}

// HandleJob ingests the staged bytes of a background job.
// A document deleted before the job ran is not an error.
func (p *Pipeline) HandleJob(ctx context.Context, job worker.Job) error {
	logger := contextutil.LoggerFromContext(ctx)

	doc, err := p.get(ctx, job.DocumentID)
	if errors.Is(err, document.ErrNotFound) {
		logger.InfoContext(ctx, "document deleted before ingestion", "document_id", job.DocumentID)
		p.deleteBlob(ctx, job.FileURL)
		return nil
	}
	if err != nil {
		return err
	}

	// Leave pending first so a failure below can settle in error.
	if err := p.setStatus(ctx, doc.ID, document.StatusProcessing, msgExtracting); err != nil {
		if errors.Is(err, document.ErrNotFound) {
			return nil
		}
		return err
	}

	data, err := p.blobs.Fetch(ctx, job.FileURL)
	if err != nil {
		p.markError(ctx, doc.ID, "stored file could not be read")
		return document.NewExternalServiceError(serviceBlobStore, err)
	}

	_, err = p.ingest(ctx, doc, IngestRequest{
		DocumentID:  job.DocumentID,
		Data:        data,
		Filename:    job.Filename,
		ContentType: job.ContentType,
		FileURL:     job.FileURL,
	}, doc.Content == nil && !doc.Indexed())
	if errors.Is(err, document.ErrNotFound) {
		return nil
	}
	return err
}

// FailJob records an abandoned background job on its document.
func (p *Pipeline) FailJob(ctx context.Context, job worker.Job, reason string) {
	logger := contextutil.LoggerFromContext(ctx)

	err := p.docs.SetStatus(ctx, job.DocumentID, document.StatusError, reason)
	var transitionErr *document.TransitionError
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		logger.DebugContext(ctx, "abandoned job for missing document", "document_id", job.DocumentID)
	case errors.As(err, &transitionErr):
		// Already in a terminal state set by the failed ingest.
		logger.DebugContext(ctx, "document already settled", "document_id", job.DocumentID, "status", transitionErr.From)
	default:
		logger.ErrorContext(ctx, "failed to record job failure", "document_id", job.DocumentID, "error", err)
	}
}

func (p *Pipeline) get(ctx context.Context, id string) (*document.Document, error) {
	doc, err := p.docs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, document.NewNotFoundError("document", id)
		}
		return nil, document.NewDatabaseError("get document", err)
	}
	return doc, nil
}

func (p *Pipeline) setStatus(ctx context.Context, id string, status document.Status, message string) error {
	if err := p.docs.SetStatus(ctx, id, status, message); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return document.NewNotFoundError("document", id)
		}
		return document.NewDatabaseError("set status", err)
	}
	return nil
}

func (p *Pipeline) markError(ctx context.Context, id, message string) {
	if err := p.docs.SetStatus(ctx, id, document.StatusError, message); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to mark document as failed",
			"document_id", id, "error", err)
	}
}

// discardGeneration removes the points of an unfinished chunk set.
func (p *Pipeline) discardGeneration(ctx context.Context, id, generation string) {
	if err := p.index.DeleteGeneration(ctx, id, generation); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to discard partial chunks",
			"document_id", id, "generation", generation, "error", err)
	}
}

// compensate undoes a first ingestion whose chunk write failed.
func (p *Pipeline) compensate(ctx context.Context, id, fileURL string) {
	logger := contextutil.LoggerFromContext(ctx)
	if err := p.docs.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.ErrorContext(ctx, "failed to remove document after failed ingestion", "document_id", id, "error", err)
		p.markError(ctx, id, "vector index unavailable")
		return
	}
	if fileURL != "" {
		p.deleteBlob(ctx, fileURL)
	}
}

func (p *Pipeline) deleteBlob(ctx context.Context, fileURL string) {
	if fileURL == "" {
		return
	}
	if err := p.blobs.Delete(ctx, fileURL); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to delete stored file", "file_url", fileURL, "error", err)
	}
}

// generationFor derives the chunk set generation from everything that shapes
// the chunks, so a redelivered ingest overwrites its own points.
func generationFor(chunkerVersion, documentID, text string, params chunker.Params) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d\x00", chunkerVersion, documentID, params.Size, params.Overlap)
	_, _ = h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil)[:12])
}

// staleIDs returns the ids of previous that are not part of current.
func staleIDs(previous, current []string) []string {
	keep := make(map[string]bool, len(current))
	for _, id := range current {
		keep[id] = true
	}
	var stale []string
	for _, id := range previous {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	return stale
}

func defaultTitle(title, filename string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	base := filepath.Base(filename)
	if t := strings.TrimSuffix(base, filepath.Ext(base)); t != "" && t != "." {
		return t
	}
	return "Untitled"
}

// normalizeTags trims tags and drops empty and repeated ones.
func normalizeTags(tags []string) []string {
	var out []string
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
