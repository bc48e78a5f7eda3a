package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_service.go -package=mocks -mock_names=DocumentService=MockDocumentService docrag/internal/service DocumentService

import (
	"context"
	"errors"
	"strings"

	"docrag/internal/access"
	"docrag/internal/blob"
	"docrag/internal/contextutil"
	"docrag/internal/document"
	"docrag/internal/indexer"
	"docrag/internal/rag"
	"docrag/internal/worker"
)

const serviceQueue = "job queue"

// Ingestor is the part of the ingestion pipeline the service drives.
// This interface is defined from the service layer's perspective (consumer-first).
type Ingestor interface {
	DecideMode(size int64, contentType string) (indexer.Mode, error)
	CreatePlaceholder(ctx context.Context, req indexer.PlaceholderRequest) (*document.Document, error)
	Ingest(ctx context.Context, req indexer.IngestRequest) (*document.Document, error)
	Update(ctx context.Context, req indexer.UpdateRequest) (*document.Document, error)
	Delete(ctx context.Context, id string) error
	Reindex(ctx context.Context, id string) (*document.Document, error)
	Get(ctx context.Context, id string) (*document.Document, error)
	List(ctx context.Context, ownerID string) ([]*document.Document, error)
	Stats(ctx context.Context, ownerID, embeddingModel string) (*indexer.IndexingStats, error)
}

// Scheduler persists a background job and hands it to a worker.
type Scheduler interface {
	Schedule(ctx context.Context, job worker.Job) (worker.Job, error)
}

// UploadRequest represents an uploaded file in the domain layer.
type UploadRequest struct {
	Filename    string
	ContentType string
	Data        []byte
	Title       string
	Tags        []string
}

// UploadResult reports how an upload was accepted.
type UploadResult struct {
	Document *document.Document
	Mode     indexer.Mode
	// JobID is set for asynchronous uploads.
	JobID string
}

// StatusInfo is the lifecycle state of a document.
type StatusInfo struct {
	ID      string          `json:"id"`
	Status  document.Status `json:"status"`
	Message string          `json:"message,omitempty"`
}

// DocumentService is the entry point for every document operation. The
// caller's access.Identity must be in the context.
type DocumentService interface {
	// Upload creates a document and ingests it inline or on the worker pool.
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
	// Get returns a document the caller may access.
	Get(ctx context.Context, id string) (*document.Document, error)
	// List returns the caller's documents.
	List(ctx context.Context) ([]*document.Document, error)
	// Status returns the lifecycle status of a document.
	Status(ctx context.Context, id string) (StatusInfo, error)
	// Update changes title, tags and/or content.
	Update(ctx context.Context, req indexer.UpdateRequest) (*document.Document, error)
	// Delete removes a document, its chunks and its stored file.
	Delete(ctx context.Context, id string) error
	// Reindex rebuilds the chunk set of a document.
	Reindex(ctx context.Context, id string) (*document.Document, error)
	// Search returns ranked chunks without generating an answer.
	Search(ctx context.Context, req rag.SearchRequest) ([]rag.SearchResult, error)
	// Answer answers a question from the caller's documents.
	Answer(ctx context.Context, req rag.AnswerRequest) (rag.AnswerResponse, error)
	// Stats summarizes the caller's documents.
	Stats(ctx context.Context) (*indexer.IndexingStats, error)
}

// documentService implements DocumentService.
type documentService struct {
	ingestor       Ingestor
	scheduler      Scheduler
	blobs          blob.Store
	engine         rag.Engine
	checker        access.Checker
	embeddingModel string
}

// Config holds the collaborators of the document service.
type Config struct {
	Ingestor  Ingestor
	Scheduler Scheduler
	Blobs     blob.Store
	Engine    rag.Engine
	// Checker defaults to access.OwnerPolicy{}.
	Checker access.Checker
	// EmbeddingModel is reported in indexing stats.
	EmbeddingModel string
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(cfg Config) DocumentService {
	checker := cfg.Checker
	if checker == nil {
		checker = access.OwnerPolicy{}
	}
	return &documentService{
		ingestor:       cfg.Ingestor,
		scheduler:      cfg.Scheduler,
		blobs:          cfg.Blobs,
		engine:         cfg.Engine,
		checker:        checker,
		embeddingModel: cfg.EmbeddingModel,
	}
}

// Upload validates the file, creates the placeholder and ingests it. Small
// files are ingested before returning; large ones are staged in the blob
// store and handed to the worker pool.
func (s *documentService) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	id, err := identity(ctx)
	if err != nil {
		return UploadResult{}, err
	}

	contentType := document.MediaType(req.ContentType)
	mode, err := s.ingestor.DecideMode(int64(len(req.Data)), contentType)
	if err != nil {
		logger.WarnContext(ctx, "upload rejected", "filename", req.Filename, "size", len(req.Data), "error", err)
		return UploadResult{}, err
	}

	placeholder := indexer.PlaceholderRequest{
		OwnerID:     id.UserID,
		Title:       req.Title,
		ContentType: contentType,
		Size:        int64(len(req.Data)),
		Filename:    req.Filename,
		Tags:        req.Tags,
	}

	if mode == indexer.ModeSync {
		doc, err := s.ingestor.CreatePlaceholder(ctx, placeholder)
		if err != nil {
			return UploadResult{}, err
		}
		indexed, err := s.ingestor.Ingest(ctx, indexer.IngestRequest{
			DocumentID: doc.ID,
			Data:       req.Data,
			Filename:   req.Filename,
		})
		if err != nil {
			return UploadResult{}, err
		}
		logger.InfoContext(ctx, "document ingested", "document_id", indexed.ID, "status", indexed.Status)
		return UploadResult{Document: indexed, Mode: mode}, nil
	}

	fileURL, err := s.blobs.Store(ctx, req.Data, id.UserID, req.Filename)
	if err != nil {
		logger.ErrorContext(ctx, "failed to stage upload", "error", err)
		return UploadResult{}, document.NewExternalServiceError("blob store", err)
	}

	placeholder.FileURL = fileURL
	doc, err := s.ingestor.CreatePlaceholder(ctx, placeholder)
	if err != nil {
		s.discardBlob(ctx, fileURL)
		return UploadResult{}, err
	}

	job, err := s.scheduler.Schedule(ctx, worker.Job{
		DocumentID:  doc.ID,
		FileURL:     fileURL,
		Filename:    req.Filename,
		ContentType: contentType,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to schedule ingestion", "document_id", doc.ID, "error", err)
		if delErr := s.ingestor.Delete(ctx, doc.ID); delErr != nil {
			logger.ErrorContext(ctx, "failed to roll back placeholder", "document_id", doc.ID, "error", delErr)
		}
		return UploadResult{}, document.NewExternalServiceError(serviceQueue, err)
	}

	logger.InfoContext(ctx, "document queued for ingestion", "document_id", doc.ID, "job_id", job.ID, "size", len(req.Data))
	return UploadResult{Document: doc, Mode: mode, JobID: job.ID}, nil
}

// Get returns a document the caller may access.
func (s *documentService) Get(ctx context.Context, id string) (*document.Document, error) {
	return s.authorize(ctx, id)
}

// List returns the caller's documents, newest first.
func (s *documentService) List(ctx context.Context) ([]*document.Document, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	return s.ingestor.List(ctx, id.UserID)
}

// Status returns the lifecycle status of a document.
func (s *documentService) Status(ctx context.Context, id string) (StatusInfo, error) {
	doc, err := s.authorize(ctx, id)
	if err != nil {
		return StatusInfo{}, err
	}
	return StatusInfo{ID: doc.ID, Status: doc.Status, Message: doc.StatusMessage}, nil
}

// Update changes a document the caller may access.
func (s *documentService) Update(ctx context.Context, req indexer.UpdateRequest) (*document.Document, error) {
	if _, err := s.authorize(ctx, req.DocumentID); err != nil {
		return nil, err
	}
	return s.ingestor.Update(ctx, req)
}

// Delete removes a document the caller may access.
func (s *documentService) Delete(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx, id); err != nil {
		return err
	}
	return s.ingestor.Delete(ctx, id)
}

// Reindex rebuilds the chunk set of a document the caller may access.
func (s *documentService) Reindex(ctx context.Context, id string) (*document.Document, error) {
	if _, err := s.authorize(ctx, id); err != nil {
		return nil, err
	}
	return s.ingestor.Reindex(ctx, id)
}

// Search runs a retrieval-only query. Explicit document ids are checked
// against the access gate first.
func (s *documentService) Search(ctx context.Context, req rag.SearchRequest) ([]rag.SearchResult, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeAll(ctx, req.DocumentIDs); err != nil {
		return nil, err
	}
	req.RequesterID = id.UserID
	return s.engine.Search(ctx, req)
}

// Answer answers a question from the caller's documents or from the listed ones.
func (s *documentService) Answer(ctx context.Context, req rag.AnswerRequest) (rag.AnswerResponse, error) {
	id, err := identity(ctx)
	if err != nil {
		return rag.AnswerResponse{}, err
	}
	if err := s.authorizeAll(ctx, req.DocumentIDs); err != nil {
		return rag.AnswerResponse{}, err
	}
	req.RequesterID = id.UserID
	return s.engine.Answer(ctx, req)
}

// Stats summarizes the caller's documents.
func (s *documentService) Stats(ctx context.Context) (*indexer.IndexingStats, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	return s.ingestor.Stats(ctx, id.UserID, s.embeddingModel)
}

// authorize loads a document and applies the access gate.
func (s *documentService) authorize(ctx context.Context, documentID string) (*document.Document, error) {
	id, err := identity(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(documentID) == "" {
		return nil, document.NewValidationError("id", "document id is required")
	}

	doc, err := s.ingestor.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := access.Require(ctx, s.checker, id, doc); err != nil {
		var forbidden *document.ForbiddenError
		if errors.As(err, &forbidden) {
			contextutil.LoggerFromContext(ctx).WarnContext(ctx, "access denied",
				"document_id", documentID, "user_id", id.UserID)
		}
		return nil, err
	}
	return doc, nil
}

func (s *documentService) authorizeAll(ctx context.Context, documentIDs []string) error {
	for _, documentID := range documentIDs {
		if strings.TrimSpace(documentID) == "" {
			continue
		}
		if _, err := s.authorize(ctx, documentID); err != nil {
			return err
		}
	}
	return nil
}

func (s *documentService) discardBlob(ctx context.Context, fileURL string) {
	if err := s.blobs.Delete(ctx, fileURL); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to delete staged file", "file_url", fileURL, "error", err)
	}
}

func identity(ctx context.Context) (access.Identity, error) {
	id, ok := access.IdentityFromContext(ctx)
	if !ok {
		return access.Identity{}, document.NewForbiddenError("caller", "anonymous")
	}
	return id, nil
}
