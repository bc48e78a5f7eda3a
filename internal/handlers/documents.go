package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"docrag/internal/contextutil"
	"docrag/internal/document"
	"docrag/internal/indexer"
	"docrag/internal/service"
)

const (
	// multipartMemory is the part of a multipart body kept in memory; the rest spills to disk.
	multipartMemory = 32 << 20
	// multipartOverhead allows for form fields and boundaries on top of the file itself.
	multipartOverhead = 1 << 20
)

// DocumentHandler handles HTTP requests for documents.
type DocumentHandler struct {
	documents      service.DocumentService
	maxUploadBytes int64
}

// NewDocumentHandler creates a new DocumentHandler. maxUploadBytes bounds
// the request body of uploads.
func NewDocumentHandler(documents service.DocumentService, maxUploadBytes int64) *DocumentHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = indexer.DefaultThresholds.Max
	}
	return &DocumentHandler{
		documents:      documents,
		maxUploadBytes: maxUploadBytes,
	}
}

// DocumentResponse represents a document in HTTP responses.
//
// swagger:model DocumentResponse
type DocumentResponse struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	OwnerID          string   `json:"owner_id"`
	ContentType      string   `json:"content_type"`
	Status           string   `json:"status"`
	StatusMessage    string   `json:"status_message,omitempty"`
	FileURL          string   `json:"file_url,omitempty"`
	FileSize         int64    `json:"file_size"`
	OriginalFilename string   `json:"original_filename,omitempty"`
	Tags             []string `json:"tags"`
	// Content is the extracted text; only included for single-document reads.
	Content   *string `json:"content,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// UploadResponse represents the result of an upload.
//
// swagger:model UploadResponse
type UploadResponse struct {
	Document DocumentResponse `json:"document"`
	// Mode is "sync" when the document was ingested before responding, "async" otherwise.
	Mode  string `json:"mode"`
	JobID string `json:"job_id,omitempty"`
}

// ListResponse represents a list of documents.
//
// swagger:model ListResponse
type ListResponse struct {
	Documents []DocumentResponse `json:"documents"`
}

// StatusResponse represents the lifecycle status of a document.
//
// swagger:model StatusResponse
type StatusResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// UpdateRequest represents the HTTP request payload for document updates.
// Omitted fields are left unchanged.
//
// swagger:model UpdateRequest
type UpdateRequest struct {
	Title   *string   `json:"title,omitempty"`
	Tags    *[]string `json:"tags,omitempty"`
	Content *string   `json:"content,omitempty"`
}

// Upload handles POST /api/documents.
//
// The multipart form carries the file in "file" and optional "title" and
// comma-separated "tags" fields. Returns 201 when the document was ingested
// synchronously and 202 when ingestion continues in the background.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WarnContext(ctx, "upload too large", "limit", tooLarge.Limit)
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		logger.WarnContext(ctx, "invalid multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "File is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		logger.ErrorContext(ctx, "failed to read upload", "error", err)
		writeError(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	result, err := h.documents.Upload(ctx, service.UploadRequest{
		Filename:    header.Filename,
		ContentType: detectContentType(header.Header.Get("Content-Type"), header.Filename, data),
		Data:        data,
		Title:       r.FormValue("title"),
		Tags:        splitTags(r.FormValue("tags")),
	})
	if err != nil {
		writeServiceError(ctx, w, err, "Failed to upload document")
		return
	}

	status := http.StatusCreated
	if result.Mode == indexer.ModeAsync {
		status = http.StatusAccepted
	}
	writeJSON(ctx, w, status, UploadResponse{
		Document: toDocumentResponse(result.Document, false),
		Mode:     result.Mode.String(),
		JobID:    result.JobID,
	})
}

// List handles GET /api/documents.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docs, err := h.documents.List(ctx)
	if err != nil {
		writeServiceError(ctx, w, err, "Failed to list documents")
		return
	}

	resp := ListResponse{Documents: make([]DocumentResponse, len(docs))}
	for i, doc := range docs {
		resp.Documents[i] = toDocumentResponse(doc, false)
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

// Get handles GET /api/documents/{id}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	doc, err := h.documents.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(ctx, w, err, "Failed to get document")
		return
	}
	writeJSON(ctx, w, http.StatusOK, toDocumentResponse(doc, true))
}

// Status handles GET /api/documents/{id}/status.
func (h *DocumentHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	info, err := h.documents.Status(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(ctx, w, err, "Failed to get document status")
		return
	}
	writeJSON(ctx, w, http.StatusOK, StatusResponse{
		ID:      info.ID,
		Status:  info.Status.String(),
		Message: info.Message,
	})
}

// Update handles PATCH /api/documents/{id}.
func (h *DocumentHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Title == nil && req.Tags == nil && req.Content == nil {
		writeError(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	update := indexer.UpdateRequest{
		DocumentID: chi.URLParam(r, "id"),
		Title:      req.Title,
		Content:    req.Content,
	}
	if req.Tags != nil {
		update.Tags = *req.Tags
		if update.Tags == nil {
			update.Tags = []string{}
		}
	}

	doc, err := h.documents.Update(ctx, update)
	if err != nil {
		writeServiceError(ctx, w, err, "Failed to update document")
		return
	}
	writeJSON(ctx, w, http.StatusOK, toDocumentResponse(doc, true))
}

// Delete handles DELETE /api/documents/{id}.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.documents.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		writeServiceError(ctx, w, err, "Failed to delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reindex handles POST /api/documents/{id}/reindex.
func (h *DocumentHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	doc, err := h.documents.Reindex(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(ctx, w, err, "Failed to reindex document")
		return
	}
	writeJSON(ctx, w, http.StatusOK, toDocumentResponse(doc, false))
}

// Stats handles GET /api/stats.
func (h *DocumentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.documents.Stats(ctx)
	if err != nil {
		writeServiceError(ctx, w, err, "Failed to compute stats")
		return
	}
	writeJSON(ctx, w, http.StatusOK, stats)
}

func toDocumentResponse(doc *document.Document, withContent bool) DocumentResponse {
	resp := DocumentResponse{
		ID:               doc.ID,
		Title:            doc.Title,
		OwnerID:          doc.OwnerID,
		ContentType:      doc.ContentType,
		Status:           doc.Status.String(),
		StatusMessage:    doc.StatusMessage,
		FileURL:          doc.FileURL,
		FileSize:         doc.FileSize,
		OriginalFilename: doc.OriginalFilename,
		Tags:             doc.Tags,
		CreatedAt:        doc.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        doc.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	if withContent {
		resp.Content = doc.Content
	}
	return resp
}

// detectContentType prefers the declared part type, then the file
// extension, then content sniffing.
func detectContentType(declared, filename string, data []byte) string {
	if declared != "" && document.MediaType(declared) != "application/octet-stream" {
		return declared
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return "text/markdown"
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
