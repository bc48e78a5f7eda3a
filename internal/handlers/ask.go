package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"docrag/internal/contextutil"
	"docrag/internal/rag"
	"docrag/internal/service"
)

// AskHandler handles HTTP requests for RAG queries and plain retrieval.
type AskHandler struct {
	documents service.DocumentService
}

// NewAskHandler creates a new AskHandler.
func NewAskHandler(documents service.DocumentService) *AskHandler {
	return &AskHandler{documents: documents}
}

// AskRequest represents the HTTP request payload for RAG queries.
// This mirrors the rag.AnswerRequest but is defined here for HTTP layer separation.
//
// swagger:model AskRequest
type AskRequest struct {
	Query string `json:"query"`
	// DocumentIDs restricts retrieval to these documents instead of all of the caller's.
	DocumentIDs []string `json:"document_ids,omitempty"`
	// N is the number of chunks to retrieve (1-20, default 5).
	N int `json:"n,omitempty"`
}

// AskResponse represents the HTTP response payload for RAG queries.
//
// swagger:model AskResponse
type AskResponse struct {
	// The generated answer
	Answer string `json:"answer"`

	// Context is the retrieved text the answer was generated from
	Context string `json:"context"`

	// Documents that contributed context, in rank order
	DocumentsUsed []DocumentRefResponse `json:"documents_used"`
}

// DocumentRefResponse names a document in the HTTP response.
//
// swagger:model DocumentRefResponse
type DocumentRefResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SearchResponse represents the HTTP response payload for searches.
//
// swagger:model SearchResponse
type SearchResponse struct {
	Results []SearchResultResponse `json:"results"`
}

// SearchResultResponse is one ranked chunk.
//
// swagger:model SearchResultResponse
type SearchResultResponse struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// Ask handles POST /api/ask.
//
// Answers a question from the caller's documents. When nothing relevant is
// indexed the fixed fallback answer is returned with an empty document list.
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	resp, err := h.documents.Answer(ctx, rag.AnswerRequest{
		Query:       req.Query,
		DocumentIDs: req.DocumentIDs,
		N:           req.N,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "Failed to process RAG query")
		return
	}

	used := make([]DocumentRefResponse, len(resp.DocumentsUsed))
	for i, ref := range resp.DocumentsUsed {
		used[i] = DocumentRefResponse{ID: ref.ID, Title: ref.Title}
	}
	writeJSON(ctx, w, http.StatusOK, AskResponse{
		Answer:        resp.Answer,
		Context:       resp.Context,
		DocumentsUsed: used,
	})
}

// Search handles POST /api/search. It takes the same payload as Ask and
// returns the ranked chunks without generating an answer.
func (h *AskHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	results, err := h.documents.Search(ctx, rag.SearchRequest{
		Query:       req.Query,
		DocumentIDs: req.DocumentIDs,
		N:           req.N,
	})
	if err != nil {
		writeServiceError(ctx, w, err, "Failed to search documents")
		return
	}

	resp := SearchResponse{Results: make([]SearchResultResponse, len(results))}
	for i, result := range results {
		resp.Results[i] = SearchResultResponse(result)
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (AskRequest, bool) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}

	if strings.TrimSpace(req.Query) == "" {
		logger.WarnContext(ctx, "empty query in request")
		writeError(w, http.StatusBadRequest, "Query is required")
		return req, false
	}
	if req.N < 0 || req.N > rag.MaxN {
		writeError(w, http.StatusBadRequest, "n must be between 1 and 20")
		return req, false
	}
	return req, true
}
