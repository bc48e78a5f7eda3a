package rag

// AnswerRequest represents a retrieval-augmented question.
type AnswerRequest struct {
	// Query is the user's question.
	Query string `json:"query"`
	// RequesterID scopes retrieval to the requester's documents when
	// DocumentIDs is empty.
	RequesterID string `json:"-"`
	// DocumentIDs restricts retrieval to these documents. It takes precedence
	// over the requester scope.
	DocumentIDs []string `json:"document_ids,omitempty"`
	// N is the number of chunks to retrieve, 1 to 20. Zero means 5.
	N int `json:"n,omitempty"`
}

// DocumentRef names a document that contributed context to an answer.
type DocumentRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// AnswerResponse represents the response to an AnswerRequest.
type AnswerResponse struct {
	// Answer is the generated answer, or the fixed fallback when nothing was retrieved.
	Answer string `json:"answer"`
	// Context is the chunk text the answer was conditioned on, in rank order.
	Context string `json:"context"`
	// DocumentsUsed lists each contributing document once, in first-seen rank order.
	DocumentsUsed []DocumentRef `json:"documents_used"`
}

// SearchRequest represents a retrieval-only query.
type SearchRequest struct {
	Query       string   `json:"query"`
	RequesterID string   `json:"-"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	N           int      `json:"n,omitempty"`
}

// SearchResult is one ranked chunk.
type SearchResult struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}
