package rag

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_engine.go -package=mocks docrag/internal/rag Engine

import (
	"context"
	"fmt"
	"strings"

	"docrag/internal/contextutil"
	"docrag/internal/document"
	"docrag/internal/llm"
	"docrag/internal/vectorindex"
	"docrag/internal/vectorstore"
)

const (
	// DefaultN is the chunk count used when a request leaves N unset.
	DefaultN = 5
	// MaxN bounds the chunk count of a single request.
	MaxN = 20

	// overFetch multiplies the query size when stale hits get filtered out.
	overFetch = 3

	// FallbackAnswer is returned when no chunk matches the query scope.
	FallbackAnswer = "I couldn't find any relevant information in your documents to answer this question."

	serviceGeneration = "generation service"

	systemPrompt = "You are a helpful assistant that answers questions based on the provided context from the user's documents. " +
		"Answer the question using only the information from the context below. If the context doesn't contain " +
		"enough information to answer the question, say so. Mention the document titles you relied on."
)

// Engine provides RAG (Retrieval-Augmented Generation) functionality.
type Engine interface {
	// Answer retrieves the chunks most relevant to the query and generates an answer from them.
	Answer(ctx context.Context, req AnswerRequest) (AnswerResponse, error)
	// Search returns the ranked chunks for a query without generating anything.
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)
}

// Retriever returns ranked chunks under a filter. *vectorindex.Index implements it.
type Retriever interface {
	Query(ctx context.Context, text string, n int, filter vectorstore.Filter) ([]vectorindex.Hit, error)
}

// LiveGenerations reports the live chunk set generation of each document.
// Documents that are missing or not yet indexed are left out of the map.
type LiveGenerations interface {
	LiveGenerations(ctx context.Context, documentIDs []string) (map[string]string, error)
}

// ragEngine implements the Engine interface.
type ragEngine struct {
	retriever   Retriever
	generator   llm.Generator
	live        LiveGenerations
	maxTokens   int
	temperature float32
}

// Option configures the engine.
type Option func(*ragEngine)

// WithMaxTokens limits the length of generated answers. Zero means no limit.
func WithMaxTokens(n int) Option {
	return func(e *ragEngine) { e.maxTokens = n }
}

// WithLiveGenerations drops hits from chunk sets that are no longer, or not
// yet, the live set of their document. Retrieval over-fetches to make up for
// the dropped hits.
func WithLiveGenerations(live LiveGenerations) Option {
	return func(e *ragEngine) { e.live = live }
}

// WithTemperature overrides the generation temperature.
func WithTemperature(t float32) Option {
	return func(e *ragEngine) { e.temperature = t }
}

// NewEngine creates a new RAG engine.
func NewEngine(retriever Retriever, generator llm.Generator, opts ...Option) Engine {
	e := &ragEngine{
		retriever:   retriever,
		generator:   generator,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Answer answers a question using RAG. When nothing is retrieved the fixed
// FallbackAnswer is returned and the generator is not called.
func (e *ragEngine) Answer(ctx context.Context, req AnswerRequest) (AnswerResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)

	hits, err := e.retrieve(ctx, req.Query, req.RequesterID, req.DocumentIDs, req.N)
	if err != nil {
		return AnswerResponse{}, err
	}

	if len(hits) == 0 {
		logger.InfoContext(ctx, "no search results found")
		return AnswerResponse{
			Answer:        FallbackAnswer,
			DocumentsUsed: []DocumentRef{},
		}, nil
	}

	contextString := buildContext(hits)
	logger.InfoContext(ctx, "context formatted for LLM",
		"context_length", len(contextString),
		"chunks_included", len(hits),
	)
	logger.DebugContext(ctx, "full context being sent to LLM", "context", contextString)

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("%s\n\n%s", req.Query, contextString)},
	}

	answer, err := e.generator.Complete(ctx, messages, llm.ChatParams{
		MaxTokens:   e.maxTokens,
		Temperature: e.temperature,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to get LLM response", "error", err)
		return AnswerResponse{}, document.NewExternalServiceError(serviceGeneration, err)
	}

	used := documentsUsed(hits)
	logger.InfoContext(ctx, "RAG query completed",
		"question_length", len(req.Query),
		"chunks_used", len(hits),
		"documents_used", len(used),
		"answer_length", len(answer),
	)

	return AnswerResponse{
		Answer:        answer,
		Context:       contextString,
		DocumentsUsed: used,
	}, nil
}

// Search returns ranked chunks for the query.
func (e *ragEngine) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	hits, err := e.retrieve(ctx, req.Query, req.RequesterID, req.DocumentIDs, req.N)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		results[i] = SearchResult{
			DocumentID: hit.DocumentID,
			Title:      hit.Title,
			ChunkIndex: hit.ChunkIndex,
			Text:       hit.Text,
			Score:      hit.Score,
		}
	}
	return results, nil
}

func (e *ragEngine) retrieve(ctx context.Context, query, requesterID string, documentIDs []string, n int) ([]vectorindex.Hit, error) {
	logger := contextutil.LoggerFromContext(ctx)

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, document.NewValidationError("query", "query is required")
	}

	filter, err := scopeFilter(requesterID, documentIDs)
	if err != nil {
		return nil, err
	}
	n = clampN(n)

	logger.InfoContext(ctx, "RAG query started",
		"query_length", len(query),
		"document_ids", len(filter.DocumentIDs),
		"n", n,
	)

	fetch := n
	if e.live != nil {
		fetch = n * overFetch
	}
	hits, err := e.retriever.Query(ctx, query, fetch, filter)
	if err != nil {
		logger.ErrorContext(ctx, "failed to search vector index", "error", err)
		return nil, err
	}
	if e.live != nil {
		hits, err = e.liveOnly(ctx, hits)
		if err != nil {
			return nil, err
		}
	}
	if len(hits) > n {
		hits = hits[:n]
	}

	logger.InfoContext(ctx, "vector search completed", "results_count", len(hits), "n_requested", n)
	if len(hits) > 0 {
		topScores := make([]float32, 0, 3)
		for i := 0; i < len(hits) && i < 3; i++ {
			topScores = append(topScores, hits[i].Score)
		}
		logger.DebugContext(ctx, "top search results", "top_3_scores", topScores)
	}
	return hits, nil
}

// liveOnly keeps the hits that belong to their document's live generation.
func (e *ragEngine) liveOnly(ctx context.Context, hits []vectorindex.Hit) ([]vectorindex.Hit, error) {
	if len(hits) == 0 {
		return hits, nil
	}
	var ids []string
	seen := make(map[string]bool)
	for _, hit := range hits {
		if !seen[hit.DocumentID] {
			seen[hit.DocumentID] = true
			ids = append(ids, hit.DocumentID)
		}
	}

	live, err := e.live.LiveGenerations(ctx, ids)
	if err != nil {
		return nil, err
	}

	kept := make([]vectorindex.Hit, 0, len(hits))
	for _, hit := range hits {
		if gen, ok := live[hit.DocumentID]; ok && gen == hit.Generation {
			kept = append(kept, hit)
		}
	}
	if dropped := len(hits) - len(kept); dropped > 0 {
		contextutil.LoggerFromContext(ctx).DebugContext(ctx, "dropped hits outside live chunk sets", "count", dropped)
	}
	return kept, nil
}

// scopeFilter builds the retrieval scope. Explicit document ids win over the
// requester's own documents.
func scopeFilter(requesterID string, documentIDs []string) (vectorstore.Filter, error) {
	var ids []string
	seen := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		return vectorstore.Filter{DocumentIDs: ids}, nil
	}
	if strings.TrimSpace(requesterID) == "" {
		return vectorstore.Filter{}, document.NewValidationError("requester_id", "requester or document ids are required")
	}
	return vectorstore.Filter{OwnerID: requesterID}, nil
}

// clampN applies the default and bounds the chunk count to 1..MaxN.
func clampN(n int) int {
	switch {
	case n <= 0:
		return DefaultN
	case n > MaxN:
		return MaxN
	default:
		return n
	}
}

// buildContext concatenates the chunks in rank order.
func buildContext(hits []vectorindex.Hit) string {
	var b strings.Builder
	b.WriteString("--- Context from documents ---\n\n")
	for _, hit := range hits {
		fmt.Fprintf(&b, "[Document: %s] Chunk: %d\n", hit.Title, hit.ChunkIndex)
		fmt.Fprintf(&b, "Content: %s\n\n", hit.Text)
	}
	b.WriteString("--- End Context ---")
	return b.String()
}

// documentsUsed lists each document once, in the order it first appears.
func documentsUsed(hits []vectorindex.Hit) []DocumentRef {
	seen := make(map[string]bool)
	refs := make([]DocumentRef, 0, len(hits))
	for _, hit := range hits {
		if seen[hit.DocumentID] {
			continue
		}
		seen[hit.DocumentID] = true
		refs = append(refs, DocumentRef{ID: hit.DocumentID, Title: hit.Title})
	}
	return refs
}
