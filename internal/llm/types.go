package llm

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_llm.go -package=mocks docrag/internal/llm Embedder,Generator

import "context"

// Message represents a single message in a chat conversation.
// This type is used by the RAG engine and other structured message consumers.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatParams holds parameters for chat completion requests.
type ChatParams struct {
	// Model specifies the model to use. If empty, the client's default model is used.
	Model string

	// MaxTokens specifies the maximum number of tokens to generate.
	// If 0, no limit is applied.
	MaxTokens int

	// Temperature controls the randomness of the output.
	Temperature float32
}

// Embedder turns texts into vectors of a fixed dimension.
type Embedder interface {
	// EmbedTexts returns one vector per input text, in input order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces a completion for a conversation.
type Generator interface {
	// Complete issues a single, non-streaming completion call.
	Complete(ctx context.Context, messages []Message, params ChatParams) (string, error)
}
