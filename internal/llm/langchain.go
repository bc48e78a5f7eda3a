package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainGenerator implements Generator on top of a langchaingo model.
type LangchainGenerator struct {
	model llms.Model
}

// NewLangchainGenerator creates a Generator for an OpenAI-compatible endpoint
// through langchaingo. An empty apiKey is sent as "none" for local servers.
func NewLangchainGenerator(baseURL, apiKey, model string, timeout time.Duration) (*LangchainGenerator, error) {
	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(tokenOrNone(apiKey)),
		openai.WithModel(model),
		openai.WithHTTPClient(newHTTPClient(timeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain model: %w", err)
	}
	return &LangchainGenerator{model: client}, nil
}

// Complete issues one GenerateContent call and returns the first choice.
func (g *LangchainGenerator) Complete(ctx context.Context, messages []Message, params ChatParams) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to send")
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		content = append(content, llms.TextParts(roleOf(msg.Role), msg.Content))
	}

	var opts []llms.CallOption
	if params.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(float64(params.Temperature)))
	}
	if params.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(params.MaxTokens))
	}
	if params.Model != "" {
		opts = append(opts, llms.WithModel(params.Model))
	}

	resp, err := g.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Content, nil
}

func roleOf(role string) llms.ChatMessageType {
	switch role {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// LangchainEmbedder implements Embedder with langchaingo's embeddings package.
type LangchainEmbedder struct {
	embedder     embeddings.Embedder
	expectedSize int
}

// NewLangchainEmbedder creates an Embedder for an OpenAI-compatible endpoint.
// Returned vectors are validated against expectedSize.
func NewLangchainEmbedder(baseURL, apiKey, model string, expectedSize int, timeout time.Duration) (*LangchainEmbedder, error) {
	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(tokenOrNone(apiKey)),
		openai.WithEmbeddingModel(model),
		openai.WithHTTPClient(newHTTPClient(timeout)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain embedder: %w", err)
	}

	return &LangchainEmbedder{embedder: embedder, expectedSize: expectedSize}, nil
}

// EmbedTexts generates embeddings for texts in one batch.
func (e *LangchainEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty input array")
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
	}
	for i, vec := range vectors {
		if len(vec) != e.expectedSize {
			return nil, fmt.Errorf("embedding %d has size %d, expected %d", i, len(vec), e.expectedSize)
		}
	}
	return vectors, nil
}

func tokenOrNone(apiKey string) string {
	if apiKey == "" {
		return "none"
	}
	return apiKey
}
