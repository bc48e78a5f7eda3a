package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLangchainGenerator_Complete(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Paris"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	gen, err := NewLangchainGenerator(server.URL, "", "m", time.Second)
	if err != nil {
		t.Fatalf("NewLangchainGenerator() error = %v", err)
	}

	reply, err := gen.Complete(context.Background(), []Message{
		{Role: "system", Content: "Answer briefly."},
		{Role: "user", Content: "Capital of France?"},
	}, ChatParams{Temperature: 0.2, MaxTokens: 64})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "Paris" {
		t.Errorf("Complete() = %q, want Paris", reply)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Errorf("request messages = %+v", got.Messages)
	}
}

func TestLangchainEmbedder_EmbedTexts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"e",
			"data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]},
			        {"object":"embedding","index":1,"embedding":[0.4,0.5,0.6]}]}`))
	}))
	defer server.Close()

	emb, err := NewLangchainEmbedder(server.URL, "key", "e", 3, time.Second)
	if err != nil {
		t.Fatalf("NewLangchainEmbedder() error = %v", err)
	}

	vectors, err := emb.EmbedTexts(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedTexts() error = %v", err)
	}
	if len(vectors) != 2 || len(vectors[1]) != 3 {
		t.Errorf("EmbedTexts() = %v", vectors)
	}

	wrongSize, _ := NewLangchainEmbedder(server.URL, "key", "e", 8, time.Second)
	if _, err := wrongSize.EmbedTexts(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("EmbedTexts() expected size mismatch error")
	}

	if _, err := emb.EmbedTexts(context.Background(), nil); err == nil {
		t.Error("EmbedTexts() expected error for empty input")
	}
}

func TestRoleOf(t *testing.T) {
	tests := map[string]string{
		"system":    "system",
		"assistant": "ai",
		"user":      "human",
		"":          "human",
	}
	for in, want := range tests {
		if got := string(roleOf(in)); got != want {
			t.Errorf("roleOf(%q) = %q, want %q", in, got, want)
		}
	}
}
