package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:8081", "test-key", "test-model")
	if client.BaseURL != "http://localhost:8081" {
		t.Errorf("NewClient() BaseURL = %v, want http://localhost:8081", client.BaseURL)
	}
	if client.APIKey != "test-key" {
		t.Errorf("NewClient() APIKey = %v, want test-key", client.APIKey)
	}
	if client.Model != "test-model" {
		t.Errorf("NewClient() Model = %v, want test-model", client.Model)
	}
	if client.client == nil {
		t.Error("NewClient() client should not be nil")
	}
	if got := client.WithTimeout(5 * time.Second).client.Timeout; got != 5*time.Second {
		t.Errorf("WithTimeout() timeout = %v, want 5s", got)
	}
}

func chatServer(t *testing.T, check func(req ChatRequest), status int, content string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("expected /v1/chat/completions, got %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("missing Authorization header")
		}

		var req ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req) // Ignore decode error in test
		if check != nil {
			check(req)
		}

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("upstream failure"))
			return
		}

		resp := ChatResponse{ID: "test-id", Object: "chat.completion"}
		if content != "" {
			resp.Choices = []ChatChoice{{Message: ChatChoiceMessage{Role: "assistant", Content: content}}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestClient_Complete(t *testing.T) {
	server := chatServer(t, func(req ChatRequest) {
		if len(req.Messages) != 2 {
			t.Errorf("expected 2 messages, got %d", len(req.Messages))
		}
		if req.Model != "custom-model" {
			t.Errorf("expected model custom-model, got %s", req.Model)
		}
		if req.MaxTokens != 100 {
			t.Errorf("expected max_tokens 100, got %d", req.MaxTokens)
		}
		if req.Temperature == nil || *req.Temperature != 0.2 {
			t.Errorf("expected temperature 0.2, got %v", req.Temperature)
		}
	}, http.StatusOK, "Response")
	defer server.Close()

	client := NewClient(server.URL, "test-key", "test-model")

	messages := []Message{
		{Role: "system", Content: "You are a helpful assistant"},
		{Role: "user", Content: "Hello"},
	}
	params := ChatParams{Model: "custom-model", MaxTokens: 100, Temperature: 0.2}

	reply, err := client.Complete(context.Background(), messages, params)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "Response" {
		t.Errorf("Complete() reply = %v, want Response", reply)
	}
}

func TestClient_Complete_DefaultModel(t *testing.T) {
	server := chatServer(t, func(req ChatRequest) {
		if req.Model != "test-model" {
			t.Errorf("expected model test-model, got %s", req.Model)
		}
		if req.Temperature != nil {
			t.Errorf("expected temperature to be omitted, got %v", *req.Temperature)
		}
	}, http.StatusOK, "Response")
	defer server.Close()

	client := NewClient(server.URL, "test-key", "test-model")
	reply, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "Hello"}}, ChatParams{})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "Response" {
		t.Errorf("Complete() reply = %v, want Response", reply)
	}
}

func TestClient_Complete_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		content  string
		messages []Message
	}{
		{"server error", http.StatusInternalServerError, "", []Message{{Role: "user", Content: "hi"}}},
		{"no choices", http.StatusOK, "", []Message{{Role: "user", Content: "hi"}}},
		{"no messages", http.StatusOK, "unused", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := chatServer(t, nil, tt.status, tt.content)
			defer server.Close()

			client := NewClient(server.URL, "test-key", "test-model")
			if _, err := client.Complete(context.Background(), tt.messages, ChatParams{}); err == nil {
				t.Error("Complete() expected error, got nil")
			}
		})
	}
}

func TestClient_Complete_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", "m").WithTimeout(20 * time.Millisecond)
	if _, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, ChatParams{}); err == nil {
		t.Error("Complete() expected timeout error, got nil")
	}
}
