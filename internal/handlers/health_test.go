package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeCollections struct {
	exists bool
	err    error
}

func (f fakeCollections) CollectionExists(context.Context, string) (bool, error) {
	return f.exists, f.err
}

type fakePinger struct {
	err error
}

func (f fakePinger) PingContext(context.Context) error {
	return f.err
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		store      fakeCollections
		database   Pinger
		method     string
		wantStatus int
		wantIssues []string
	}{
		{
			name:       "healthy",
			store:      fakeCollections{exists: true},
			database:   fakePinger{},
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
		},
		{
			name:       "healthy without database",
			store:      fakeCollections{exists: true},
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing collection",
			store:      fakeCollections{exists: false},
			database:   fakePinger{},
			method:     http.MethodGet,
			wantStatus: http.StatusServiceUnavailable,
			wantIssues: []string{"vector_store_unavailable"},
		},
		{
			name:       "everything down",
			store:      fakeCollections{err: errors.New("connection refused")},
			database:   fakePinger{err: errors.New("database is closed")},
			method:     http.MethodGet,
			wantStatus: http.StatusServiceUnavailable,
			wantIssues: []string{"vector_store_unavailable", "database_unavailable"},
		},
		{
			name:       "wrong method",
			store:      fakeCollections{exists: true},
			method:     http.MethodPost,
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(tt.store, tt.database, "documents")

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(tt.method, "/api/health", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("ServeHTTP() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.method != http.MethodGet {
				return
			}

			var resp HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(resp.Issues) != len(tt.wantIssues) {
				t.Fatalf("Issues = %v, want %v", resp.Issues, tt.wantIssues)
			}
			for i, issue := range tt.wantIssues {
				if resp.Issues[i] != issue {
					t.Errorf("Issues[%d] = %q, want %q", i, resp.Issues[i], issue)
				}
			}
			if tt.database == nil {
				if _, ok := resp.Checks["database"]; ok {
					t.Error("database check reported without a database")
				}
			}
		})
	}
}
