package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusError, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusError, true},
		{StatusProcessing, StatusWarning, true},
		{StatusProcessing, StatusProcessing, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusProcessing, true},
		{StatusCompleted, StatusError, false},
		{StatusCompleted, StatusWarning, true},
		{StatusWarning, StatusCompleted, false},
		{StatusCompleted, StatusPending, false},
		{StatusError, StatusProcessing, true},
		{StatusError, StatusCompleted, false},
		{StatusWarning, StatusProcessing, true},
		{Status(42), StatusProcessing, false},
		{StatusPending, Status(42), false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	for s := StatusPending; s < statusCount; s++ {
		parsed, err := ParseStatus(s.String())
		if err != nil {
			t.Fatalf("ParseStatus(%q) error = %v", s.String(), err)
		}
		if parsed != s {
			t.Errorf("ParseStatus(%q) = %v, want %v", s.String(), parsed, s)
		}
	}

	if _, err := ParseStatus("done"); err == nil {
		t.Error("ParseStatus(\"done\") expected error")
	}
}

func TestStatus_JSON(t *testing.T) {
	doc := Document{ID: "d1", Status: StatusWarning}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded Document
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Status != StatusWarning {
		t.Errorf("Status = %v, want warning", decoded.Status)
	}
}

func TestErrors_SentinelMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", NewValidationError("file", "too large"), ErrInvalidInput},
		{"not found", NewNotFoundError("document", "x"), ErrNotFound},
		{"external", NewExternalServiceError("vector index", errors.New("timeout")), ErrExternalService},
		{"database", NewDatabaseError("insert", errors.New("locked")), ErrDatabase},
		{"wrapped", WrapError(NewNotFoundError("document", "y"), "get"), ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
		})
	}

	if errors.Is(NewValidationError("a", "b"), ErrNotFound) {
		t.Error("validation error should not match ErrNotFound")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		ct   string
		want Kind
	}{
		{"text/plain", KindPlainText},
		{"text/plain; charset=utf-8", KindPlainText},
		{"TEXT/CSV", KindPlainText},
		{"text/markdown", KindMarkdown},
		{"application/pdf", KindPDF},
		{"application/json", KindOther},
		{"", KindOther},
	}

	for _, tt := range tests {
		if got := KindOf(tt.ct); got != tt.want {
			t.Errorf("KindOf(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}

	if Supported("image/png") {
		t.Error("Supported(image/png) = true, want false")
	}
	if !Supported("application/octet-stream") {
		t.Error("Supported(application/octet-stream) = false, want true")
	}
}
