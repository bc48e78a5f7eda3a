package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	url, err := store.Store(ctx, []byte("hello blob"), "alice", "../../etc/notes.txt")
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if !strings.HasPrefix(url, "file://") {
		t.Errorf("Store() url = %q, want file:// scheme", url)
	}
	if !strings.HasSuffix(url, "-notes.txt") {
		t.Errorf("Store() url = %q, want sanitized filename suffix", url)
	}

	data, err := store.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(data) != "hello blob" {
		t.Errorf("Fetch() = %q", data)
	}

	if err := store.Delete(ctx, url); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Fetch(ctx, url); !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch() after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, url); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
}

func TestFileStore_StoreLeavesNoTempFiles(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	if _, err := store.Store(context.Background(), []byte("x"), "bob", "a.pdf"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(store.Root(), "bob"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || strings.HasPrefix(entries[0].Name(), ".upload-") {
		t.Errorf("owner directory entries = %v", entries)
	}
}

func TestFileStore_RejectsForeignURLs(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	ctx := context.Background()

	for _, url := range []string{
		"https://example.com/a.txt",
		"file:///etc/passwd",
		"file://" + filepath.ToSlash(store.Root()) + "/../escape.txt",
		"://bad",
	} {
		if _, err := store.Fetch(ctx, url); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("Fetch(%q) error = %v, want rejection", url, err)
		}
	}
}

func TestFileStore_CanceledContext(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Store(ctx, []byte("x"), "a", "b"); !errors.Is(err, context.Canceled) {
		t.Errorf("Store() error = %v, want context.Canceled", err)
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"my report (1).pdf", "my_report__1_.pdf"},
		{"..", "x"},
		{"", "x"},
		{"ünïcode.txt", "_n_code.txt"},
	}
	for _, tt := range tests {
		if got := safeName(tt.in, "x"); got != tt.want {
			t.Errorf("safeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
