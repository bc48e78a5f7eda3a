// Package blob persists original uploaded bytes and hands out retrieval URLs.
package blob

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_store.go -package=mocks docrag/internal/blob Store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"docrag/internal/contextutil"
)

// ErrNotFound is returned when a URL points at no stored blob.
var ErrNotFound = errors.New("blob not found")

// Store persists original file bytes.
type Store interface {
	// Store saves data for owner and returns a URL that Fetch accepts.
	Store(ctx context.Context, data []byte, ownerID, filename string) (string, error)
	// Fetch returns the bytes behind url.
	Fetch(ctx context.Context, url string) ([]byte, error)
	// Delete removes the blob behind url. Deleting a missing blob is not an error.
	Delete(ctx context.Context, url string) error
}

// FileStore is a Store on the local filesystem. Blobs live under
// <root>/<owner>/<uuid>-<filename> and are addressed by file:// URLs.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob directory: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Root returns the absolute blob directory.
func (s *FileStore) Root() string {
	return s.root
}

// Store writes data to a new file and returns its URL.
// The file is written to a temporary name first and renamed into place.
func (s *FileStore) Store(ctx context.Context, data []byte, ownerID, filename string) (string, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, safeName(ownerID, "anonymous"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create owner directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+"-"+safeName(filepath.Base(filename), "upload"))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move blob into place: %w", err)
	}

	logger.DebugContext(ctx, "stored blob", "path", path, "bytes", len(data))
	return fileURL(path), nil
}

// Fetch reads the blob behind rawURL.
func (s *FileStore) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.resolve(rawURL)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Delete removes the blob behind rawURL.
func (s *FileStore) Delete(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.resolve(rawURL)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// resolve maps a file:// URL to an absolute path inside the store root.
func (s *FileStore) resolve(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid blob url: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported blob url scheme %q", u.Scheme)
	}

	path := filepath.Clean(filepath.FromSlash(u.Path))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("blob url outside store: %s", rawURL)
	}
	return path, nil
}

func fileURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// safeName keeps letters, digits, dot, dash and underscore.
func safeName(name, fallback string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return fallback
	}
	return out
}
