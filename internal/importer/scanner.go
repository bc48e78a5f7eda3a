package importer

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// ScannedFile represents an importable file found during a directory scan.
type ScannedFile struct {
	RelPath     string // Relative path from the import root (e.g., "projects/meeting-notes.md")
	Folder      string // Folder path (path components except filename, e.g., "projects")
	AbsPath     string // Absolute file path
	ContentType string
}

// contentTypes maps importable extensions to the type sent on upload.
var contentTypes = map[string]string{
	".txt":      "text/plain",
	".text":     "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".pdf":      "application/pdf",
}

// Scan walks root and returns every importable file. Hidden directories
// (such as .git or .obsidian) are skipped.
func Scan(ctx context.Context, root string) ([]ScannedFile, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve import root: %w", err)
	}

	var scanned []ScannedFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to access path %s: %w", path, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		contentType, ok := contentTypes[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path for %s: %w", path, err)
		}
		relPath = filepath.ToSlash(relPath)

		folder := filepath.ToSlash(filepath.Dir(relPath))
		if folder == "." {
			folder = ""
		}

		scanned = append(scanned, ScannedFile{
			RelPath:     relPath,
			Folder:      folder,
			AbsPath:     path,
			ContentType: contentType,
		})
		return nil
	})
	if err != nil {
		return scanned, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return scanned, nil
}
