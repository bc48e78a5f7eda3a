// Package importer seeds the document index from a directory tree.
package importer

import (
	"context"
	"os"
	"strings"

	"docrag/internal/access"
	"docrag/internal/contextutil"
	"docrag/internal/document"
	"docrag/internal/service"
)

// Summary reports the outcome of an import run.
type Summary struct {
	Scanned  int
	Imported int
	Skipped  int
	Failed   int
}

// Importer uploads files from a directory on behalf of one owner.
type Importer struct {
	documents service.DocumentService
	owner     access.Identity
}

// New creates an Importer that uploads as ownerID.
func New(documents service.DocumentService, ownerID string) *Importer {
	return &Importer{
		documents: documents,
		owner:     access.Identity{UserID: ownerID},
	}
}

// Import scans root and uploads every file the owner has not imported yet.
// Files are matched by their path relative to root. A failing file is
// logged and counted; the run continues with the next one.
func (im *Importer) Import(ctx context.Context, root string) (Summary, error) {
	ctx = access.WithIdentity(ctx, im.owner)
	logger := contextutil.LoggerFromContext(ctx).With("import_root", root, "owner_id", im.owner.UserID)

	var summary Summary
	files, err := Scan(ctx, root)
	if err != nil {
		return summary, err
	}
	summary.Scanned = len(files)

	existing, err := im.documents.List(ctx)
	if err != nil {
		return summary, document.WrapError(err, "failed to list existing documents")
	}
	seen := make(map[string]bool, len(existing))
	for _, doc := range existing {
		seen[doc.OriginalFilename] = true
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if seen[file.RelPath] {
			summary.Skipped++
			continue
		}

		data, err := os.ReadFile(file.AbsPath)
		if err != nil {
			logger.WarnContext(ctx, "failed to read file", "path", file.RelPath, "error", err)
			summary.Failed++
			continue
		}

		result, err := im.documents.Upload(ctx, service.UploadRequest{
			Filename:    file.RelPath,
			ContentType: file.ContentType,
			Data:        data,
			Tags:        folderTags(file.Folder),
		})
		if err != nil {
			logger.WarnContext(ctx, "failed to import file", "path", file.RelPath, "error", err)
			summary.Failed++
			continue
		}
		logger.DebugContext(ctx, "imported file", "path", file.RelPath, "document_id", result.Document.ID, "mode", result.Mode.String())
		summary.Imported++
	}

	return summary, nil
}

// folderTags turns "projects/q3" into ["projects", "q3"].
func folderTags(folder string) []string {
	if folder == "" {
		return nil
	}
	return strings.Split(folder, "/")
}
