package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_document_store.go -package=mocks docrag/internal/storage DocumentStore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docrag/internal/document"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
)

// DocumentStore defines the interface for document metadata operations.
type DocumentStore interface {
	// Create inserts a new document row. The ID must be set.
	Create(ctx context.Context, doc *document.Document) error
	// Get returns a document by ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (*document.Document, error)
	// List returns the documents of an owner, newest first.
	List(ctx context.Context, ownerID string) ([]*document.Document, error)
	// SetStatus moves a document to status, enforcing the lifecycle transitions.
	SetStatus(ctx context.Context, id string, status document.Status, message string) error
	// SaveIndexed atomically stores the canonical text, the live chunk set
	// reference, the final status and the chunk ledger.
	SaveIndexed(ctx context.Context, id string, update IndexedUpdate) error
	// UpdateMetadata changes title and tags and bumps updated_at.
	UpdateMetadata(ctx context.Context, id string, update MetadataUpdate) error
	// Delete removes a document row together with its chunk ledger.
	Delete(ctx context.Context, id string) error
}

// DocumentRepo provides methods for document operations.
// It implements the DocumentStore interface.
type DocumentRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewDocumentRepo creates a new DocumentRepo.
func NewDocumentRepo(db *sql.DB) *DocumentRepo {
	return &DocumentRepo{db: db, now: time.Now}
}

const documentColumns = `id, title, owner_id, content_type, status, status_message, file_url,
	file_size, original_filename, content, vector_ref, tags, created_at, updated_at`

// Create inserts a new document row.
func (r *DocumentRepo) Create(ctx context.Context, doc *document.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	tags, err := encodeTags(doc.Tags)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	var content sql.NullString
	if doc.Content != nil {
		content = sql.NullString{String: *doc.Content, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.OwnerID, doc.ContentType, doc.Status.String(), doc.StatusMessage,
		doc.FileURL, doc.FileSize, doc.OriginalFilename, content, doc.VectorRef, tags,
		formatTimestamp(doc.CreatedAt), formatTimestamp(doc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// Get returns a document by ID. Returns ErrNotFound if missing.
func (r *DocumentRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	return doc, nil
}

// List returns the documents of an owner, newest first.
// Returns an empty slice if the owner has no documents.
func (r *DocumentRepo) List(ctx context.Context, ownerID string) ([]*document.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = ? ORDER BY created_at DESC, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	docs := []*document.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return docs, nil
}

// SetStatus moves a document to status. The change is rejected with a
// *document.TransitionError when the lifecycle does not allow it.
func (r *DocumentRepo) SetStatus(ctx context.Context, id string, status document.Status, message string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkTransition(ctx, tx, id, status); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE documents SET status = ?, status_message = ?, updated_at = ? WHERE id = ?`,
			status.String(), message, formatTimestamp(r.now()), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		return nil
	})
}

// SaveIndexed stores the result of a successful vector write in one transaction.
// The previous chunk ledger of the document is replaced by update.Chunks.
func (r *DocumentRepo) SaveIndexed(ctx context.Context, id string, update IndexedUpdate) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkTransition(ctx, tx, id, update.Status); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE documents
			 SET content = ?, file_url = ?, vector_ref = ?, status = ?, status_message = ?, updated_at = ?
			 WHERE id = ?`,
			update.Content, update.FileURL, update.VectorRef, update.Status.String(), update.Message,
			formatTimestamp(r.now()), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update indexed document: %w", err)
		}

		return replaceChunks(ctx, tx, id, update.Chunks)
	})
}

// UpdateMetadata changes title and tags and bumps updated_at.
func (r *DocumentRepo) UpdateMetadata(ctx context.Context, id string, update MetadataUpdate) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var title, tags string
		err := tx.QueryRowContext(ctx, `SELECT title, tags FROM documents WHERE id = ?`, id).Scan(&title, &tags)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query document: %w", err)
		}

		if update.Title != nil {
			title = *update.Title
		}
		if update.Tags != nil {
			if tags, err = encodeTags(update.Tags); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET title = ?, tags = ?, updated_at = ? WHERE id = ?`,
			title, tags, formatTimestamp(r.now()), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update document metadata: %w", err)
		}
		return nil
	})
}

// Delete removes a document row together with its chunk ledger.
// Returns ErrNotFound if the row does not exist.
func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete chunk ledger: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *DocumentRepo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func checkTransition(ctx context.Context, tx *sql.Tx, id string, next document.Status) error {
	var name string
	err := tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&name)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query status: %w", err)
	}
	current, err := document.ParseStatus(name)
	if err != nil {
		return err
	}
	if !current.CanTransition(next) {
		return &document.TransitionError{From: current, To: next}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var (
		doc                  document.Document
		status, tags         string
		content              sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&doc.ID, &doc.Title, &doc.OwnerID, &doc.ContentType, &status, &doc.StatusMessage,
		&doc.FileURL, &doc.FileSize, &doc.OriginalFilename, &content, &doc.VectorRef, &tags,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if doc.Status, err = document.ParseStatus(status); err != nil {
		return nil, err
	}
	if content.Valid {
		text := content.String
		doc.Content = &text
	}
	if doc.Tags, err = decodeTags(tags); err != nil {
		return nil, err
	}
	if doc.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}
	if doc.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at timestamp: %w", err)
	}
	return &doc, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if len(tags) == 0 {
		return nil, nil
	}
	return tags, nil
}
