package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_chunk_store.go -package=mocks docrag/internal/storage ChunkStore

import (
	"context"
	"database/sql"
	"fmt"
)

// ChunkStore defines the interface for reading the chunk ledger.
// The ledger is written only through DocumentStore.SaveIndexed so that it
// always changes together with the document's vector_ref.
type ChunkStore interface {
	// ListByDocument returns the ledger of the live chunk set, ordered by chunk_index.
	ListByDocument(ctx context.Context, documentID string) ([]ChunkRecord, error)
	// ListIDsByDocument returns the vector point ids of the live chunk set.
	ListIDsByDocument(ctx context.Context, documentID string) ([]string, error)
	// CountByDocument returns the number of ledger rows for a document.
	CountByDocument(ctx context.Context, documentID string) (int, error)
}

// ChunkRepo provides methods for chunk ledger operations.
// It implements the ChunkStore interface.
type ChunkRepo struct {
	db *sql.DB
}

// NewChunkRepo creates a new ChunkRepo.
func NewChunkRepo(db *sql.DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// ListByDocument returns the ledger of the live chunk set, ordered by chunk_index.
// Returns an empty slice if no chunks exist (not an error).
func (r *ChunkRepo) ListByDocument(ctx context.Context, documentID string) ([]ChunkRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, document_id, generation, chunk_index FROM chunks WHERE document_id = ? ORDER BY chunk_index",
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	records := []ChunkRecord{}
	for rows.Next() {
		var rec ChunkRecord
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.Generation, &rec.ChunkIndex); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// ListIDsByDocument returns the vector point ids of the live chunk set.
// Used to delete exactly the superseded points after a chunk set swap.
func (r *ChunkRepo) ListIDsByDocument(ctx context.Context, documentID string) ([]string, error) {
	records, err := r.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

// CountByDocument returns the number of ledger rows for a document.
func (r *ChunkRepo) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE document_id = ?",
		documentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// replaceChunks swaps a document's ledger for records inside tx.
func replaceChunks(ctx context.Context, tx *sql.Tx, documentID string, records []ChunkRecord) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("failed to delete chunks by document: %w", err)
	}

	if len(records) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO chunks (id, document_id, generation, chunk_index) VALUES (?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.ID, documentID, rec.Generation, rec.ChunkIndex); err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}
	return nil
}
