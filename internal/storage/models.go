package storage

import "docrag/internal/document"

// ChunkRecord is one row of the chunk ledger: the vector point id of a chunk
// in a given generation of a document's chunk set.
type ChunkRecord struct {
	ID         string // vector point id (UUID)
	DocumentID string // foreign key to documents.id
	Generation string // chunk set generation token
	ChunkIndex int    // index within the document (starts at 0)
}

// IndexedUpdate is everything written when a new chunk set becomes live.
type IndexedUpdate struct {
	Content   string
	FileURL   string
	VectorRef string // empty when the index could not be confirmed
	Status    document.Status
	Message   string
	Chunks    []ChunkRecord // ledger of the generation just written
}

// MetadataUpdate changes user-editable fields. Nil fields are left unchanged.
type MetadataUpdate struct {
	Title *string
	Tags  []string
}
