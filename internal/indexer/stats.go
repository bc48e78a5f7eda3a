package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"docrag/internal/chunker"
	"docrag/internal/document"
)

// ChunkerVersion identifies the chunking implementation. Update it when
// window boundaries change so IndexVersion changes with it.
const ChunkerVersion = "v2.0"

// IndexingStats summarizes the documents of one owner.
type IndexingStats struct {
	// Documents is the number of documents owned.
	Documents int `json:"documents"`
	// ByStatus counts documents per lifecycle status.
	ByStatus map[string]int `json:"by_status"`
	// DocsWith0Chunks counts documents without a live chunk set.
	DocsWith0Chunks int `json:"docs_with_0_chunks"`
	// Chunks is the number of live chunks across all documents.
	Chunks int `json:"chunks"`
	// ChunksPerDocument describes the chunk count distribution of indexed documents.
	ChunksPerDocument Distribution `json:"chunks_per_document"`
	// ChunkerVersion is the version of the chunker used.
	ChunkerVersion string `json:"chunker_version"`
	// IndexVersion is a hash identifying the index build (chunker + embedding model + params).
	IndexVersion string `json:"index_version"`
}

// Distribution summarizes a set of counts. Percentiles use the nearest-rank method.
type Distribution struct {
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
	P50  int     `json:"p50"`
	P95  int     `json:"p95"`
}

// Stats computes indexing statistics for ownerID from the metadata store.
func (p *Pipeline) Stats(ctx context.Context, ownerID, embeddingModel string) (*IndexingStats, error) {
	docs, err := p.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	stats := &IndexingStats{
		Documents:      len(docs),
		ByStatus:       make(map[string]int),
		ChunkerVersion: ChunkerVersion,
		IndexVersion: indexVersion(embeddingModel,
			p.chunker.ParamsFor("text/plain"), p.chunker.ParamsFor("application/pdf")),
	}

	counts := make([]int, 0, len(docs))
	for _, doc := range docs {
		stats.ByStatus[doc.Status.String()]++

		n, err := p.chunks.CountByDocument(ctx, doc.ID)
		if err != nil {
			return nil, document.NewDatabaseError("count chunks", err)
		}
		if n == 0 || !doc.Indexed() {
			stats.DocsWith0Chunks++
			continue
		}
		stats.Chunks += n
		counts = append(counts, n)
	}
	stats.ChunksPerDocument = computeDistribution(counts)

	return stats, nil
}

// indexVersion hashes everything that changes the stored vectors.
func indexVersion(embeddingModel string, text, other chunker.Params) string {
	input := fmt.Sprintf("%s|%s|text=%d/%d|other=%d/%d",
		ChunkerVersion, embeddingModel, text.Size, text.Overlap, other.Size, other.Overlap)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16] // 16 hex chars = 64 bits
}

// computeDistribution summarizes counts; an empty input yields the zero value.
func computeDistribution(counts []int) Distribution {
	if len(counts) == 0 {
		return Distribution{}
	}

	sorted := make([]int, len(counts))
	copy(sorted, counts)
	sort.Ints(sorted)

	sum := 0
	for _, c := range counts {
		sum += c
	}
	mean := float64(sum) / float64(len(counts))

	return Distribution{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: math.Round(mean*100) / 100, // Round to 2 decimal places
		P50:  percentile(sorted, 0.50),
		P95:  percentile(sorted, 0.95),
	}
}

// percentile returns the nearest-rank percentile of a sorted, non-empty slice.
func percentile(sorted []int, p float64) int {
	rank := int(math.Ceil(p * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
