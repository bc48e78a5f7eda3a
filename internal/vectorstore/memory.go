package vectorstore

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-process VectorStore using brute-force cosine similarity.
// It serves single-node deployments without Qdrant and the package tests.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Point
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Point)}
}

// CollectionExists always reports true; collections are created on first write.
func (s *MemoryStore) CollectionExists(context.Context, string) (bool, error) {
	return true, nil
}

// Upsert inserts or replaces points by ID.
func (s *MemoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]Point)
		s.collections[collection] = coll
	}
	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("point id is required")
		}
		meta := maps.Clone(p.Meta)
		if meta == nil {
			meta = make(map[string]any)
		}
		coll[p.ID] = Point{ID: p.ID, Vec: slices.Clone(p.Vec), Meta: meta}
	}
	return nil
}

// Search returns the k points most similar to query that match filter.
// Ties are broken by point ID so results are deterministic.
func (s *MemoryStore) Search(_ context.Context, collection string, query []float32, k int, filter Filter) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be greater than 0")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]SearchResult, 0)
	for _, p := range s.collections[collection] {
		if !matches(p.Meta, filter) {
			continue
		}
		results = append(results, SearchResult{
			PointID: p.ID,
			Score:   cosine(query, p.Vec),
			Meta:    maps.Clone(p.Meta),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].PointID < results[j].PointID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes points by their IDs. Unknown IDs are ignored.
func (s *MemoryStore) Delete(_ context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collections[collection]
	for _, id := range ids {
		delete(coll, id)
	}
	return nil
}

// DeleteByFilter removes every point matching filter.
func (s *MemoryStore) DeleteByFilter(_ context.Context, collection string, filter Filter) error {
	if filter.Empty() {
		return ErrEmptyFilter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collections[collection]
	for id, p := range coll {
		if matches(p.Meta, filter) {
			delete(coll, id)
		}
	}
	return nil
}

// Count returns the number of points matching filter.
func (s *MemoryStore) Count(_ context.Context, collection string, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.collections[collection] {
		if matches(p.Meta, filter) {
			n++
		}
	}
	return n, nil
}

// SetPayload overwrites the given payload keys on every point matching filter.
func (s *MemoryStore) SetPayload(_ context.Context, collection string, filter Filter, payload map[string]any) error {
	if filter.Empty() {
		return ErrEmptyFilter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.collections[collection] {
		if !matches(p.Meta, filter) {
			continue
		}
		for k, v := range payload {
			p.Meta[k] = v
		}
	}
	return nil
}

func matches(meta map[string]any, filter Filter) bool {
	if filter.OwnerID != "" && metaString(meta, KeyOwnerID) != filter.OwnerID {
		return false
	}
	if filter.DocumentID != "" && metaString(meta, KeyDocumentID) != filter.DocumentID {
		return false
	}
	if len(filter.DocumentIDs) > 0 && !slices.Contains(filter.DocumentIDs, metaString(meta, KeyDocumentID)) {
		return false
	}
	if filter.Generation != "" && metaString(meta, KeyGeneration) != filter.Generation {
		return false
	}
	if filter.ContentType != "" && metaString(meta, KeyContentType) != filter.ContentType {
		return false
	}
	return true
}

func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
