package repository

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/mediaembed/gallery/internal/models"
)

// MemoryStore keeps records in process. It backs tests and the demo server.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]models.EmbeddingRecord
	rng       *rand.Rand
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithRand makes sampling deterministic in tests.
func WithRand(rng *rand.Rand) MemoryOption {
	return func(s *MemoryStore) {
		s.rng = rng
	}
}

// NewMemoryStore creates an empty store for vectors of the given dimension.
func NewMemoryStore(dimension int, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		dimension: dimension,
		records:   make(map[string]models.EmbeddingRecord),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Insert stores rec. An existing record with the same id is replaced.
func (s *MemoryStore) Insert(ctx context.Context, rec models.EmbeddingRecord) error {
	return s.InsertBatch(ctx, []models.EmbeddingRecord{rec})
}

// InsertBatch validates every record before storing any of them.
func (s *MemoryStore) InsertBatch(_ context.Context, recs []models.EmbeddingRecord) error {
	for _, rec := range recs {
		if err := validateRecord(rec, s.dimension); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range recs {
		rec.Vector = slices.Clone(rec.Vector)
		s.records[rec.ID] = rec
	}

	return nil
}

// GetByID returns the record or NotFound.
func (s *MemoryStore) GetByID(_ context.Context, id string) (*models.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, notFound(id)
	}

	rec.Vector = slices.Clone(rec.Vector)

	return &rec, nil
}

// ListRecent returns a page ordered by CreatedAt descending.
func (s *MemoryStore) ListRecent(_ context.Context, limit, offset int) ([]models.EmbeddingRecord, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}

	all := s.snapshot()
	sortRecent(all)

	return page(all, limit, offset), nil
}

// Count returns the number of stored records.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.records)), nil
}

// SampleRandom returns up to limit distinct records in random order.
func (s *MemoryStore) SampleRandom(_ context.Context, limit int) ([]models.EmbeddingRecord, error) {
	if err := validatePage(limit, 0); err != nil {
		return nil, err
	}

	all := s.snapshot()
	// Map iteration order is random; sort first so a seeded rng yields a reproducible sample.
	sortByID(all)

	s.mu.Lock()
	defer s.mu.Unlock()

	return sampleWithoutReplacement(all, limit, s.rng), nil
}

// NearestNeighbors scans every record.
func (s *MemoryStore) NearestNeighbors(_ context.Context, q models.NearestQuery) ([]models.SearchResult, error) {
	if err := validateQuery(q, s.dimension); err != nil {
		return nil, err
	}

	all := s.snapshot()
	sortByID(all)

	return rankByDistance(all, q)
}

// Delete removes id. Missing ids are not an error.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)

	return nil
}

// ListIDs returns every stored id.
func (s *MemoryStore) ListIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) snapshot() []models.EmbeddingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.EmbeddingRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}

	return out
}
