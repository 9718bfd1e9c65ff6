package repository

import (
	"context"
	"slices"

	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/observability"
	"github.com/mediaembed/gallery/pkg/cache"
)

const recordCacheName = "record_by_id"

// Cached fronts GetByID with a LoaderCache. Records are immutable, so only Delete (and a
// re-insert of the same id) needs to invalidate.
type Cached struct {
	Store

	records *cache.LoaderCache[string, *models.EmbeddingRecord]
	metrics observability.CacheMetrics
}

// NewCached wraps next with a record cache of size entries. metrics may be nil.
func NewCached(next Store, size int, metrics observability.CacheMetrics) (*Cached, error) {
	records, err := cache.NewLoaderCache[string, *models.EmbeddingRecord](size, cache.Identity)
	if err != nil {
		return nil, err
	}

	return &Cached{Store: next, records: records, metrics: metrics}, nil
}

// GetByID returns a copy of the cached record, loading it on a miss.
func (s *Cached) GetByID(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	rec, hit, err := s.records.GetWithStats(ctx, id, s.Store.GetByID)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordLookup(ctx, recordCacheName, hit)
	}

	out := *rec
	out.Vector = slices.Clone(rec.Vector)

	return &out, nil
}

// Insert invalidates any cached record with the same id.
func (s *Cached) Insert(ctx context.Context, rec models.EmbeddingRecord) error {
	s.records.Invalidate(rec.ID)

	return s.Store.Insert(ctx, rec)
}

// InsertBatch invalidates any cached records with the same ids.
func (s *Cached) InsertBatch(ctx context.Context, recs []models.EmbeddingRecord) error {
	for _, rec := range recs {
		s.records.Invalidate(rec.ID)
	}

	return s.Store.InsertBatch(ctx, recs)
}

// Delete removes the record and its cache entry.
func (s *Cached) Delete(ctx context.Context, id string) error {
	err := s.Store.Delete(ctx, id)
	s.records.Invalidate(id)

	return err
}
