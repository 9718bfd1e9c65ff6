package repository

import (
	"context"
	"time"

	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/observability"
)

// Instrumented records an operation metric for every call to the wrapped store.
type Instrumented struct {
	next    Store
	backend string
	metrics observability.StoreMetrics
}

// NewInstrumented wraps next. When metrics is nil it returns next unchanged.
func NewInstrumented(next Store, backend string, metrics observability.StoreMetrics) Store {
	if metrics == nil {
		return next
	}

	return &Instrumented{next: next, backend: backend, metrics: metrics}
}

func (s *Instrumented) record(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.RecordStoreOp(ctx, s.backend, op, time.Since(start), err)
}

func (s *Instrumented) Insert(ctx context.Context, rec models.EmbeddingRecord) error {
	start := time.Now()
	err := s.next.Insert(ctx, rec)
	s.record(ctx, "insert", start, err)

	return err
}

func (s *Instrumented) InsertBatch(ctx context.Context, recs []models.EmbeddingRecord) error {
	start := time.Now()
	err := s.next.InsertBatch(ctx, recs)
	s.record(ctx, "insert_batch", start, err)

	return err
}

func (s *Instrumented) GetByID(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	start := time.Now()
	rec, err := s.next.GetByID(ctx, id)
	s.record(ctx, "get_by_id", start, err)

	return rec, err
}

func (s *Instrumented) ListRecent(ctx context.Context, limit, offset int) ([]models.EmbeddingRecord, error) {
	start := time.Now()
	recs, err := s.next.ListRecent(ctx, limit, offset)
	s.record(ctx, "list_recent", start, err)

	return recs, err
}

func (s *Instrumented) Count(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := s.next.Count(ctx)
	s.record(ctx, "count", start, err)

	return n, err
}

func (s *Instrumented) SampleRandom(ctx context.Context, limit int) ([]models.EmbeddingRecord, error) {
	start := time.Now()
	recs, err := s.next.SampleRandom(ctx, limit)
	s.record(ctx, "sample_random", start, err)

	return recs, err
}

func (s *Instrumented) NearestNeighbors(ctx context.Context, q models.NearestQuery) ([]models.SearchResult, error) {
	start := time.Now()
	results, err := s.next.NearestNeighbors(ctx, q)
	s.record(ctx, "nearest_neighbors", start, err)

	return results, err
}

func (s *Instrumented) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.next.Delete(ctx, id)
	s.record(ctx, "delete", start, err)

	return err
}

func (s *Instrumented) ListIDs(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := s.next.ListIDs(ctx)
	s.record(ctx, "list_ids", start, err)

	return ids, err
}

func (s *Instrumented) Close() error {
	return s.next.Close()
}
