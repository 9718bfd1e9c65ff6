// Package repository implements the embedding record store on LanceDB Cloud, Postgres/pgvector,
// bbolt, and in memory. Every backend reports distances under the same metric conventions.
package repository

import (
	"context"
	"fmt"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
)

// Store is the capability set shared by every backend.
type Store interface {
	Insert(ctx context.Context, rec models.EmbeddingRecord) error
	InsertBatch(ctx context.Context, recs []models.EmbeddingRecord) error
	GetByID(ctx context.Context, id string) (*models.EmbeddingRecord, error)
	ListRecent(ctx context.Context, limit, offset int) ([]models.EmbeddingRecord, error)
	Count(ctx context.Context) (int64, error)
	SampleRandom(ctx context.Context, limit int) ([]models.EmbeddingRecord, error)
	NearestNeighbors(ctx context.Context, q models.NearestQuery) ([]models.SearchResult, error)
	Delete(ctx context.Context, id string) error
	ListIDs(ctx context.Context) ([]string, error)
	Close() error
}

const embeddingResource = "embedding"

func notFound(id string) error {
	return galleryerrors.NewNotFoundError(embeddingResource, id)
}

// validatePage enforces the platform page limit for listing and sampling.
func validatePage(limit, offset int) error {
	if limit < 0 {
		return galleryerrors.NewInvalidArgumentError("limit", "limit must not be negative")
	}

	if limit > models.MaxPageSize {
		return galleryerrors.NewInvalidArgumentError("limit",
			fmt.Sprintf("limit must be at most %d, got %d", models.MaxPageSize, limit))
	}

	if offset < 0 {
		return galleryerrors.NewInvalidArgumentError("offset", "offset must not be negative")
	}

	return nil
}

// validateRecord checks a record before it is written.
func validateRecord(rec models.EmbeddingRecord, dimension int) error {
	if rec.ID == "" {
		return galleryerrors.NewInvalidArgumentError("id", "id is required")
	}

	if len(rec.Vector) != dimension {
		return galleryerrors.NewSchemaMismatchError(dimension, len(rec.Vector))
	}

	return nil
}

// validateQuery checks a nearest-neighbor query against the table dimension.
func validateQuery(q models.NearestQuery, dimension int) error {
	if len(q.Vector) != dimension {
		return galleryerrors.NewDimensionMismatchError(dimension, len(q.Vector))
	}

	if q.Limit < 0 {
		return galleryerrors.NewInvalidArgumentError("limit", "limit must not be negative")
	}

	if !q.Metric.IsValid() {
		return galleryerrors.NewInvalidArgumentError("metric", fmt.Sprintf("unsupported metric %q", q.Metric))
	}

	return nil
}
