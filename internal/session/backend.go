package session

import (
	"context"

	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/service"
)

// Backend performs the remote calls a session issues.
type Backend interface {
	Search(ctx context.Context, req models.SearchRequest) ([]models.SearchResult, error)
	Random(ctx context.Context, limit int) ([]models.EmbeddingRecord, error)
}

// embeddingsService is the part of service.EmbeddingsService a ServiceBackend needs.
type embeddingsService interface {
	Search(ctx context.Context, p service.SearchParams) ([]models.SearchResult, error)
	Random(ctx context.Context, limit int) ([]models.EmbeddingRecord, error)
}

// ServiceBackend runs session requests in-process against the embeddings service.
type ServiceBackend struct {
	svc embeddingsService
}

// NewServiceBackend creates a Backend over svc.
func NewServiceBackend(svc embeddingsService) *ServiceBackend {
	return &ServiceBackend{svc: svc}
}

// Search embeds the query and returns its nearest neighbors.
func (b *ServiceBackend) Search(ctx context.Context, req models.SearchRequest) ([]models.SearchResult, error) {
	return b.svc.Search(ctx, service.SearchParams{
		Input:     req.Input(),
		Limit:     req.Limit,
		Metric:    models.Metric(req.Metric),
		Threshold: req.Threshold,
	})
}

// Random samples records without replacement.
func (b *ServiceBackend) Random(ctx context.Context, limit int) ([]models.EmbeddingRecord, error) {
	return b.svc.Random(ctx, limit)
}

var _ Backend = (*ServiceBackend)(nil)
