package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
)

// Limits for the RPC surface.
const (
	DefaultSearchLimit  = 20
	DefaultRandomLimit  = 20
	DefaultListLimit    = 20
	DefaultSimilarLimit = 10
	MinSimilarLimit     = 5
	MaxSimilarLimit     = 50
)

// EmbeddingsRepository is the store capability the service needs.
type EmbeddingsRepository interface {
	Insert(ctx context.Context, rec models.EmbeddingRecord) error
	GetByID(ctx context.Context, id string) (*models.EmbeddingRecord, error)
	ListRecent(ctx context.Context, limit, offset int) ([]models.EmbeddingRecord, error)
	Count(ctx context.Context) (int64, error)
	SampleRandom(ctx context.Context, limit int) ([]models.EmbeddingRecord, error)
	NearestNeighbors(ctx context.Context, q models.NearestQuery) ([]models.SearchResult, error)
	Delete(ctx context.Context, id string) error
}

// EmbeddingsService creates, searches, and lists embedding records.
type EmbeddingsService struct {
	client        EmbeddingClient
	repo          EmbeddingsRepository
	dimension     int
	defaultMetric models.Metric
	now           func() time.Time
	newID         func() string
	logger        *slog.Logger
}

// EmbeddingsServiceParams configures EmbeddingsService. Now and NewID default to time.Now and uuid v4.
type EmbeddingsServiceParams struct {
	Client        EmbeddingClient
	Repo          EmbeddingsRepository
	Dimension     int
	DefaultMetric models.Metric
	Now           func() time.Time
	NewID         func() string
	Logger        *slog.Logger
}

// NewEmbeddingsService creates an EmbeddingsService.
func NewEmbeddingsService(p EmbeddingsServiceParams) *EmbeddingsService {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := p.Now
	if now == nil {
		now = time.Now
	}

	newID := p.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	metric := p.DefaultMetric
	if !metric.IsValid() {
		metric = models.MetricCosine
	}

	return &EmbeddingsService{
		client:        p.Client,
		repo:          p.Repo,
		dimension:     p.Dimension,
		defaultMetric: metric,
		now:           now,
		newID:         newID,
		logger:        logger,
	}
}

// Dimension returns the deployment vector length.
func (s *EmbeddingsService) Dimension() int {
	return s.dimension
}

// Create embeds input and stores it under a fresh id.
func (s *EmbeddingsService) Create(ctx context.Context, input models.MediaInput) (*models.CreateEmbeddingResponse, error) {
	return s.CreateWithID(ctx, s.newID(), input)
}

// CreateWithID embeds input and stores it under id, replacing an existing record with that id.
// Background jobs use it so a retried job does not create duplicates.
func (s *EmbeddingsService) CreateWithID(ctx context.Context, id string, input models.MediaInput) (*models.CreateEmbeddingResponse, error) {
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return nil, err
	}

	if id == "" {
		return nil, galleryerrors.NewInvalidArgumentError("id", "id is required")
	}

	vector, err := s.embed(ctx, input)
	if err != nil {
		return nil, err
	}

	rec := models.EmbeddingRecord{
		ID:        id,
		Vector:    vector,
		Text:      input.Text,
		ImageURL:  input.ImageURL,
		VideoURL:  input.VideoURL,
		CreatedAt: s.now().UTC(),
	}

	if err := s.repo.Insert(ctx, rec); err != nil {
		s.logger.Error("create embedding: insert failed", "id", id, "error", err)

		return nil, fmt.Errorf("insert embedding: %w", err)
	}

	s.logger.Info("embedding created", "id", id, "media_kind", rec.MediaKind())

	return &models.CreateEmbeddingResponse{ID: id, Dimension: len(vector)}, nil
}

func (s *EmbeddingsService) embed(ctx context.Context, input models.MediaInput) ([]float32, error) {
	vector, err := s.client.Embed(ctx, input)
	if err != nil {
		s.logger.Warn("embed failed", "error", err, "retryable", galleryerrors.IsRetryable(err))

		return nil, fmt.Errorf("embed: %w", err)
	}

	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, galleryerrors.NewDimensionMismatchError(s.dimension, len(vector))
	}

	return vector, nil
}

// Get returns one record, including its vector.
func (s *EmbeddingsService) Get(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	if id == "" {
		return nil, galleryerrors.NewInvalidArgumentError("id", "id is required")
	}

	return s.repo.GetByID(ctx, id)
}

// SearchParams describes a query-by-media search. Limit 0 means DefaultSearchLimit and an empty
// Metric means the deployment default.
type SearchParams struct {
	Input     models.MediaInput
	Limit     int
	Metric    models.Metric
	Threshold *float64
}

// Search embeds the input once and returns nearest neighbors by ascending distance.
func (s *EmbeddingsService) Search(ctx context.Context, p SearchParams) ([]models.SearchResult, error) {
	input := p.Input.Normalize()
	if err := input.Validate(); err != nil {
		return nil, err
	}

	limit, err := limitInRange("limit", p.Limit, DefaultSearchLimit, 1, models.MaxPageSize)
	if err != nil {
		return nil, err
	}

	metric, err := s.metric(p.Metric)
	if err != nil {
		return nil, err
	}

	if err := validateThreshold(p.Threshold); err != nil {
		return nil, err
	}

	vector, err := s.embed(ctx, input)
	if err != nil {
		return nil, err
	}

	results, err := s.repo.NearestNeighbors(ctx, models.NearestQuery{
		Vector:      vector,
		Limit:       limit,
		Metric:      metric,
		MaxDistance: p.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("nearest neighbors: %w", err)
	}

	return stripResultVectors(results), nil
}

// SimilarParams configures FindSimilar. Limit 0 means DefaultSimilarLimit.
type SimilarParams struct {
	Limit     int
	Metric    models.Metric
	Threshold *float64
}

// FindSimilar returns the records nearest to an existing record's vector, excluding the record itself.
func (s *EmbeddingsService) FindSimilar(ctx context.Context, videoID string, p SimilarParams) (*models.SimilarResponse, error) {
	if videoID == "" {
		return nil, galleryerrors.NewInvalidArgumentError("id", "id is required")
	}

	limit, err := limitInRange("limit", p.Limit, DefaultSimilarLimit, MinSimilarLimit, MaxSimilarLimit)
	if err != nil {
		return nil, err
	}

	metric, err := s.metric(p.Metric)
	if err != nil {
		return nil, err
	}

	if err := validateThreshold(p.Threshold); err != nil {
		return nil, err
	}

	source, err := s.repo.GetByID(ctx, videoID)
	if err != nil {
		return nil, err
	}

	// One extra row covers backends that ignore the exclusion filter.
	results, err := s.repo.NearestNeighbors(ctx, models.NearestQuery{
		Vector:      source.Vector,
		Limit:       limit + 1,
		Metric:      metric,
		MaxDistance: p.Threshold,
		ExcludeID:   source.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("nearest neighbors: %w", err)
	}

	similar := make([]models.SearchResult, 0, min(len(results), limit))
	for _, r := range results {
		if r.ID == source.ID {
			continue
		}

		if len(similar) == limit {
			break
		}

		similar = append(similar, r)
	}

	return &models.SimilarResponse{
		SourceVideo:   source.WithoutVector(),
		SimilarVideos: stripResultVectors(similar),
	}, nil
}

// Random returns up to limit records sampled without replacement.
func (s *EmbeddingsService) Random(ctx context.Context, limit int) ([]models.EmbeddingRecord, error) {
	limit, err := limitInRange("limit", limit, DefaultRandomLimit, 1, models.MaxPageSize)
	if err != nil {
		return nil, err
	}

	recs, err := s.repo.SampleRandom(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("sample random: %w", err)
	}

	return stripVectors(recs), nil
}

// List returns one page of records, newest first, with the total count.
func (s *EmbeddingsService) List(ctx context.Context, limit, offset int) (*models.ListResponse, error) {
	limit, err := limitInRange("limit", limit, DefaultListLimit, 1, models.MaxPageSize)
	if err != nil {
		return nil, err
	}

	if offset < 0 {
		return nil, galleryerrors.NewInvalidArgumentError("offset", "offset must not be negative")
	}

	recs, err := s.repo.ListRecent(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}

	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	return &models.ListResponse{
		Embeddings: stripVectors(recs),
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// Delete removes a record. Deleting an unknown id succeeds.
func (s *EmbeddingsService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return galleryerrors.NewInvalidArgumentError("id", "id is required")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}

	s.logger.Info("embedding deleted", "id", id)

	return nil
}

func (s *EmbeddingsService) metric(m models.Metric) (models.Metric, error) {
	if m == "" {
		return s.defaultMetric, nil
	}

	return models.ParseMetric(string(m))
}

// limitInRange applies the default for 0 and rejects values outside [lo, hi].
func limitInRange(field string, limit, def, lo, hi int) (int, error) {
	if limit == 0 {
		return def, nil
	}

	if limit < lo || limit > hi {
		return 0, galleryerrors.NewInvalidArgumentError(field, fmt.Sprintf("%s must be between %d and %d", field, lo, hi))
	}

	return limit, nil
}

func validateThreshold(t *float64) error {
	if t != nil && *t < 0 {
		return galleryerrors.NewInvalidArgumentError("threshold", "threshold must not be negative")
	}

	return nil
}

func stripVectors(recs []models.EmbeddingRecord) []models.EmbeddingRecord {
	out := make([]models.EmbeddingRecord, len(recs))
	for i, r := range recs {
		out[i] = r.WithoutVector()
	}

	return out
}

func stripResultVectors(results []models.SearchResult) []models.SearchResult {
	out := make([]models.SearchResult, len(results))
	for i, r := range results {
		r.EmbeddingRecord = r.EmbeddingRecord.WithoutVector()
		out[i] = r
	}

	return out
}
