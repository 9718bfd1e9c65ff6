package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/observability"
	"github.com/mediaembed/gallery/internal/service"
	"github.com/mediaembed/gallery/internal/workers"
)

// ErrPoolRequired is returned when no Postgres pool is supplied.
var ErrPoolRequired = errors.New("jobs: postgres pool is required")

// EmbeddingCreator stores an embedding under a caller-chosen id.
type EmbeddingCreator interface {
	CreateWithID(ctx context.Context, id string, input models.MediaInput) (*models.CreateEmbeddingResponse, error)
}

// ClientParams configures the River client.
type ClientParams struct {
	Pool        *pgxpool.Pool
	Creator     EmbeddingCreator
	Concurrency int
	Timeout     time.Duration
	Metrics     observability.JobMetrics
	Logger      *slog.Logger
}

// Migrate brings the River schema up to date.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return ErrPoolRequired
	}

	if logger == nil {
		logger = slog.Default()
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), &rivermigrate.Config{Logger: logger})
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("migrate river schema: %w", err)
	}

	for _, v := range res.Versions {
		logger.Info("river migration applied", "version", v.Version)
	}

	return nil
}

// NewClient creates a River client that works the embed_media queue.
func NewClient(p ClientParams) (*river.Client[pgx.Tx], error) {
	if p.Pool == nil {
		return nil, ErrPoolRequired
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewEmbedMediaWorker(p.Creator, p.Timeout, p.Metrics, logger))

	client, err := river.NewClient(riverpgxv5.New(p.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			service.EmbeddingsQueueName: {MaxWorkers: concurrency},
		},
		Workers:      riverWorkers,
		ErrorHandler: NewErrorHandler(logger),
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create River client: %w", err)
	}

	return client, nil
}
