// Package provider builds the configured query embedding generator.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mediaembed/gallery/internal/config"
	"github.com/mediaembed/gallery/internal/fal"
	"github.com/mediaembed/gallery/internal/googleai"
	"github.com/mediaembed/gallery/internal/observability"
	"github.com/mediaembed/gallery/internal/openai"
	"github.com/mediaembed/gallery/internal/service"
)

// New returns the EmbeddingClient selected by EMBEDDING_PROVIDER, instrumented when metrics is
// non-nil. retryMax overrides FAL_RETRY_MAX when positive.
func New(ctx context.Context, cfg *config.Config, retryMax int, metrics observability.InferenceMetrics, logger *slog.Logger) (service.EmbeddingClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var client service.EmbeddingClient

	switch cfg.EmbeddingProvider {
	case config.ProviderFal:
		if retryMax <= 0 {
			retryMax = cfg.FalRetryMax
		}

		falClient, err := fal.NewClient(fal.Options{
			Endpoint:  cfg.FalEndpoint,
			Key:       cfg.FalKey,
			Dimension: cfg.EmbeddingDimension,
			Timeout:   cfg.FalTimeout,
			RetryMax:  retryMax,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create fal client: %w", err)
		}

		client = falClient
	case config.ProviderOpenAI:
		client = openai.NewClient(cfg.EmbeddingProviderAPIKey,
			openai.WithModel(cfg.EmbeddingModel),
			openai.WithDimensions(cfg.EmbeddingDimension),
		)
	case config.ProviderGoogle:
		googleClient, err := googleai.NewClient(ctx, cfg.EmbeddingProviderAPIKey,
			googleai.WithModel(cfg.EmbeddingModel),
			googleai.WithDimensions(cfg.EmbeddingDimension),
		)
		if err != nil {
			return nil, fmt.Errorf("create google embedding client: %w", err)
		}

		client = googleClient
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidProvider, cfg.EmbeddingProvider)
	}

	logger.Info("embedding provider ready",
		"provider", cfg.EmbeddingProvider,
		"model", cfg.EmbeddingModel,
		"dimension", cfg.EmbeddingDimension,
	)

	return service.NewInstrumentedEmbeddingClient(client, cfg.EmbeddingProvider, metrics), nil
}
