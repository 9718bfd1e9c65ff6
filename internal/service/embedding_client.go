package service

import (
	"context"
	"time"

	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/observability"
)

// EmbeddingClient turns a text/image/video input into a vector.
// Implemented by provider-specific clients (fal, OpenAI, Google Gemini).
type EmbeddingClient interface {
	Embed(ctx context.Context, input models.MediaInput) ([]float32, error)
}

// InstrumentedEmbeddingClient records inference call counts and latency per provider.
type InstrumentedEmbeddingClient struct {
	next     EmbeddingClient
	provider string
	metrics  observability.InferenceMetrics
}

// NewInstrumentedEmbeddingClient wraps next. Returns next unchanged when metrics is nil.
func NewInstrumentedEmbeddingClient(next EmbeddingClient, provider string, metrics observability.InferenceMetrics) EmbeddingClient {
	if metrics == nil {
		return next
	}

	return &InstrumentedEmbeddingClient{next: next, provider: provider, metrics: metrics}
}

// Embed calls the wrapped client and records the outcome.
func (c *InstrumentedEmbeddingClient) Embed(ctx context.Context, input models.MediaInput) ([]float32, error) {
	start := time.Now()
	vec, err := c.next.Embed(ctx, input)
	c.metrics.RecordInference(ctx, c.provider, time.Since(start), err)

	return vec, err
}
