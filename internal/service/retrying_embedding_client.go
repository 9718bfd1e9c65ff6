package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
)

const (
	defaultInitialBackoffWhenZero = 500 * time.Millisecond
	backoffMultiplier             = 2
)

// RetryingEmbeddingClient retries transient inference failures with exponential backoff and
// jitter. Rejections and validation errors are returned immediately. The request path does not
// use it; ingestion does.
type RetryingEmbeddingClient struct {
	inner          EmbeddingClient
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

// RetryingEmbeddingClientConfig holds configuration for the retrying client.
type RetryingEmbeddingClientConfig struct {
	MaxAttempts    int           // Total attempts including the first; values below 1 mean 1.
	InitialBackoff time.Duration // Backoff after the first failure; doubles each attempt, capped by MaxBackoff.
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// NewRetryingEmbeddingClient returns an EmbeddingClient that retries InferenceUnavailable errors.
func NewRetryingEmbeddingClient(inner EmbeddingClient, cfg RetryingEmbeddingClientConfig) *RetryingEmbeddingClient {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoffWhenZero
	}

	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RetryingEmbeddingClient{
		inner:          inner,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger,
	}
}

// Embed calls the inner client, retrying only transient failures. Respects context cancellation during backoff.
func (r *RetryingEmbeddingClient) Embed(ctx context.Context, input models.MediaInput) ([]float32, error) {
	var lastErr error

	backoff := r.initialBackoff

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		vec, err := r.inner.Embed(ctx, input)
		if err == nil {
			return vec, nil
		}

		lastErr = err

		if !galleryerrors.IsRetryable(err) || attempt == r.maxAttempts {
			break
		}

		sleep := jitter(backoff)
		r.logger.Warn("embedding failed, retrying after backoff",
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"backoff", sleep,
			"error", err,
		)

		if err := sleepCtx(ctx, sleep); err != nil {
			return nil, err
		}

		backoff = min(backoff*backoffMultiplier, r.maxBackoff)
	}

	return nil, lastErr
}

// jitter returns a duration between 50% and 100% of duration to avoid thundering herd.
func jitter(duration time.Duration) time.Duration {
	const jitterHalf = 2

	half := duration / jitterHalf

	if half <= 0 {
		return duration
	}

	var buf [8]byte

	if _, err := rand.Read(buf[:]); err != nil {
		return half
	}

	randVal := binary.BigEndian.Uint64(buf[:])

	//nolint:gosec // G115: modulo result is in [0, half), safe to convert to int64
	jitterNanos := int64(randVal % uint64(half.Nanoseconds()))

	return half + time.Duration(jitterNanos)
}

// sleepCtx blocks for d or until ctx is cancelled; returns ctx.Err() if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

var _ EmbeddingClient = (*RetryingEmbeddingClient)(nil)
