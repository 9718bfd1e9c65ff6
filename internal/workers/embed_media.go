// Package workers provides River job workers.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/observability"
	"github.com/mediaembed/gallery/internal/service"
)

const (
	outcomeSuccess     = "success"
	outcomeRetry       = "retry"
	outcomeFailedFinal = "failed_final"
)

// embeddingCreator is the minimal interface needed by the worker.
type embeddingCreator interface {
	CreateWithID(ctx context.Context, id string, input models.MediaInput) (*models.CreateEmbeddingResponse, error)
}

// EmbedMediaWorker embeds one media input and stores it under the job's record id.
type EmbedMediaWorker struct {
	river.WorkerDefaults[service.EmbedMediaArgs]

	creator embeddingCreator
	timeout time.Duration
	metrics observability.JobMetrics
	logger  *slog.Logger
}

const defaultEmbedMediaTimeout = 5 * time.Minute

// NewEmbedMediaWorker creates the worker. timeout <= 0 uses five minutes, which covers fal video
// inference. metrics may be nil when metrics are disabled.
func NewEmbedMediaWorker(creator embeddingCreator, timeout time.Duration, metrics observability.JobMetrics, logger *slog.Logger) *EmbedMediaWorker {
	if timeout <= 0 {
		timeout = defaultEmbedMediaTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &EmbedMediaWorker{creator: creator, timeout: timeout, metrics: metrics, logger: logger}
}

// Timeout limits how long a single embedding job can run.
func (w *EmbedMediaWorker) Timeout(*river.Job[service.EmbedMediaArgs]) time.Duration {
	return w.timeout
}

// Work embeds and stores the input. Transient failures return an error so River retries;
// rejected or invalid input cancels the job.
func (w *EmbedMediaWorker) Work(ctx context.Context, job *river.Job[service.EmbedMediaArgs]) error {
	args := job.Args
	start := time.Now()

	resp, err := w.creator.CreateWithID(ctx, args.RecordID, args.Input())
	if err == nil {
		w.record(ctx, outcomeSuccess, start)
		w.logger.Info("embedding: stored", "record_id", resp.ID, "job_id", job.ID, "attempt", job.Attempt)

		return nil
	}

	if isFinal(err) {
		w.record(ctx, outcomeFailedFinal, start)
		w.logger.Error("embedding: rejected, cancelling job",
			"record_id", args.RecordID,
			"job_id", job.ID,
			"error", err,
		)

		return river.JobCancel(err)
	}

	if job.Attempt >= job.MaxAttempts {
		w.record(ctx, outcomeFailedFinal, start)
		w.logger.Error("embedding: failed (final attempt)",
			"record_id", args.RecordID,
			"job_id", job.ID,
			"attempt", job.Attempt,
			"error", err,
		)
	} else {
		w.record(ctx, outcomeRetry, start)
		w.logger.Warn("embedding: failed, will retry",
			"record_id", args.RecordID,
			"job_id", job.ID,
			"attempt", job.Attempt,
			"max_attempts", job.MaxAttempts,
			"error", err,
		)
	}

	return fmt.Errorf("embed media: %w", err)
}

func (w *EmbedMediaWorker) record(ctx context.Context, outcome string, start time.Time) {
	if w.metrics != nil {
		w.metrics.RecordJobOutcome(ctx, outcome, time.Since(start))
	}
}

// isFinal reports errors that retrying cannot fix.
func isFinal(err error) bool {
	if galleryerrors.IsRetryable(err) {
		return false
	}

	var shape *galleryerrors.ShapeError

	return errors.Is(err, galleryerrors.ErrInferenceRejected) ||
		errors.Is(err, galleryerrors.ErrInvalidArgument) ||
		errors.As(err, &shape)
}
