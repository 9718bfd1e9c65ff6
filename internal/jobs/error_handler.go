// Package jobs wires the River client that runs background embedding jobs.
package jobs

import (
	"context"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/mediaembed/gallery/internal/galleryerrors"
)

// ErrorHandler logs failed and panicking jobs. It leaves retry decisions to River and the
// worker: a transient inference failure is logged as a warning while attempts remain, and
// anything else as an error.
type ErrorHandler struct {
	logger *slog.Logger
}

// NewErrorHandler creates an ErrorHandler. logger may be nil.
func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &ErrorHandler{logger: logger}
}

// HandleError is called when a job returns an error.
func (h *ErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	level := slog.LevelError
	if willRetry(job, err) {
		level = slog.LevelWarn
	}

	h.logger.Log(ctx, level, "embedding job failed",
		"job_kind", job.Kind,
		"job_id", job.ID,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
		"retryable", galleryerrors.IsRetryable(err),
		"error", err,
	)

	return nil
}

// HandlePanic is called when a job panics. River marks the job errored and retries it.
func (h *ErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	h.logger.ErrorContext(ctx, "embedding job panicked",
		"job_kind", job.Kind,
		"job_id", job.ID,
		"attempt", job.Attempt,
		"panic_value", panicVal,
		"stack_trace", trace,
	)

	return nil
}

func willRetry(job *rivertype.JobRow, err error) bool {
	return galleryerrors.IsRetryable(err) && job.Attempt < job.MaxAttempts
}

var _ river.ErrorHandler = (*ErrorHandler)(nil)
