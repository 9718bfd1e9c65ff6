package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/observability"
)

const (
	embedMediaKind = "embed_media"
	// EmbeddingsQueueName is the River queue used for background embedding jobs.
	EmbeddingsQueueName = "embed_media"
)

// EmbeddingJobInserter inserts embedding jobs (e.g. River client).
type EmbeddingJobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// EmbedMediaArgs is the job payload for embedding and storing one media input.
// Uniqueness is by the media fields so resubmitting an input that is still queued returns the
// pending job instead of creating another record.
type EmbedMediaArgs struct {
	RecordID string `json:"record_id"`
	Text     string `json:"text,omitempty" river:"unique"`
	ImageURL string `json:"image_url,omitempty" river:"unique"`
	VideoURL string `json:"video_url,omitempty" river:"unique"`
}

// Kind returns the River job kind.
func (EmbedMediaArgs) Kind() string { return embedMediaKind }

// Input returns the media input carried by the job.
func (a EmbedMediaArgs) Input() models.MediaInput {
	return models.MediaInput{Text: a.Text, ImageURL: a.ImageURL, VideoURL: a.VideoURL}
}

var _ river.JobArgs = EmbedMediaArgs{}

// EmbeddingJobs enqueues embed_media jobs.
type EmbeddingJobs struct {
	inserter    EmbeddingJobInserter
	maxAttempts int
	metrics     observability.JobMetrics
	newID       func() string
	logger      *slog.Logger
}

// NewEmbeddingJobs creates an enqueuer. metrics and logger may be nil.
func NewEmbeddingJobs(inserter EmbeddingJobInserter, maxAttempts int, metrics observability.JobMetrics, logger *slog.Logger) *EmbeddingJobs {
	if logger == nil {
		logger = slog.Default()
	}

	return &EmbeddingJobs{
		inserter:    inserter,
		maxAttempts: maxAttempts,
		metrics:     metrics,
		newID:       uuid.NewString,
		logger:      logger,
	}
}

// Enqueue validates input and queues a job that will create the record under the returned id.
func (j *EmbeddingJobs) Enqueue(ctx context.Context, input models.MediaInput) (*models.EnqueueEmbeddingResponse, error) {
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return nil, err
	}

	args := EmbedMediaArgs{
		RecordID: j.newID(),
		Text:     input.Text,
		ImageURL: input.ImageURL,
		VideoURL: input.VideoURL,
	}

	res, err := j.inserter.Insert(ctx, args, &river.InsertOpts{
		Queue:       EmbeddingsQueueName,
		MaxAttempts: j.maxAttempts,
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			// River requires JobStatePending whenever ByState is set.
			ByState: []rivertype.JobState{
				rivertype.JobStatePending,
				rivertype.JobStateAvailable,
				rivertype.JobStateRunning,
				rivertype.JobStateRetryable,
				rivertype.JobStateScheduled,
			},
		},
	})
	if err != nil {
		j.logger.Error("embedding: enqueue failed", "record_id", args.RecordID, "error", err)

		return nil, fmt.Errorf("enqueue embedding job: %w", err)
	}

	recordID := args.RecordID
	if res.UniqueSkippedAsDuplicate && res.Job != nil {
		var existing EmbedMediaArgs
		if err := json.Unmarshal(res.Job.EncodedArgs, &existing); err == nil && existing.RecordID != "" {
			recordID = existing.RecordID
		}
	}

	if j.metrics != nil && !res.UniqueSkippedAsDuplicate {
		j.metrics.RecordJobsEnqueued(ctx, 1)
	}

	var jobID int64
	if res.Job != nil {
		jobID = res.Job.ID
	}

	j.logger.Info("embedding: job enqueued", "record_id", recordID, "job_id", jobID, "duplicate", res.UniqueSkippedAsDuplicate)

	return &models.EnqueueEmbeddingResponse{
		ID:        recordID,
		JobID:     jobID,
		Duplicate: res.UniqueSkippedAsDuplicate,
	}, nil
}
