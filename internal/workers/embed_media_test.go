package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/service"
)

type fakeCreator struct {
	err   error
	id    string
	input models.MediaInput
}

func (f *fakeCreator) CreateWithID(_ context.Context, id string, input models.MediaInput) (*models.CreateEmbeddingResponse, error) {
	f.id = id
	f.input = input

	if f.err != nil {
		return nil, f.err
	}

	return &models.CreateEmbeddingResponse{ID: id, Dimension: 3}, nil
}

type recordedOutcome struct {
	status string
}

type fakeJobMetrics struct {
	outcomes []recordedOutcome
}

func (m *fakeJobMetrics) RecordJobsEnqueued(context.Context, int64) {}

func (m *fakeJobMetrics) RecordJobOutcome(_ context.Context, status string, _ time.Duration) {
	m.outcomes = append(m.outcomes, recordedOutcome{status: status})
}

func (m *fakeJobMetrics) SetRiverQueueDepth(int) {}

func newJob(attempt, maxAttempts int) *river.Job[service.EmbedMediaArgs] {
	return &river.Job[service.EmbedMediaArgs]{
		JobRow: &rivertype.JobRow{ID: 1, Attempt: attempt, MaxAttempts: maxAttempts},
		Args:   service.EmbedMediaArgs{RecordID: "rec-1", Text: "cat", VideoURL: "https://cdn/cat.mp4"},
	}
}

func TestEmbedMediaWorker_Work(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the record under the job id", func(t *testing.T) {
		creator := &fakeCreator{}
		metrics := &fakeJobMetrics{}
		worker := NewEmbedMediaWorker(creator, 0, metrics, nil)

		require.NoError(t, worker.Work(ctx, newJob(1, 3)))
		assert.Equal(t, "rec-1", creator.id)
		assert.Equal(t, models.MediaInput{Text: "cat", VideoURL: "https://cdn/cat.mp4"}, creator.input)
		assert.Equal(t, []recordedOutcome{{outcomeSuccess}}, metrics.outcomes)
	})

	t.Run("inference unavailable is retried", func(t *testing.T) {
		creator := &fakeCreator{err: galleryerrors.NewUnavailableError(galleryerrors.ServiceInference, errors.New("503"))}
		metrics := &fakeJobMetrics{}
		worker := NewEmbedMediaWorker(creator, 0, metrics, nil)

		err := worker.Work(ctx, newJob(1, 3))
		require.ErrorIs(t, err, galleryerrors.ErrInferenceUnavailable)

		var cancel *rivertype.JobCancelError
		assert.False(t, errors.As(err, &cancel))
		assert.Equal(t, []recordedOutcome{{outcomeRetry}}, metrics.outcomes)
	})

	t.Run("last attempt is recorded as final", func(t *testing.T) {
		creator := &fakeCreator{err: galleryerrors.NewUnavailableError(galleryerrors.ServiceStore, errors.New("conn reset"))}
		metrics := &fakeJobMetrics{}
		worker := NewEmbedMediaWorker(creator, 0, metrics, nil)

		require.Error(t, worker.Work(ctx, newJob(3, 3)))
		assert.Equal(t, []recordedOutcome{{outcomeFailedFinal}}, metrics.outcomes)
	})

	t.Run("rejection cancels the job", func(t *testing.T) {
		creator := &fakeCreator{err: galleryerrors.NewInferenceRejectedError(422, "unsupported codec")}
		metrics := &fakeJobMetrics{}
		worker := NewEmbedMediaWorker(creator, 0, metrics, nil)

		err := worker.Work(ctx, newJob(1, 3))

		var cancel *rivertype.JobCancelError
		require.ErrorAs(t, err, &cancel)
		assert.ErrorIs(t, err, galleryerrors.ErrInferenceRejected)
		assert.Equal(t, []recordedOutcome{{outcomeFailedFinal}}, metrics.outcomes)
	})

	t.Run("invalid input cancels the job", func(t *testing.T) {
		creator := &fakeCreator{err: galleryerrors.NewInvalidArgumentError("input", "empty")}
		worker := NewEmbedMediaWorker(creator, 0, nil, nil)

		var cancel *rivertype.JobCancelError
		require.ErrorAs(t, worker.Work(ctx, newJob(1, 3)), &cancel)
	})

	t.Run("dimension mismatch cancels the job", func(t *testing.T) {
		creator := &fakeCreator{err: galleryerrors.NewDimensionMismatchError(3, 4)}
		worker := NewEmbedMediaWorker(creator, 0, nil, nil)

		var cancel *rivertype.JobCancelError
		require.ErrorAs(t, worker.Work(ctx, newJob(1, 3)), &cancel)
	})
}

func TestEmbedMediaWorker_Timeout(t *testing.T) {
	assert.Equal(t, defaultEmbedMediaTimeout, NewEmbedMediaWorker(&fakeCreator{}, 0, nil, nil).Timeout(nil))
	assert.Equal(t, time.Minute, NewEmbedMediaWorker(&fakeCreator{}, time.Minute, nil, nil).Timeout(nil))
}
