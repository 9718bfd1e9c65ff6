package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaembed/gallery/internal/galleryerrors"
)

type fakeRow struct {
	count int
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}

	*(dest[0].(*int)) = r.count

	return nil
}

type fakeDB struct {
	row   fakeRow
	query string
	args  []any
}

func (d *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	d.query = sql
	d.args = args

	return d.row
}

type depthMetrics struct {
	depth atomic.Int64
	sets  atomic.Int64
}

func (m *depthMetrics) RecordJobsEnqueued(context.Context, int64)               {}
func (m *depthMetrics) RecordJobOutcome(context.Context, string, time.Duration) {}

func (m *depthMetrics) SetRiverQueueDepth(depth int) {
	m.depth.Store(int64(depth))
	m.sets.Add(1)
}

func TestQueueDepth(t *testing.T) {
	db := &fakeDB{row: fakeRow{count: 7}}

	count, err := queueDepth(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.Contains(t, db.query, "river_job")
	assert.Equal(t, "embed_media", db.args[0])
	assert.Equal(t, rivertype.JobStateAvailable, db.args[1])
}

func TestRunQueueDepthPoller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	metrics := &depthMetrics{}

	done := make(chan struct{})
	go func() {
		RunQueueDepthPoller(ctx, &fakeDB{row: fakeRow{count: 4}}, metrics, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool { return metrics.sets.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(4), metrics.depth.Load())

	cancel()
	<-done
}

func TestRunQueueDepthPoller_ErrorKeepsGauge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	metrics := &depthMetrics{}
	RunQueueDepthPoller(ctx, &fakeDB{row: fakeRow{err: errors.New("no table")}}, metrics, time.Hour)
	assert.Equal(t, int64(0), metrics.sets.Load())
}

func TestNewClient_RequiresPool(t *testing.T) {
	_, err := NewClient(ClientParams{})
	require.ErrorIs(t, err, ErrPoolRequired)

	require.ErrorIs(t, Migrate(context.Background(), nil, nil), ErrPoolRequired)
}

func TestErrorHandler_DefaultsToRetry(t *testing.T) {
	h := NewErrorHandler(nil)
	job := &rivertype.JobRow{ID: 1, Kind: "embed_media", Attempt: 1, MaxAttempts: 3}

	assert.Nil(t, h.HandleError(context.Background(), job, errors.New("boom")))
	assert.Nil(t, h.HandlePanic(context.Background(), job, "boom", "stack"))
}

func TestWillRetry(t *testing.T) {
	unavailable := galleryerrors.NewUnavailableError(galleryerrors.ServiceInference, errors.New("503"))
	rejected := galleryerrors.NewInferenceRejectedError(400, "bad url")

	assert.True(t, willRetry(&rivertype.JobRow{Attempt: 1, MaxAttempts: 3}, unavailable))
	assert.False(t, willRetry(&rivertype.JobRow{Attempt: 3, MaxAttempts: 3}, unavailable))
	assert.False(t, willRetry(&rivertype.JobRow{Attempt: 1, MaxAttempts: 3}, rejected))
}
