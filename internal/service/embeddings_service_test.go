package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/repository"
)

const testDim = 3

// fakeEmbedder maps text to fixed vectors; image and video inputs map by URL.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, in models.MediaInput) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	for _, key := range []string{in.Text, in.ImageURL, in.VideoURL} {
		if v, ok := f.vectors[key]; ok {
			return v, nil
		}
	}

	return []float32{1, 1, 1}, nil
}

func newTestService(t *testing.T, emb *fakeEmbedder) (*EmbeddingsService, *repository.MemoryStore) {
	t.Helper()

	store := repository.NewMemoryStore(testDim)
	seq := 0

	svc := NewEmbeddingsService(EmbeddingsServiceParams{
		Client:        emb,
		Repo:          store,
		Dimension:     testDim,
		DefaultMetric: models.MetricCosine,
		Now: func() time.Time {
			seq++

			return time.Date(2025, 1, 1, 0, seq, 0, 0, time.UTC)
		},
		NewID: func() string { return fmt.Sprintf("id-%02d", seq+1) },
	})

	return svc, store
}

func seedStore(t *testing.T, store *repository.MemoryStore) {
	t.Helper()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []models.EmbeddingRecord{
		{ID: "cat-1", Vector: []float32{1, 0, 0}, Text: "cat", VideoURL: "https://cdn/cat1.mp4", CreatedAt: base.Add(time.Minute)},
		{ID: "cat-2", Vector: []float32{0.9, 0.1, 0}, Text: "kitten", VideoURL: "https://cdn/cat2.mp4", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "dog-1", Vector: []float32{0, 1, 0}, Text: "dog", VideoURL: "https://cdn/dog1.mp4", CreatedAt: base.Add(3 * time.Minute)},
		{ID: "sky-1", Vector: []float32{0, 0, 1}, ImageURL: "https://cdn/sky.png", CreatedAt: base.Add(4 * time.Minute)},
	}
	require.NoError(t, store.InsertBatch(context.Background(), recs))
}

func TestEmbeddingsService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("valid inputs succeed", func(t *testing.T) {
		inputs := []models.MediaInput{
			{Text: "a cat"},
			{ImageURL: "https://cdn/a.png"},
			{VideoURL: "https://cdn/a.mp4"},
			{Text: "t", ImageURL: "https://cdn/b.png", VideoURL: "https://cdn/b.mp4"},
		}

		emb := &fakeEmbedder{}
		svc, store := newTestService(t, emb)

		for _, in := range inputs {
			resp, err := svc.Create(ctx, in)
			require.NoError(t, err)
			assert.NotEmpty(t, resp.ID)
			assert.Equal(t, testDim, resp.Dimension)

			got, err := store.GetByID(ctx, resp.ID)
			require.NoError(t, err)
			assert.Equal(t, in.Text, got.Text)
			assert.Equal(t, in.VideoURL, got.VideoURL)
		}

		assert.Equal(t, len(inputs), emb.calls)
	})

	t.Run("all empty is InvalidArgument without a remote call", func(t *testing.T) {
		emb := &fakeEmbedder{}
		svc, _ := newTestService(t, emb)

		_, err := svc.Create(ctx, models.MediaInput{Text: "  "})
		require.ErrorIs(t, err, galleryerrors.ErrInvalidArgument)
		assert.Zero(t, emb.calls)
	})

	t.Run("inference errors keep their kind", func(t *testing.T) {
		emb := &fakeEmbedder{err: galleryerrors.NewInferenceRejectedError(400, "bad url")}
		svc, store := newTestService(t, emb)

		_, err := svc.Create(ctx, models.MediaInput{VideoURL: "nope"})
		require.ErrorIs(t, err, galleryerrors.ErrInferenceRejected)

		n, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("wrong vector length is DimensionMismatch", func(t *testing.T) {
		emb := &fakeEmbedder{vectors: map[string][]float32{"short": {1, 2}}}
		svc, _ := newTestService(t, emb)

		_, err := svc.Create(ctx, models.MediaInput{Text: "short"})
		require.ErrorIs(t, err, galleryerrors.ErrDimensionMismatch)
	})

	t.Run("CreateWithID replaces", func(t *testing.T) {
		svc, store := newTestService(t, &fakeEmbedder{})

		_, err := svc.CreateWithID(ctx, "job-1", models.MediaInput{Text: "first"})
		require.NoError(t, err)
		_, err = svc.CreateWithID(ctx, "job-1", models.MediaInput{Text: "second"})
		require.NoError(t, err)

		n, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := store.GetByID(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "second", got.Text)
	})
}

func TestEmbeddingsService_Search(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float32{"cat": {1, 0, 0}}}
	svc, store := newTestService(t, emb)
	seedStore(t, store)

	t.Run("sorted by non-decreasing distance", func(t *testing.T) {
		results, err := svc.Search(ctx, SearchParams{Input: models.MediaInput{Text: "cat"}})
		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.Equal(t, "cat-1", results[0].ID)

		for i := 1; i < len(results); i++ {
			assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
			assert.Equal(t, models.MetricCosine, results[i].Metric)
			assert.Nil(t, results[i].Vector)
		}
	})

	t.Run("threshold excludes far results", func(t *testing.T) {
		threshold := 0.1
		results, err := svc.Search(ctx, SearchParams{Input: models.MediaInput{Text: "cat"}, Threshold: &threshold})
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("explicit metric", func(t *testing.T) {
		results, err := svc.Search(ctx, SearchParams{Input: models.MediaInput{Text: "cat"}, Limit: 1, Metric: models.MetricL2})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, models.MetricL2, results[0].Metric)
		assert.InDelta(t, 0, results[0].Distance, 1e-9)
	})

	t.Run("limit above 100 is InvalidArgument", func(t *testing.T) {
		_, err := svc.Search(ctx, SearchParams{Input: models.MediaInput{Text: "cat"}, Limit: 101})
		assert.ErrorIs(t, err, galleryerrors.ErrInvalidArgument)
	})

	t.Run("unknown metric is InvalidArgument", func(t *testing.T) {
		_, err := svc.Search(ctx, SearchParams{Input: models.MediaInput{Text: "cat"}, Metric: "hamming"})
		assert.ErrorIs(t, err, galleryerrors.ErrInvalidArgument)
	})

	t.Run("empty input is InvalidArgument", func(t *testing.T) {
		_, err := svc.Search(ctx, SearchParams{})
		assert.ErrorIs(t, err, galleryerrors.ErrInvalidArgument)
	})
}

func TestEmbeddingsService_FindSimilar(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, &fakeEmbedder{})
	seedStore(t, store)

	t.Run("excludes the source", func(t *testing.T) {
		resp, err := svc.FindSimilar(ctx, "cat-1", SimilarParams{Limit: 5})
		require.NoError(t, err)
		assert.Equal(t, "cat-1", resp.SourceVideo.ID)
		assert.Nil(t, resp.SourceVideo.Vector)
		require.Len(t, resp.SimilarVideos, 3)
		assert.Equal(t, "cat-2", resp.SimilarVideos[0].ID)

		for _, r := range resp.SimilarVideos {
			assert.NotEqual(t, "cat-1", r.ID)
		}
	})

	t.Run("missing source is NotFound", func(t *testing.T) {
		_, err := svc.FindSimilar(ctx, "nope", SimilarParams{})
		assert.ErrorIs(t, err, galleryerrors.ErrNotFound)
	})

	t.Run("limit outside 5..50 is InvalidArgument", func(t *testing.T) {
		for _, limit := range []int{1, 4, 51} {
			_, err := svc.FindSimilar(ctx, "cat-1", SimilarParams{Limit: limit})
			assert.ErrorIs(t, err, galleryerrors.ErrInvalidArgument, "limit %d", limit)
		}
	})
}

func TestEmbeddingsService_Random(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, &fakeEmbedder{})
	seedStore(t, store)

	recs, err := svc.Random(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	seen := map[string]bool{}
	for _, r := range recs {
		assert.False(t, seen[r.ID], "duplicate %s", r.ID)
		assert.Nil(t, r.Vector)
		seen[r.ID] = true
	}

	_, err = svc.Random(ctx, 101)
	assert.ErrorIs(t, err, galleryerrors.ErrInvalidArgument)

	_, err = svc.Random(ctx, -1)
	assert.ErrorIs(t, err, galleryerrors.ErrInvalidArgument)
}

func TestEmbeddingsService_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, &fakeEmbedder{})
	seedStore(t, store)

	page, err := svc.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	require.Len(t, page.Embeddings, 2)
	assert.Equal(t, "sky-1", page.Embeddings[0].ID)
	assert.Equal(t, "dog-1", page.Embeddings[1].ID)

	require.NoError(t, svc.Delete(ctx, "dog-1"))
	require.NoError(t, svc.Delete(ctx, "dog-1"), "delete is idempotent")

	for offset := 0; offset < 4; offset += 2 {
		page, err := svc.List(ctx, 2, offset)
		require.NoError(t, err)

		for _, r := range page.Embeddings {
			assert.NotEqual(t, "dog-1", r.ID)
		}
	}

	_, err = svc.Get(ctx, "dog-1")
	assert.ErrorIs(t, err, galleryerrors.ErrNotFound)

	_, err = svc.List(ctx, 101, 0)
	assert.ErrorIs(t, err, galleryerrors.ErrInvalidArgument)

	_, err = svc.List(ctx, 10, -1)
	assert.ErrorIs(t, err, galleryerrors.ErrInvalidArgument)
}

func TestEmbeddingsService_StoreUnavailable(t *testing.T) {
	svc := NewEmbeddingsService(EmbeddingsServiceParams{
		Client:    &fakeEmbedder{},
		Repo:      failingRepo{err: galleryerrors.NewUnavailableError(galleryerrors.ServiceStore, errors.New("dial"))},
		Dimension: testDim,
	})

	_, err := svc.Random(context.Background(), 5)
	assert.ErrorIs(t, err, galleryerrors.ErrStoreUnavailable)

	_, err = svc.Create(context.Background(), models.MediaInput{Text: "cat"})
	assert.ErrorIs(t, err, galleryerrors.ErrStoreUnavailable)
}

type failingRepo struct {
	err error
}

func (f failingRepo) Insert(context.Context, models.EmbeddingRecord) error { return f.err }
func (f failingRepo) GetByID(context.Context, string) (*models.EmbeddingRecord, error) {
	return nil, f.err
}

func (f failingRepo) ListRecent(context.Context, int, int) ([]models.EmbeddingRecord, error) {
	return nil, f.err
}
func (f failingRepo) Count(context.Context) (int64, error) { return 0, f.err }
func (f failingRepo) SampleRandom(context.Context, int) ([]models.EmbeddingRecord, error) {
	return nil, f.err
}

func (f failingRepo) NearestNeighbors(context.Context, models.NearestQuery) ([]models.SearchResult, error) {
	return nil, f.err
}
func (f failingRepo) Delete(context.Context, string) error { return f.err }
