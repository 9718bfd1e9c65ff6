package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaembed/gallery/internal/api/response"
	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/repository"
	"github.com/mediaembed/gallery/internal/service"
	"github.com/mediaembed/gallery/internal/session"
)

// wordEmbedder maps a few words onto axis vectors.
type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, in models.MediaInput) ([]float32, error) {
	switch in.Text {
	case "cat":
		return []float32{1, 0, 0}, nil
	case "kitten":
		return []float32{0.9, 0.1, 0}, nil
	case "dog":
		return []float32{0, 1, 0}, nil
	case "down":
		return nil, galleryerrors.NewUnavailableError(galleryerrors.ServiceInference, errors.New("dial tcp 10.1.2.3:443: i/o timeout"))
	case "reject":
		return nil, galleryerrors.NewInferenceRejectedError(400, "unsupported media")
	default:
		return []float32{0, 0, 1}, nil
	}
}

type testServer struct {
	mux      *http.ServeMux
	store    *repository.MemoryStore
	svc      *service.EmbeddingsService
	registry *session.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := repository.NewMemoryStore(3)
	next := 0

	svc := service.NewEmbeddingsService(service.EmbeddingsServiceParams{
		Client:    wordEmbedder{},
		Repo:      store,
		Dimension: 3,
		NewID: func() string {
			next++

			return fmt.Sprintf("rec-%d", next)
		},
	})

	registry := session.NewRegistry(session.RegistryParams{
		NewController: func(id string) *session.Controller {
			return session.NewController(session.ControllerParams{
				ID:       id,
				Backend:  session.NewServiceBackend(svc),
				Debounce: time.Millisecond,
			})
		},
	})
	t.Cleanup(registry.Close)

	emb := NewEmbeddingsHandler(svc)
	sessions := NewSessionsHandler(registry, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/embeddings", emb.Create)
	mux.HandleFunc("POST /v1/embeddings/search", emb.Search)
	mux.HandleFunc("GET /v1/embeddings/random", emb.Random)
	mux.HandleFunc("GET /v1/embeddings", emb.List)
	mux.HandleFunc("GET /v1/embeddings/{id}", emb.Get)
	mux.HandleFunc("GET /v1/embeddings/{id}/similar", emb.Similar)
	mux.HandleFunc("DELETE /v1/embeddings/{id}", emb.Delete)
	mux.HandleFunc("POST /v1/sessions", sessions.Create)
	mux.HandleFunc("GET /v1/sessions/{id}", sessions.View)
	mux.HandleFunc("PUT /v1/sessions/{id}/query", sessions.Query)
	mux.HandleFunc("POST /v1/sessions/{id}/more", sessions.More)
	mux.HandleFunc("GET /v1/sessions/{id}/layout", sessions.Layout)
	mux.HandleFunc("PUT /v1/sessions/{id}/preview", sessions.Preview)
	mux.HandleFunc("DELETE /v1/sessions/{id}/preview/{itemId}", sessions.EndPreview)
	mux.HandleFunc("DELETE /v1/sessions/{id}", sessions.Delete)

	return &testServer{mux: mux, store: store, svc: svc, registry: registry}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))

	return v
}

func (s *testServer) seed(t *testing.T, texts ...string) {
	t.Helper()

	for _, text := range texts {
		rec := s.do(t, http.MethodPost, "/v1/embeddings", `{"text":"`+text+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
}

func TestEmbeddingsHandler_CreateGetListDelete(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/embeddings", `{"text":"  cat  "}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decode[models.CreateEmbeddingResponse](t, rec)
	assert.Equal(t, "rec-1", created.ID)
	assert.Equal(t, 3, created.Dimension)

	rec = s.do(t, http.MethodGet, "/v1/embeddings/rec-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[models.EmbeddingRecord](t, rec)
	assert.Equal(t, "cat", got.Text)
	assert.Equal(t, []float32{1, 0, 0}, got.Vector)

	rec = s.do(t, http.MethodGet, "/v1/embeddings?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[models.ListResponse](t, rec)
	assert.Equal(t, int64(1), list.Total)
	require.Len(t, list.Embeddings, 1)
	assert.Nil(t, list.Embeddings[0].Vector)

	rec = s.do(t, http.MethodDelete, "/v1/embeddings/rec-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/v1/embeddings/rec-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, response.CodeNotFound, decode[response.ProblemDetails](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/v1/embeddings?limit=10", "")
	assert.Empty(t, decode[models.ListResponse](t, rec).Embeddings)
}

func TestEmbeddingsHandler_CreateErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"empty input", `{"text":"   "}`, http.StatusBadRequest, response.CodeInvalidArgument},
		{"unknown field", `{"prompt":"cat"}`, http.StatusBadRequest, response.CodeInvalidArgument},
		{"bad url", `{"videoUrl":"::"}`, http.StatusBadRequest, response.CodeInvalidArgument},
		{"inference down", `{"text":"down"}`, http.StatusServiceUnavailable, response.CodeInferenceUnavailable},
		{"rejected", `{"text":"reject"}`, http.StatusUnprocessableEntity, response.CodeInferenceRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/v1/embeddings", tt.body)
			assert.Equal(t, tt.status, rec.Code)

			p := decode[response.ProblemDetails](t, rec)
			assert.Equal(t, tt.code, p.Code)
			assert.NotContains(t, p.Detail, "10.1.2.3")
		})
	}

	count, err := s.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEmbeddingsHandler_Search(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "dog", "cat", "kitten")

	rec := s.do(t, http.MethodPost, "/v1/embeddings/search", `{"text":"cat","limit":3,"metric":"l2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	results := decode[models.SearchResponse](t, rec).Results
	require.Len(t, results, 3)
	assert.Equal(t, []string{"cat", "kitten", "dog"}, []string{results[0].Text, results[1].Text, results[2].Text})
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)
	assert.LessOrEqual(t, results[1].Distance, results[2].Distance)
	assert.Equal(t, models.MetricL2, results[0].Metric)

	rec = s.do(t, http.MethodPost, "/v1/embeddings/search", `{"text":"down"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	rec = s.do(t, http.MethodPost, "/v1/embeddings/search", `{"text":"cat","limit":500}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbeddingsHandler_SimilarAndRandom(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "cat", "kitten", "dog", "bird", "fish")

	rec := s.do(t, http.MethodGet, "/v1/embeddings/rec-1/similar?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	similar := decode[models.SimilarResponse](t, rec)
	assert.Equal(t, "rec-1", similar.SourceVideo.ID)
	require.Len(t, similar.SimilarVideos, 4)
	assert.Equal(t, "rec-2", similar.SimilarVideos[0].ID)

	for _, r := range similar.SimilarVideos {
		assert.NotEqual(t, "rec-1", r.ID)
	}

	rec = s.do(t, http.MethodGet, "/v1/embeddings/rec-1/similar?limit=2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/embeddings/missing/similar", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/embeddings/random?limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[models.RandomResponse](t, rec).Embeddings, 3)
}

func TestSessionsHandler_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "cat", "kitten", "dog")

	rec := s.do(t, http.MethodPost, "/v1/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	id := decode[SessionResponse](t, rec).ID
	require.NotEmpty(t, id)

	c, err := s.registry.Get(id)
	require.NoError(t, err)
	c.Wait()

	rec = s.do(t, http.MethodGet, "/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	view := decode[SessionResponse](t, rec)
	assert.Equal(t, session.ModeBrowse, view.Mode)
	assert.Len(t, view.Items, 3)

	rec = s.do(t, http.MethodPut, "/v1/sessions/"+id+"/query", `{"text":"cat","immediate":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	c.Wait()

	view = decode[SessionResponse](t, s.do(t, http.MethodGet, "/v1/sessions/"+id, ""))
	assert.Equal(t, session.ModeSearch, view.Mode)
	require.NotEmpty(t, view.Items)
	assert.Equal(t, "cat", view.Items[0].Text)
	assert.True(t, view.HasMore)

	more := decode[LoadMoreResponse](t, s.do(t, http.MethodPost, "/v1/sessions/"+id+"/more", ""))
	assert.True(t, more.Accepted)
	c.Wait()

	more = decode[LoadMoreResponse](t, s.do(t, http.MethodPost, "/v1/sessions/"+id+"/more", ""))
	assert.False(t, more.Accepted, "a page with nothing new exhausts the list")
	assert.Len(t, more.Items, 3)

	rec = s.do(t, http.MethodGet, "/v1/sessions/"+id+"/layout?columns=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	layout := decode[LayoutResponse](t, rec)
	require.Len(t, layout.Columns, 2)
	assert.Len(t, layout.Columns[0].Tiles, 2)
	assert.Len(t, layout.Columns[1].Tiles, 1)

	rec = s.do(t, http.MethodGet, "/v1/sessions/"+id+"/layout?columns=2&page=2&pageSize=2", "")
	layout = decode[LayoutResponse](t, rec)
	assert.Equal(t, 2, layout.Pages)
	assert.Len(t, layout.Columns[0].Tiles, 1)
	assert.Empty(t, layout.Columns[1].Tiles)

	preview := decode[models.PreviewResponse](t, s.do(t, http.MethodPut, "/v1/sessions/"+id+"/preview", `{"itemId":"rec-1"}`))
	assert.Equal(t, "rec-1", preview.Previewing)

	preview = decode[models.PreviewResponse](t, s.do(t, http.MethodPut, "/v1/sessions/"+id+"/preview", `{"itemId":"rec-2"}`))
	assert.Equal(t, "rec-1", preview.Replaced)

	preview = decode[models.PreviewResponse](t, s.do(t, http.MethodDelete, "/v1/sessions/"+id+"/preview/rec-1", ""))
	assert.Equal(t, "rec-2", preview.Previewing, "a stale leave keeps the current preview")

	preview = decode[models.PreviewResponse](t, s.do(t, http.MethodDelete, "/v1/sessions/"+id+"/preview/rec-2", ""))
	assert.Empty(t, preview.Previewing)

	rec = s.do(t, http.MethodDelete, "/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionsHandler_ValidationAndUnknown(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	id := decode[SessionResponse](t, s.do(t, http.MethodPost, "/v1/sessions", "")).ID

	rec = s.do(t, http.MethodGet, "/v1/sessions/"+id+"/layout?columns=40", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/v1/sessions/"+id+"/preview", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeEnqueuer struct {
	got models.MediaInput
	err error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, in models.MediaInput) (*models.EnqueueEmbeddingResponse, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}

	return &models.EnqueueEmbeddingResponse{ID: "rec-9", JobID: 12}, nil
}

func TestJobsHandler_Enqueue(t *testing.T) {
	f := &fakeEnqueuer{}
	h := NewJobsHandler(f)

	rec := httptest.NewRecorder()
	h.Enqueue(rec, httptest.NewRequest(http.MethodPost, "/v1/embeddings/jobs", bytes.NewReader([]byte(`{"videoUrl":"https://cdn/x.mp4"}`))))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "https://cdn/x.mp4", f.got.VideoURL)
	assert.Equal(t, int64(12), decode[models.EnqueueEmbeddingResponse](t, rec).JobID)

	f.err = galleryerrors.NewInvalidArgumentError("input", "at least one of text, imageUrl, or videoUrl is required")
	rec = httptest.NewRecorder()
	h.Enqueue(rec, httptest.NewRequest(http.MethodPost, "/v1/embeddings/jobs", bytes.NewReader([]byte(`{}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobsHandler_Disabled(t *testing.T) {
	h := NewJobsHandler(nil)

	rec := httptest.NewRecorder()
	h.Enqueue(rec, httptest.NewRequest(http.MethodPost, "/v1/embeddings/jobs", bytes.NewReader([]byte(`{"text":"cat"}`))))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "background embedding jobs are disabled")
}

type fakeUploads struct {
	err error
}

func (f *fakeUploads) UploadVideo(_ context.Context, req models.UploadRequest) (*models.UploadResponse, error) {
	if f.err != nil {
		return nil, f.err
	}

	return &models.UploadResponse{URL: "https://cdn/videos/" + req.FileName}, nil
}

func (f *fakeUploads) UploadImage(_ context.Context, req models.UploadRequest) (*models.UploadResponse, error) {
	if f.err != nil {
		return nil, f.err
	}

	return &models.UploadResponse{URL: "https://cdn/images/" + req.FileName}, nil
}

func TestUploadsHandler(t *testing.T) {
	f := &fakeUploads{}
	h := NewUploadsHandler(f)
	body := `{"fileBase64":"AAAA","fileName":"a.png","mimeType":"image/png"}`

	rec := httptest.NewRecorder()
	h.Image(rec, httptest.NewRequest(http.MethodPost, "/v1/uploads/image", bytes.NewReader([]byte(body))))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "https://cdn/images/a.png", decode[models.UploadResponse](t, rec).URL)

	rec = httptest.NewRecorder()
	h.Video(rec, httptest.NewRequest(http.MethodPost, "/v1/uploads/video", bytes.NewReader([]byte(`{"fileName":"a.mp4"}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.err = galleryerrors.NewUnavailableError(galleryerrors.ServiceObjects, errors.New("s3: 500"))
	rec = httptest.NewRecorder()
	h.Video(rec, httptest.NewRequest(http.MethodPost, "/v1/uploads/video", bytes.NewReader([]byte(body))))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type countFunc func(context.Context) (int64, error)

func (f countFunc) Count(ctx context.Context) (int64, error) { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(nil).Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	down := countFunc(func(context.Context) (int64, error) { return 0, errors.New("refused") })
	rec = httptest.NewRecorder()
	NewHealthHandler(down).Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
