package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaembed/gallery/internal/observability"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuth(t *testing.T) {
	h := Auth("secret")(okHandler())

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"empty key", "Bearer ", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"ok", "Bearer secret", http.StatusNoContent},
		{"ok lowercase scheme", "bearer secret", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/embeddings", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(observability.RequestIDKey).(string)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 500))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestMaxBody(t *testing.T) {
	var rejected int

	h := MaxBody(8, recorderFunc(func(context.Context) { rejected++ }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, "read failed", http.StatusBadRequest)

			return
		}

		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/uploads/image", strings.NewReader("small")))
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/uploads/image", strings.NewReader("far too large a body")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "request_entity_too_large")
	assert.Equal(t, 1, rejected)

	// Unknown length: the overflow is noticed while the handler reads.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/uploads/image", io.NopCloser(strings.NewReader("far too large a body"))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.NotContains(t, rec.Body.String(), "read failed")
	assert.Equal(t, 2, rejected)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/uploads/image", io.NopCloser(strings.NewReader("tiny"))))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

type recorderFunc func(ctx context.Context)

func (f recorderFunc) RecordRequestBodyTooLarge(ctx context.Context) { f(ctx) }

type fakeAPIMetrics struct {
	mu     sync.Mutex
	routes []string
	status []string
}

func (m *fakeAPIMetrics) RecordRequest(_ context.Context, _, route, statusClass string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.routes = append(m.routes, route)
	m.status = append(m.status, statusClass)
}

func (m *fakeAPIMetrics) RecordRequestBodyTooLarge(context.Context) {}

func TestMetrics(t *testing.T) {
	m := &fakeAPIMetrics{}
	h := Metrics(m)(okHandler())

	path := "/v1/sessions/0191e2d4-5f7a-7cc2-8d5e-2f1a3b4c5d6e/preview/42"
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, path, nil))

	require.Len(t, m.routes, 1)
	assert.Equal(t, "/v1/sessions/{id}/preview/{id}", m.routes[0])
	assert.Equal(t, "2xx", m.status[0])
}

func TestNormalizeRoute(t *testing.T) {
	assert.Equal(t, "/v1/embeddings/{id}/similar", normalizeRoute("/v1/embeddings/123/similar"))
	assert.Equal(t, "/v1/embeddings/random", normalizeRoute("/v1/embeddings/random"))
	assert.Equal(t, "/v1/embeddings/{id}", normalizeRoute("/v1/embeddings/0191e2d4-5f7a-7cc2-8d5e-2f1a3b4c5d6e"))
}

func TestStatusToClass(t *testing.T) {
	assert.Equal(t, "5xx", statusToClass(503))
	assert.Equal(t, "4xx", statusToClass(404))
	assert.Equal(t, "2xx", statusToClass(200))
	assert.Equal(t, "unknown", statusToClass(0))
}

func TestLogging_CapturesStatus(t *testing.T) {
	h := Logging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}
