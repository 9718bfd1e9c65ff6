package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient("sk-test", WithDimensions(3), WithRequestOptions(option.WithBaseURL(srv.URL+"/")))
}

func TestClient_Embed(t *testing.T) {
	var body map[string]any

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[0.5,0.25,0.125]}],
			"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	})

	vec, err := c.Embed(context.Background(), models.MediaInput{Text: "  a cat "})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25, 0.125}, vec)
	assert.Equal(t, "a cat", body["input"])
	assert.InDelta(t, 3, body["dimensions"], 0)
}

func TestClient_Embed_RejectsMedia(t *testing.T) {
	c := NewClient("sk-test", WithDimensions(3))

	_, err := c.Embed(context.Background(), models.MediaInput{Text: "cat", ImageURL: "https://x/y.png"})
	assert.ErrorIs(t, err, galleryerrors.ErrInferenceRejected)

	_, err = c.Embed(context.Background(), models.MediaInput{})
	assert.ErrorIs(t, err, galleryerrors.ErrInvalidArgument)
}

func TestClient_Embed_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad request", http.StatusBadRequest, galleryerrors.ErrInferenceRejected},
		{"rate limited", http.StatusTooManyRequests, galleryerrors.ErrInferenceUnavailable},
		{"server error", http.StatusInternalServerError, galleryerrors.ErrInferenceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			})

			_, err := c.Embed(context.Background(), models.MediaInput{Text: "dog"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_Embed_DimensionMismatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[1,2]}]}`))
	})

	_, err := c.Embed(context.Background(), models.MediaInput{Text: "dog"})
	assert.ErrorIs(t, err, galleryerrors.ErrDimensionMismatch)
}
