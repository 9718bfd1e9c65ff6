// Package fal calls the multimodal embedding app deployed on fal.ai.
package fal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/observability"
)

const (
	// DefaultMaxPixels caps the per-frame resolution used for video embedding (360x420).
	DefaultMaxPixels = 360 * 420
	// DefaultFPS is the frame sampling rate used for video embedding.
	DefaultFPS = 1.0

	defaultTimeout = 300 * time.Second
	maxErrorBody   = 512
)

// ErrEndpointRequired is returned by NewClient when no endpoint is configured.
var ErrEndpointRequired = errors.New("fal: endpoint is required")

// Options configures the fal client.
type Options struct {
	Endpoint  string
	Key       string
	Dimension int
	Timeout   time.Duration
	RetryMax  int
	Logger    *slog.Logger
}

// Client posts media inputs to {endpoint}/embed and returns the embedding.
type Client struct {
	endpoint   string
	key        string
	dimension  int
	httpClient *retryablehttp.Client
	logger     *slog.Logger
}

// NewClient creates a fal client. RetryMax 0 disables automatic retries.
func NewClient(opts Options) (*Client, error) {
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		endpoint:   endpoint,
		key:        opts.Key,
		dimension:  opts.Dimension,
		httpClient: retryClient,
		logger:     logger,
	}, nil
}

type embedRequest struct {
	Text      string  `json:"text,omitempty"`
	ImageURL  string  `json:"image_url,omitempty"`
	VideoURL  string  `json:"video_url,omitempty"`
	MaxPixels int     `json:"max_pixels"`
	FPS       float64 `json:"fps"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

type errorResponse struct {
	Detail any `json:"detail"`
}

// Embed generates one embedding. Every call is a full remote round trip.
func (c *Client) Embed(ctx context.Context, input models.MediaInput) ([]float32, error) {
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "fal.embed",
		attribute.String("gen_ai.system", "fal"),
		attribute.Bool("gallery.input.image", input.ImageURL != ""),
		attribute.Bool("gallery.input.video", input.VideoURL != ""),
	)

	vec, err := c.embed(ctx, input)
	observability.EndSpan(span, err)

	return vec, err
}

func (c *Client) embed(ctx context.Context, input models.MediaInput) ([]float32, error) {
	body, err := json.Marshal(embedRequest{
		Text:      input.Text,
		ImageURL:  input.ImageURL,
		VideoURL:  input.VideoURL,
		MaxPixels: DefaultMaxPixels,
		FPS:       DefaultFPS,
	})
	if err != nil {
		return nil, fmt.Errorf("fal: marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/embed", body)
	if err != nil {
		return nil, fmt.Errorf("fal: create request: %w", err)
	}

	req.Header.Set("Authorization", "Key "+c.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, galleryerrors.NewUnavailableError(galleryerrors.ServiceInference, fmt.Errorf("fal: %w", err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, galleryerrors.NewUnavailableError(galleryerrors.ServiceInference, fmt.Errorf("fal: read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fal: %w", galleryerrors.FromInferenceStatus(resp.StatusCode, errorMessage(respBody)))
	}

	var out embedResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, galleryerrors.NewInferenceRejectedError(resp.StatusCode, "malformed response: "+err.Error())
	}

	if len(out.Embedding) == 0 {
		return nil, galleryerrors.NewInferenceRejectedError(resp.StatusCode, "response has no embedding")
	}

	if c.dimension > 0 && len(out.Embedding) != c.dimension {
		return nil, galleryerrors.NewDimensionMismatchError(c.dimension, len(out.Embedding))
	}

	return out.Embedding, nil
}

func errorMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Detail != nil {
		if s, ok := er.Detail.(string); ok {
			return s
		}

		if b, err := json.Marshal(er.Detail); err == nil {
			body = b
		}
	}

	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}

	return string(body)
}
