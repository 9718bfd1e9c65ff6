// Package client is a Go client for the gallery HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mediaembed/gallery/internal/models"
)

const (
	defaultTimeout  = 5 * time.Minute
	defaultRetryMax = 2
	maxErrorBody    = 4096
)

// Upload kinds accepted by Upload.
const (
	UploadImage = "image"
	UploadVideo = "video"
)

// ErrBaseURLRequired is returned by New when no base URL is configured.
var ErrBaseURLRequired = errors.New("client: base URL is required")

// ErrInvalidUploadKind is returned by Upload for kinds other than image and video.
var ErrInvalidUploadKind = errors.New("client: upload kind must be image or video")

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each attempt. Video embeddings can take minutes.
	Timeout time.Duration
	// RetryMax applies to idempotent requests only. Negative disables retries.
	RetryMax int
	Logger   *slog.Logger
}

// Client calls the /v1 API. It satisfies the session and admin backends so the CLI can drive
// them remotely.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *retryablehttp.Client
	logger     *slog.Logger
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		return nil, ErrBaseURLRequired
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	switch {
	case opts.RetryMax == 0:
		opts.RetryMax = defaultRetryMax
	case opts.RetryMax < 0:
		opts.RetryMax = 0
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil
	retryClient.CheckRetry = idempotentRetryPolicy
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:    base,
		apiKey:     opts.APIKey,
		httpClient: retryClient,
		logger:     logger,
	}, nil
}

// idempotentRetryPolicy retries like the default policy, except that creating requests are
// never repeated.
func idempotentRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.Request != nil {
		switch resp.Request.Method {
		case http.MethodPost, http.MethodPatch:
			return false, nil
		}
	}

	return retryablehttp.DefaultRetryPolicy(ctx, resp, err) //nolint:wrapcheck // policy passthrough
}

// Create embeds input and stores it.
func (c *Client) Create(ctx context.Context, input models.MediaInput) (*models.CreateEmbeddingResponse, error) {
	var out models.CreateEmbeddingResponse

	err := c.do(ctx, http.MethodPost, "/v1/embeddings", nil, models.CreateEmbeddingRequest{
		Text: input.Text, ImageURL: input.ImageURL, VideoURL: input.VideoURL,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// Enqueue queues input for background embedding.
func (c *Client) Enqueue(ctx context.Context, input models.MediaInput) (*models.EnqueueEmbeddingResponse, error) {
	var out models.EnqueueEmbeddingResponse

	err := c.do(ctx, http.MethodPost, "/v1/embeddings/jobs", nil, models.CreateEmbeddingRequest{
		Text: input.Text, ImageURL: input.ImageURL, VideoURL: input.VideoURL,
	}, &out)
	if err != nil {
		return nil, err
	}

	return &out, nil
}

// Get returns one record including its vector.
func (c *Client) Get(ctx context.Context, id string) (*models.EmbeddingRecord, error) {
	var out models.EmbeddingRecord
	if err := c.do(ctx, http.MethodGet, "/v1/embeddings/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// Search returns the nearest records to the query media.
func (c *Client) Search(ctx context.Context, req models.SearchRequest) ([]models.SearchResult, error) {
	var out models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/embeddings/search", nil, req, &out); err != nil {
		return nil, err
	}

	return out.Results, nil
}

// Similar returns the records nearest to an existing record.
func (c *Client) Similar(ctx context.Context, id string, q models.SimilarQuery) (*models.SimilarResponse, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	if q.Threshold != nil {
		params.Set("threshold", strconv.FormatFloat(*q.Threshold, 'g', -1, 64))
	}

	if q.Metric != "" {
		params.Set("metric", q.Metric)
	}

	var out models.SimilarResponse
	if err := c.do(ctx, http.MethodGet, "/v1/embeddings/"+url.PathEscape(id)+"/similar", params, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// Random samples up to limit records.
func (c *Client) Random(ctx context.Context, limit int) ([]models.EmbeddingRecord, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var out models.RandomResponse
	if err := c.do(ctx, http.MethodGet, "/v1/embeddings/random", params, nil, &out); err != nil {
		return nil, err
	}

	return out.Embeddings, nil
}

// List returns one page of records, newest first.
func (c *Client) List(ctx context.Context, limit, offset int) (*models.ListResponse, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var out models.ListResponse
	if err := c.do(ctx, http.MethodGet, "/v1/embeddings", params, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/embeddings/"+url.PathEscape(id), nil, nil, &models.DeleteResponse{})
}

// Upload stores a base64 encoded file and returns its public URL. kind is UploadImage or UploadVideo.
func (c *Client) Upload(ctx context.Context, kind string, req models.UploadRequest) (*models.UploadResponse, error) {
	if kind != UploadImage && kind != UploadVideo {
		return nil, ErrInvalidUploadKind
	}

	var out models.UploadResponse
	if err := c.do(ctx, http.MethodPost, "/v1/uploads/"+kind, nil, req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, in, out any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var body []byte

	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}

		body = b
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return decodeProblem(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s response: %w", method, path, err)
	}

	return nil
}
