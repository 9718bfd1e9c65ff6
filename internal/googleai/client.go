// Package googleai provides a text-only query embedding generator on the Google Gen AI SDK (Gemini API).
package googleai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/observability"
)

// ErrInvalidDims is returned when dimensions is not a positive int32.
var ErrInvalidDims = errors.New("googleai: embedding dimensions must be positive")

const (
	defaultDimension = 1536
	defaultModel     = "gemini-embedding-001"
)

// Client calls the Gemini embeddings API via the Google Gen AI SDK.
type Client struct {
	client     *genai.Client
	model      string
	dimensions int
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the requested embedding dimension (must match the store).
func WithDimensions(dim int) ClientOption {
	return func(c *Client) {
		c.dimensions = dim
	}
}

// WithModel sets the embedding model name (e.g. gemini-embedding-001). Empty uses default.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// Config is passed to genai.NewClient; tests override BaseURL via HTTPOptions.
type Config = genai.ClientConfig

// NewClient creates a Gemini embeddings client.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	return NewClientWithConfig(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, opts...)
}

// NewClientWithConfig creates a client from an explicit SDK configuration.
func NewClientWithConfig(ctx context.Context, cfg *Config, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("googleai client: %w", err)
	}

	client := &Client{
		client:     genaiClient,
		model:      defaultModel,
		dimensions: defaultDimension,
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.dimensions <= 0 || client.dimensions > math.MaxInt32 {
		return nil, ErrInvalidDims
	}

	return client, nil
}

// Embed returns the embedding for a text-only input. Image and video inputs are rejected.
func (c *Client) Embed(ctx context.Context, input models.MediaInput) ([]float32, error) {
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return nil, err
	}

	if input.ImageURL != "" || input.VideoURL != "" {
		return nil, galleryerrors.NewInferenceRejectedError(0, "google provider supports text input only")
	}

	ctx, span := observability.StartSpan(ctx, "googleai.embed",
		attribute.String("gen_ai.system", "gemini"),
		attribute.String("gen_ai.request.model", c.model),
	)

	vec, err := c.embed(ctx, input.Text)
	observability.EndSpan(span, err)

	return vec, err
}

func (c *Client) embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	//nolint:gosec // G115: c.dimensions is bounded above by math.MaxInt32 in NewClientWithConfig
	dimInt32 := int32(c.dimensions)

	resp, err := c.client.Models.EmbedContent(ctx, c.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dimInt32,
	})
	if err != nil {
		return nil, mapError(err)
	}

	if len(resp.Embeddings) == 0 {
		return nil, galleryerrors.NewInferenceRejectedError(0, "gemini: no embedding in response")
	}

	emb := resp.Embeddings[0].Values
	if len(emb) != c.dimensions {
		return nil, galleryerrors.NewDimensionMismatchError(c.dimensions, len(emb))
	}

	out := make([]float32, len(emb))
	copy(out, emb)

	return out, nil
}

func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("gemini embedding: %w", fromAPIError(apiErr))
	}

	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return fmt.Errorf("gemini embedding: %w", fromAPIError(*apiErrPtr))
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("gemini embedding: %w", err)
	}

	return galleryerrors.NewUnavailableError(galleryerrors.ServiceInference, fmt.Errorf("gemini embedding: %w", err))
}

func fromAPIError(e genai.APIError) error {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Code)
	}

	return galleryerrors.FromInferenceStatus(e.Code, msg)
}
