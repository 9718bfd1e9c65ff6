// Package openai provides a text-only query embedding generator on the official OpenAI Go SDK.
package openai

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mediaembed/gallery/internal/galleryerrors"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/observability"
)

const defaultDimension = 1536

// Client calls the OpenAI embeddings API via the official SDK.
type Client struct {
	sdk        openaisdk.Client
	model      openaisdk.EmbeddingModel
	dimensions int
	reqOpts    []option.RequestOption
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the requested embedding dimension (must match the store).
func WithDimensions(dim int) ClientOption {
	return func(c *Client) {
		c.dimensions = dim
	}
}

// WithModel sets the embedding model name. Empty uses text-embedding-3-small.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = openaisdk.EmbeddingModel(model)
		}
	}
}

// WithRequestOptions passes extra SDK options (base URL, HTTP client, retries).
func WithRequestOptions(opts ...option.RequestOption) ClientOption {
	return func(c *Client) {
		c.reqOpts = append(c.reqOpts, opts...)
	}
}

// NewClient creates an OpenAI embeddings client. SDK retries are disabled.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := &Client{
		model:      openaisdk.EmbeddingModelTextEmbedding3Small,
		dimensions: defaultDimension,
		reqOpts:    []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)},
	}

	for _, opt := range opts {
		opt(client)
	}

	client.sdk = openaisdk.NewClient(client.reqOpts...)

	return client
}

// Embed returns the embedding for a text-only input. Image and video inputs are rejected.
func (c *Client) Embed(ctx context.Context, input models.MediaInput) ([]float32, error) {
	input = input.Normalize()
	if err := input.Validate(); err != nil {
		return nil, err
	}

	if input.ImageURL != "" || input.VideoURL != "" {
		return nil, galleryerrors.NewInferenceRejectedError(0, "openai provider supports text input only")
	}

	ctx, span := observability.StartSpan(ctx, "openai.embed",
		attribute.String("gen_ai.system", "openai"),
		attribute.String("gen_ai.request.model", string(c.model)),
	)

	vec, err := c.embed(ctx, input.Text)
	observability.EndSpan(span, err)

	return vec, err
}

func (c *Client) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.sdk.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(text),
		},
		Model:      c.model,
		Dimensions: param.NewOpt(int64(c.dimensions)),
	})
	if err != nil {
		return nil, mapError(err)
	}

	if len(resp.Data) == 0 {
		return nil, galleryerrors.NewInferenceRejectedError(0, "openai: no embedding in response")
	}

	emb := resp.Data[0].Embedding
	if len(emb) != c.dimensions {
		return nil, galleryerrors.NewDimensionMismatchError(c.dimensions, len(emb))
	}

	out := make([]float32, len(emb))
	for i := range emb {
		out[i] = float32(emb[i])
	}

	return out, nil
}

func mapError(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai embedding: %w", galleryerrors.FromInferenceStatus(apiErr.StatusCode, apiErr.Message))
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("openai embedding: %w", err)
	}

	return galleryerrors.NewUnavailableError(galleryerrors.ServiceInference, fmt.Errorf("openai embedding: %w", err))
}
