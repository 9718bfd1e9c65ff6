package models

import (
	"strings"
	"time"

	"github.com/mediaembed/gallery/internal/galleryerrors"
)

// MaxPageSize is the largest single-page size accepted by list, search, and random sampling.
const MaxPageSize = 100

// EmbeddingRecord is one stored embedding. Records are immutable once created.
type EmbeddingRecord struct {
	ID        string    `json:"id"`
	Vector    []float32 `json:"vector,omitempty"`
	Text      string    `json:"text,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	VideoURL  string    `json:"videoUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// MediaKind returns the primary media kind of the record (video wins over image, image over text).
func (r *EmbeddingRecord) MediaKind() MediaKind {
	switch {
	case r.VideoURL != "":
		return MediaVideo
	case r.ImageURL != "":
		return MediaImage
	default:
		return MediaText
	}
}

// WithoutVector returns a copy of r with the vector dropped, for listing responses.
func (r EmbeddingRecord) WithoutVector() EmbeddingRecord {
	r.Vector = nil

	return r
}

// SearchResult is a record plus its distance to the query. The metric always travels with the
// distance since raw magnitudes are not comparable across metrics.
type SearchResult struct {
	EmbeddingRecord

	Distance float64 `json:"distance"`
	Metric   Metric  `json:"metric"`
}

// MediaKind classifies the media referenced by a record.
type MediaKind string

const (
	MediaText  MediaKind = "text"
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// MediaInput is the optional text/image/video combination used for create, search, and embed.
type MediaInput struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`
}

// Normalize trims surrounding whitespace from every field.
func (in MediaInput) Normalize() MediaInput {
	return MediaInput{
		Text:     strings.TrimSpace(in.Text),
		ImageURL: strings.TrimSpace(in.ImageURL),
		VideoURL: strings.TrimSpace(in.VideoURL),
	}
}

// IsEmpty reports whether all three fields are blank.
func (in MediaInput) IsEmpty() bool {
	n := in.Normalize()

	return n.Text == "" && n.ImageURL == "" && n.VideoURL == ""
}

// Validate returns an InvalidArgument error when no field is set.
func (in MediaInput) Validate() error {
	if in.IsEmpty() {
		return galleryerrors.NewInvalidArgumentError("input", "at least one of text, imageUrl, or videoUrl is required")
	}

	return nil
}

// NearestQuery describes a nearest-neighbor request against the store.
type NearestQuery struct {
	Vector []float32
	Limit  int
	Metric Metric
	// MaxDistance excludes results farther than the threshold when set.
	MaxDistance *float64
	// ExcludeID drops one record (e.g. the source of a similar-video lookup).
	ExcludeID string
}
