package models

// CreateEmbeddingRequest is the body of POST /v1/embeddings.
type CreateEmbeddingRequest struct {
	Text     string `json:"text,omitempty" validate:"omitempty,max=8000,no_null_bytes"`
	ImageURL string `json:"imageUrl,omitempty" validate:"omitempty,url"`
	VideoURL string `json:"videoUrl,omitempty" validate:"omitempty,url"`
}

// Input returns the media input described by the request.
func (r CreateEmbeddingRequest) Input() MediaInput {
	return MediaInput{Text: r.Text, ImageURL: r.ImageURL, VideoURL: r.VideoURL}.Normalize()
}

// CreateEmbeddingResponse is returned by create.
type CreateEmbeddingResponse struct {
	ID        string `json:"id"`
	Dimension int    `json:"dimension"`
}

// SearchRequest is the body of POST /v1/embeddings/search.
type SearchRequest struct {
	Text      string   `json:"text,omitempty" validate:"omitempty,max=8000,no_null_bytes"`
	ImageURL  string   `json:"imageUrl,omitempty" validate:"omitempty,url"`
	VideoURL  string   `json:"videoUrl,omitempty" validate:"omitempty,url"`
	Limit     int      `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
	Metric    string   `json:"metric,omitempty" validate:"omitempty,metric"`
	Threshold *float64 `json:"threshold,omitempty" validate:"omitempty,gte=0"`
}

// Input returns the media input described by the request.
func (r SearchRequest) Input() MediaInput {
	return MediaInput{Text: r.Text, ImageURL: r.ImageURL, VideoURL: r.VideoURL}.Normalize()
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// SimilarQuery holds the query parameters of GET /v1/embeddings/{id}/similar.
type SimilarQuery struct {
	Limit     int      `form:"limit" validate:"omitempty,min=5,max=50"`
	Threshold *float64 `form:"threshold" validate:"omitempty,gte=0"`
	Metric    string   `form:"metric" validate:"omitempty,metric"`
}

// SimilarResponse is returned by findSimilar.
type SimilarResponse struct {
	SourceVideo   EmbeddingRecord `json:"sourceVideo"`
	SimilarVideos []SearchResult  `json:"similarVideos"`
}

// RandomQuery holds the query parameters of GET /v1/embeddings/random.
type RandomQuery struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=100"`
}

// RandomResponse is returned by getRandom.
type RandomResponse struct {
	Embeddings []EmbeddingRecord `json:"embeddings"`
}

// ListQuery holds the query parameters of GET /v1/embeddings.
type ListQuery struct {
	Limit  int `form:"limit" validate:"omitempty,min=1,max=100"`
	Offset int `form:"offset" validate:"omitempty,min=0"`
}

// ListResponse is returned by list.
type ListResponse struct {
	Embeddings []EmbeddingRecord `json:"embeddings"`
	Total      int64             `json:"total"`
	Limit      int               `json:"limit"`
	Offset     int               `json:"offset"`
}

// DeleteResponse is returned by delete.
type DeleteResponse struct {
	Success bool `json:"success"`
}

// EnqueueEmbeddingResponse is returned when an embedding job is queued.
type EnqueueEmbeddingResponse struct {
	ID        string `json:"id"`
	JobID     int64  `json:"jobId"`
	Duplicate bool   `json:"duplicate"`
}
