package models

// SessionQueryRequest is the body of PUT /v1/sessions/{id}/query. An empty query returns the
// session to browse mode. Immediate skips the debounce interval.
type SessionQueryRequest struct {
	Text      string `json:"text,omitempty" validate:"omitempty,max=8000,no_null_bytes"`
	ImageURL  string `json:"imageUrl,omitempty" validate:"omitempty,url"`
	VideoURL  string `json:"videoUrl,omitempty" validate:"omitempty,url"`
	Immediate bool   `json:"immediate,omitempty"`
}

// Input returns the media input described by the request.
func (r SessionQueryRequest) Input() MediaInput {
	return MediaInput{Text: r.Text, ImageURL: r.ImageURL, VideoURL: r.VideoURL}.Normalize()
}

// PreviewRequest is the body of PUT /v1/sessions/{id}/preview.
type PreviewRequest struct {
	ItemID string `json:"itemId" validate:"required,max=255"`
}

// PreviewResponse reports the previewing item and the one it replaced.
type PreviewResponse struct {
	Previewing string `json:"previewing,omitempty"`
	Replaced   string `json:"replaced,omitempty"`
}

// LayoutQuery holds the query parameters of GET /v1/sessions/{id}/layout. PageSize 0 lays out
// every visible item.
type LayoutQuery struct {
	Columns  int `form:"columns" validate:"omitempty,min=1,max=12"`
	Page     int `form:"page" validate:"omitempty,min=1"`
	PageSize int `form:"pageSize" validate:"omitempty,min=1,max=100"`
}
