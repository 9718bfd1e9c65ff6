package models

// UploadRequest is the body of POST /v1/uploads/{video,image}.
type UploadRequest struct {
	FileBase64 string `json:"fileBase64" validate:"required"`
	FileName   string `json:"fileName" validate:"required,max=255,no_null_bytes"`
	MimeType   string `json:"mimeType" validate:"required,max=127"`
}

// UploadResponse carries the public URL of the stored object.
type UploadResponse struct {
	URL string `json:"url"`
}

// Upload limits.
const (
	MaxImageFileSize = 50 * 1024 * 1024
	MaxVideoFileSize = 500 * 1024 * 1024
)
