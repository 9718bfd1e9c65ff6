package handlers

import (
	"context"
	"net/http"

	"github.com/mediaembed/gallery/internal/api/response"
	"github.com/mediaembed/gallery/internal/models"
)

// UploadService stores user media and returns a public URL.
type UploadService interface {
	UploadVideo(ctx context.Context, req models.UploadRequest) (*models.UploadResponse, error)
	UploadImage(ctx context.Context, req models.UploadRequest) (*models.UploadResponse, error)
}

// UploadsHandler handles media uploads.
type UploadsHandler struct {
	service UploadService
}

// NewUploadsHandler creates a new uploads handler.
func NewUploadsHandler(service UploadService) *UploadsHandler {
	return &UploadsHandler{service: service}
}

// Video handles POST /v1/uploads/video
func (h *UploadsHandler) Video(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, h.service.UploadVideo)
}

// Image handles POST /v1/uploads/image
func (h *UploadsHandler) Image(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, h.service.UploadImage)
}

func (h *UploadsHandler) upload(
	w http.ResponseWriter, r *http.Request,
	fn func(context.Context, models.UploadRequest) (*models.UploadResponse, error),
) {
	var req models.UploadRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := fn(r.Context(), req)
	if err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusCreated, resp)
}
