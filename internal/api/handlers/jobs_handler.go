package handlers

import (
	"context"
	"net/http"

	"github.com/mediaembed/gallery/internal/api/response"
	"github.com/mediaembed/gallery/internal/models"
)

// EmbeddingEnqueuer queues an embedding to be created in the background.
type EmbeddingEnqueuer interface {
	Enqueue(ctx context.Context, input models.MediaInput) (*models.EnqueueEmbeddingResponse, error)
}

// JobsHandler handles background embedding jobs. With a nil enqueuer the queue is disabled and
// every request gets a 404 problem.
type JobsHandler struct {
	jobs EmbeddingEnqueuer
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(jobs EmbeddingEnqueuer) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// Enqueue handles POST /v1/embeddings/jobs
// @Summary Queue an embedding
// @Description Queues the media for background embedding. Identical pending media returns the queued record ID.
// @Tags Embeddings
// @Accept json
// @Produce json
// @Param request body CreateEmbeddingRequest true "Media to embed"
// @Success 202 {object} EnqueueEmbeddingResponse
// @Failure 400 {object} ProblemDetails
// @Failure 404 {object} ProblemDetails
// @Security BearerAuth
// @Router /v1/embeddings/jobs [post]
func (h *JobsHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		response.RespondError(w, http.StatusNotFound, "Not Found", response.CodeNotFound,
			"background embedding jobs are disabled")

		return
	}

	var req models.CreateEmbeddingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.jobs.Enqueue(r.Context(), req.Input())
	if err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusAccepted, resp)
}
