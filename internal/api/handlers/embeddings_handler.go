package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/mediaembed/gallery/internal/api/response"
	"github.com/mediaembed/gallery/internal/api/validation"
	"github.com/mediaembed/gallery/internal/models"
	"github.com/mediaembed/gallery/internal/service"
)

// EmbeddingsService defines the embedding operations exposed over HTTP.
type EmbeddingsService interface {
	Create(ctx context.Context, input models.MediaInput) (*models.CreateEmbeddingResponse, error)
	Get(ctx context.Context, id string) (*models.EmbeddingRecord, error)
	Search(ctx context.Context, p service.SearchParams) ([]models.SearchResult, error)
	FindSimilar(ctx context.Context, id string, p service.SimilarParams) (*models.SimilarResponse, error)
	Random(ctx context.Context, limit int) ([]models.EmbeddingRecord, error)
	List(ctx context.Context, limit, offset int) (*models.ListResponse, error)
	Delete(ctx context.Context, id string) error
}

// EmbeddingsHandler handles HTTP requests for embedding records.
type EmbeddingsHandler struct {
	service EmbeddingsService
}

// NewEmbeddingsHandler creates a new embeddings handler.
func NewEmbeddingsHandler(service EmbeddingsService) *EmbeddingsHandler {
	return &EmbeddingsHandler{service: service}
}

// Create handles POST /v1/embeddings
// @Summary Create embedding
// @Description Embeds text, an image URL, or a video URL and stores the record
// @Tags Embeddings
// @Accept json
// @Produce json
// @Param request body CreateEmbeddingRequest true "Media to embed"
// @Success 201 {object} CreateEmbeddingResponse
// @Failure 400 {object} ProblemDetails
// @Failure 422 {object} ProblemDetails "Inference service rejected the media"
// @Failure 503 {object} ProblemDetails "Inference service or store unavailable"
// @Security BearerAuth
// @Router /v1/embeddings [post]
func (h *EmbeddingsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEmbeddingRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.service.Create(r.Context(), req.Input())
	if err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusCreated, resp)
}

// Search handles POST /v1/embeddings/search
// @Summary Search embeddings
// @Description Embeds the query once and returns the nearest records by ascending distance
// @Tags Embeddings
// @Accept json
// @Produce json
// @Param request body SearchRequest true "Query media and options"
// @Success 200 {object} SearchResponse
// @Failure 400 {object} ProblemDetails
// @Security BearerAuth
// @Router /v1/embeddings/search [post]
func (h *EmbeddingsHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	results, err := h.service.Search(r.Context(), service.SearchParams{
		Input:     req.Input(),
		Limit:     req.Limit,
		Metric:    models.Metric(req.Metric),
		Threshold: req.Threshold,
	})
	if err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, models.SearchResponse{Results: results})
}

// Similar handles GET /v1/embeddings/{id}/similar
// @Summary Find similar records
// @Tags Embeddings
// @Produce json
// @Param id path string true "Source record ID"
// @Param limit query int false "Number of results (5-50, default 10)"
// @Param threshold query number false "Maximum distance"
// @Success 200 {object} SimilarResponse
// @Failure 404 {object} ProblemDetails "Source record not found"
// @Security BearerAuth
// @Router /v1/embeddings/{id}/similar [get]
func (h *EmbeddingsHandler) Similar(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		response.RespondBadRequest(w, "Embedding ID is required")

		return
	}

	var q models.SimilarQuery
	if !decodeQuery(w, r, &q) {
		return
	}

	resp, err := h.service.FindSimilar(r.Context(), id, service.SimilarParams{
		Limit:     q.Limit,
		Metric:    models.Metric(q.Metric),
		Threshold: q.Threshold,
	})
	if err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, resp)
}

// Random handles GET /v1/embeddings/random
func (h *EmbeddingsHandler) Random(w http.ResponseWriter, r *http.Request) {
	var q models.RandomQuery
	if !decodeQuery(w, r, &q) {
		return
	}

	recs, err := h.service.Random(r.Context(), q.Limit)
	if err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, models.RandomResponse{Embeddings: recs})
}

// List handles GET /v1/embeddings
// @Summary List embeddings
// @Description Lists records newest first with the total count
// @Tags Embeddings
// @Produce json
// @Param limit query int false "Page size (max 100, default 20)"
// @Param offset query int false "Number of records to skip"
// @Success 200 {object} ListResponse
// @Security BearerAuth
// @Router /v1/embeddings [get]
func (h *EmbeddingsHandler) List(w http.ResponseWriter, r *http.Request) {
	var q models.ListQuery
	if !decodeQuery(w, r, &q) {
		return
	}

	resp, err := h.service.List(r.Context(), q.Limit, q.Offset)
	if err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, resp)
}

// Get handles GET /v1/embeddings/{id}. The vector is included.
func (h *EmbeddingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		response.RespondBadRequest(w, "Embedding ID is required")

		return
	}

	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /v1/embeddings/{id}. Deleting an unknown id succeeds.
func (h *EmbeddingsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		response.RespondBadRequest(w, "Embedding ID is required")

		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		response.RespondServiceError(w, r, err)

		return
	}

	response.RespondJSON(w, http.StatusOK, models.DeleteResponse{Success: true})
}

// decodeBody decodes and validates a JSON body, writing the 400 itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := validation.DecodeJSON(r, dst); err != nil {
		if errors.Is(err, validation.ErrInvalidBody) {
			response.RespondBadRequest(w, "Invalid request body")

			return false
		}

		validation.RespondValidationError(w, err)

		return false
	}

	return true
}

func decodeQuery(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := validation.ValidateAndDecodeQueryParams(r, dst); err != nil {
		validation.RespondValidationError(w, err)

		return false
	}

	return true
}
