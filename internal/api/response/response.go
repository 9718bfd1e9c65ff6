// Package response writes JSON bodies and RFC 7807 problem details.
package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mediaembed/gallery/internal/galleryerrors"
)

// Problem codes carried in the "code" extension member so clients can rebuild the error kind.
const (
	CodeInvalidArgument        = "invalid_argument"
	CodeNotFound               = "not_found"
	CodeDimensionMismatch      = "dimension_mismatch"
	CodeSchemaMismatch         = "schema_mismatch"
	CodeInferenceUnavailable   = "inference_unavailable"
	CodeStoreUnavailable       = "store_unavailable"
	CodeObjectStoreUnavailable = "object_store_unavailable"
	CodeInferenceRejected      = "inference_rejected"
	CodeUnauthorized           = "unauthorized"
	CodeRequestEntityTooLarge  = "request_entity_too_large"
	CodeInternal               = "internal"
)

// RetryAfterSeconds is sent with every 503.
const RetryAfterSeconds = 5

const (
	problemContentType           = "application/problem+json"
	internalServerErrorTitle     = "Internal Server Error"
	internalServerErrorDetail    = "An unexpected error occurred"
	serviceUnavailableTitle      = "Service Unavailable"
	inferenceUnavailableDetail   = "The embedding service is temporarily unavailable"
	storeUnavailableDetail       = "The embedding store is temporarily unavailable"
	objectStoreUnavailableDetail = "The upload store is temporarily unavailable"
)

// ErrorDetail represents a single error detail in RFC 7807 Problem Details
type ErrorDetail struct {
	Location string `json:"location,omitempty"`
	Message  string `json:"message,omitempty"`
	Value    any    `json:"value,omitempty"`
}

// ProblemDetails represents an RFC 7807 Problem Details error response
type ProblemDetails struct {
	Type     string        `json:"type,omitempty"`
	Title    string        `json:"title"`
	Status   int           `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Instance string        `json:"instance,omitempty"`
	Code     string        `json:"code,omitempty"`
	Errors   []ErrorDetail `json:"errors,omitempty"`
}

// RespondProblem writes p with the problem+json content type.
func RespondProblem(w http.ResponseWriter, p ProblemDetails) {
	if p.Type == "" {
		p.Type = "about:blank"
	}

	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(p.Status)

	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// RespondError writes an RFC 7807 Problem Details error response
func RespondError(w http.ResponseWriter, statusCode int, title, code, detail string) {
	RespondProblem(w, ProblemDetails{
		Title:  title,
		Status: statusCode,
		Code:   code,
		Detail: detail,
	})
}

// RespondBadRequest writes a 400 Bad Request error response
func RespondBadRequest(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusBadRequest, "Bad Request", CodeInvalidArgument, detail)
}

// RespondUnauthorized writes a 401 Unauthorized error response
func RespondUnauthorized(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusUnauthorized, "Unauthorized", CodeUnauthorized, detail)
}

// RespondNotFound writes a 404 Not Found error response
func RespondNotFound(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusNotFound, "Not Found", CodeNotFound, detail)
}

// RespondInternalServerError writes a 500 Internal Server Error response
func RespondInternalServerError(w http.ResponseWriter, detail string) {
	RespondError(w, http.StatusInternalServerError, internalServerErrorTitle, CodeInternal, detail)
}

// RespondServiceError maps a service error onto its status. Transport details are logged, never echoed.
func RespondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalid  *galleryerrors.InvalidArgumentError
		notFound *galleryerrors.NotFoundError
		shape    *galleryerrors.ShapeError
		rejected *galleryerrors.InferenceRejectedError
	)

	switch {
	case errors.As(err, &invalid):
		RespondBadRequest(w, invalid.Error())
	case errors.As(err, &notFound):
		RespondNotFound(w, notFound.Error())
	case errors.As(err, &shape):
		slog.ErrorContext(r.Context(), "vector shape mismatch", "error", err)

		code := CodeSchemaMismatch
		if shape.Kind == galleryerrors.ShapeDimension {
			code = CodeDimensionMismatch
		}

		RespondError(w, http.StatusInternalServerError, "Schema Mismatch", code, shape.Error())
	case errors.Is(err, galleryerrors.ErrInferenceUnavailable):
		respondUnavailable(w, r, err, CodeInferenceUnavailable, inferenceUnavailableDetail)
	case errors.Is(err, galleryerrors.ErrStoreUnavailable):
		respondUnavailable(w, r, err, CodeStoreUnavailable, storeUnavailableDetail)
	case errors.Is(err, galleryerrors.ErrObjectStoreUnavailable):
		respondUnavailable(w, r, err, CodeObjectStoreUnavailable, objectStoreUnavailableDetail)
	case errors.As(err, &rejected):
		detail := "The embedding service could not process this input"
		if rejected.Message != "" {
			detail += ": " + rejected.Message
		}

		RespondError(w, http.StatusUnprocessableEntity, "Unprocessable Entity", CodeInferenceRejected, detail)
	default:
		slog.ErrorContext(r.Context(), "request failed", "error", err)
		RespondInternalServerError(w, internalServerErrorDetail)
	}
}

func respondUnavailable(w http.ResponseWriter, r *http.Request, err error, code, detail string) {
	slog.WarnContext(r.Context(), "dependency unavailable", "code", code, "error", err)
	w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
	RespondError(w, http.StatusServiceUnavailable, serviceUnavailableTitle, code, detail)
}

// RespondJSON writes a JSON response directly without wrapping
func RespondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}
