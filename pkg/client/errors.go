package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mediaembed/gallery/internal/api/response"
	"github.com/mediaembed/gallery/internal/galleryerrors"
)

// APIError is a non-2xx response. It unwraps to the matching galleryerrors kind, so callers can
// use errors.Is with the galleryerrors sentinels.
type APIError struct {
	StatusCode int
	Code       string
	Title      string
	Detail     string
	err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("api error %d", e.StatusCode)
	if e.Title != "" {
		msg += " " + e.Title
	}

	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	return msg
}

// Unwrap returns the galleryerrors value rebuilt from the response, if any.
func (e *APIError) Unwrap() error {
	return e.err
}

func decodeProblem(status int, body []byte) error {
	var p response.ProblemDetails
	if err := json.Unmarshal(body, &p); err != nil || p.Status == 0 {
		p = response.ProblemDetails{Detail: strings.TrimSpace(string(body))}
	}

	apiErr := &APIError{
		StatusCode: status,
		Code:       p.Code,
		Title:      p.Title,
		Detail:     p.Detail,
	}

	if apiErr.Title == "" {
		apiErr.Title = http.StatusText(status)
	}

	code := p.Code
	if code == "" {
		code = codeForStatus(status)
	}

	apiErr.err = kindFor(code, status, p.Detail)

	return apiErr
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return response.CodeInvalidArgument
	case http.StatusNotFound:
		return response.CodeNotFound
	case http.StatusUnprocessableEntity:
		return response.CodeInferenceRejected
	case http.StatusServiceUnavailable:
		return response.CodeStoreUnavailable
	default:
		return ""
	}
}

func kindFor(code string, status int, detail string) error {
	var cause error
	if detail != "" {
		cause = errors.New(detail)
	}

	switch code {
	case response.CodeInvalidArgument:
		return galleryerrors.NewInvalidArgumentError("", detail)
	case response.CodeNotFound:
		return &galleryerrors.NotFoundError{}
	case response.CodeDimensionMismatch:
		return &galleryerrors.ShapeError{Kind: galleryerrors.ShapeDimension}
	case response.CodeSchemaMismatch:
		return &galleryerrors.ShapeError{Kind: galleryerrors.ShapeSchema}
	case response.CodeInferenceUnavailable:
		return galleryerrors.NewUnavailableError(galleryerrors.ServiceInference, cause)
	case response.CodeStoreUnavailable:
		return galleryerrors.NewUnavailableError(galleryerrors.ServiceStore, cause)
	case response.CodeObjectStoreUnavailable:
		return galleryerrors.NewUnavailableError(galleryerrors.ServiceObjects, cause)
	case response.CodeInferenceRejected:
		return galleryerrors.NewInferenceRejectedError(status, detail)
	default:
		return nil
	}
}
