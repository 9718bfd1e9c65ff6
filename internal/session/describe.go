package session

import (
	"context"
	"errors"

	"github.com/mediaembed/gallery/internal/galleryerrors"
)

// Describe turns a failure into a short notification message without transport details.
func Describe(err error) string {
	var (
		invalid  *galleryerrors.InvalidArgumentError
		rejected *galleryerrors.InferenceRejectedError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalid):
		return invalid.Error()
	case errors.As(err, &rejected):
		return "The embedding model could not process this input."
	case errors.Is(err, galleryerrors.ErrInferenceUnavailable):
		return "The embedding service is temporarily unavailable. Please try again."
	case errors.Is(err, galleryerrors.ErrStoreUnavailable):
		return "The gallery store is temporarily unavailable. Please try again."
	case errors.Is(err, galleryerrors.ErrNotFound):
		return "The requested item no longer exists."
	case errors.Is(err, galleryerrors.ErrDimensionMismatch), errors.Is(err, galleryerrors.ErrSchemaMismatch),
		errors.Is(err, galleryerrors.ErrInferenceAuth):
		return "The gallery is misconfigured. Please contact an administrator."
	case errors.Is(err, context.DeadlineExceeded):
		return "The request timed out. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
