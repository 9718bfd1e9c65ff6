package observability

import (
	"errors"

	"github.com/mediaembed/gallery/internal/galleryerrors"
)

// StatusFromError maps an operation result onto the bounded status label set.
func StatusFromError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, galleryerrors.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, galleryerrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, galleryerrors.ErrDimensionMismatch), errors.Is(err, galleryerrors.ErrSchemaMismatch):
		return "mismatch"
	case errors.Is(err, galleryerrors.ErrInferenceRejected):
		return "rejected"
	case galleryerrors.IsRetryable(err):
		return "unavailable"
	default:
		return "other"
	}
}
