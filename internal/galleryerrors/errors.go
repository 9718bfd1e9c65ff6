// Package galleryerrors provides the error taxonomy shared by the store, inference, and API layers.
package galleryerrors

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument represents client input that violates a stated contract.
var ErrInvalidArgument = &InvalidArgumentError{}

// InvalidArgumentError is returned when a request fails validation.
type InvalidArgumentError struct {
	Field   string
	Message string
}

// NewInvalidArgumentError creates an InvalidArgumentError for field with a custom message.
func NewInvalidArgumentError(field, message string) *InvalidArgumentError {
	return &InvalidArgumentError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface.
func (e *InvalidArgumentError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return "invalid argument: " + e.Field
	}

	return "invalid argument"
}

// Is implements the error interface for error comparison.
func (e *InvalidArgumentError) Is(target error) bool {
	_, ok := target.(*InvalidArgumentError)

	return ok
}

// ErrNotFound represents a referenced identifier that does not exist.
var ErrNotFound = &NotFoundError{}

// NotFoundError is returned when a record is absent.
type NotFoundError struct {
	Resource string
	ID       string
}

// NewNotFoundError creates a NotFoundError for the given resource and id.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	switch {
	case e.Resource != "" && e.ID != "":
		return e.Resource + " " + e.ID + " not found"
	case e.Resource != "":
		return e.Resource + " not found"
	default:
		return "not found"
	}
}

// Is implements the error interface for error comparison.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)

	return ok
}

// ErrDimensionMismatch is the sentinel for a query vector whose length disagrees with the table.
var ErrDimensionMismatch = &ShapeError{Kind: ShapeDimension}

// ErrSchemaMismatch is the sentinel for a stored vector whose length disagrees with the table.
var ErrSchemaMismatch = &ShapeError{Kind: ShapeSchema}

// ShapeKind distinguishes query-side from write-side vector shape violations.
type ShapeKind string

const (
	ShapeDimension ShapeKind = "dimension_mismatch"
	ShapeSchema    ShapeKind = "schema_mismatch"
)

// ShapeError reports a vector length that disagrees with the deployment dimension.
// It indicates a misconfigured deployment and fails only the current operation.
type ShapeError struct {
	Kind     ShapeKind
	Expected int
	Got      int
}

// NewDimensionMismatchError is returned for query vectors of the wrong length.
func NewDimensionMismatchError(expected, got int) *ShapeError {
	return &ShapeError{Kind: ShapeDimension, Expected: expected, Got: got}
}

// NewSchemaMismatchError is returned for records whose vector length disagrees with the table.
func NewSchemaMismatchError(expected, got int) *ShapeError {
	return &ShapeError{Kind: ShapeSchema, Expected: expected, Got: got}
}

// Error implements the error interface.
func (e *ShapeError) Error() string {
	prefix := "schema mismatch"
	if e.Kind == ShapeDimension {
		prefix = "dimension mismatch"
	}

	if e.Expected == 0 && e.Got == 0 {
		return prefix
	}

	return fmt.Sprintf("%s: expected %d, got %d", prefix, e.Expected, e.Got)
}

// Is matches ShapeError targets of the same kind.
func (e *ShapeError) Is(target error) bool {
	t, ok := target.(*ShapeError)

	return ok && t.Kind == e.Kind
}

// Service names the remote collaborator that failed.
type Service string

const (
	ServiceInference Service = "inference"
	ServiceStore     Service = "store"
	ServiceObjects   Service = "object_store"
)

// ErrInferenceUnavailable is the sentinel for transient inference failures.
var ErrInferenceUnavailable = &UnavailableError{Service: ServiceInference}

// ErrStoreUnavailable is the sentinel for transient vector store failures.
var ErrStoreUnavailable = &UnavailableError{Service: ServiceStore}

// ErrObjectStoreUnavailable is the sentinel for transient upload failures.
var ErrObjectStoreUnavailable = &UnavailableError{Service: ServiceObjects}

// UnavailableError is a transient remote failure; callers may retry.
type UnavailableError struct {
	Service Service
	Err     error
}

// NewUnavailableError wraps err as a transient failure of service.
func NewUnavailableError(service Service, err error) *UnavailableError {
	return &UnavailableError{Service: service, Err: err}
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	msg := string(e.Service) + " unavailable"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying transport error.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is matches UnavailableError targets for the same service.
func (e *UnavailableError) Is(target error) bool {
	t, ok := target.(*UnavailableError)

	return ok && t.Service == e.Service
}

// ErrInferenceRejected is the sentinel for permanent rejections by the inference service.
var ErrInferenceRejected = &InferenceRejectedError{}

// InferenceRejectedError means the model declined the input (e.g. malformed media URL).
// It is not safe to retry.
type InferenceRejectedError struct {
	StatusCode int
	Message    string
}

// NewInferenceRejectedError creates an InferenceRejectedError.
func NewInferenceRejectedError(statusCode int, message string) *InferenceRejectedError {
	return &InferenceRejectedError{StatusCode: statusCode, Message: message}
}

// Error implements the error interface.
func (e *InferenceRejectedError) Error() string {
	if e.Message != "" {
		return "inference rejected: " + e.Message
	}

	return "inference rejected"
}

// Is implements the error interface for error comparison.
func (e *InferenceRejectedError) Is(target error) bool {
	_, ok := target.(*InferenceRejectedError)

	return ok
}

// IsRetryable reports whether err is a transient remote failure.
func IsRetryable(err error) bool {
	var u *UnavailableError

	return errors.As(err, &u)
}

// ErrInferenceAuth is returned when the inference provider refuses the configured credentials.
// It is neither retryable nor the caller's fault.
var ErrInferenceAuth = errors.New("inference provider rejected the credentials")

// FromInferenceStatus maps a failed inference HTTP status: 408, 429 and 5xx are transient,
// 401 and 403 are ErrInferenceAuth, every other status is a rejection.
func FromInferenceStatus(status int, message string) error {
	switch {
	case status == 408 || status == 429 || status >= 500:
		return NewUnavailableError(ServiceInference, fmt.Errorf("status %d: %s", status, message))
	case status == 401 || status == 403:
		return fmt.Errorf("%w: status %d: %s", ErrInferenceAuth, status, message)
	default:
		return NewInferenceRejectedError(status, message)
	}
}
