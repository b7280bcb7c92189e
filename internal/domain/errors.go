package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input to a transition.
	ErrValidation = errors.New("validation failed")
	// ErrPreconditionFailed marks a transition attempted from a state that does not permit it.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrAuthorization marks an actor without the required relationship to the document.
	ErrAuthorization = errors.New("not authorized")
	// ErrConflict marks a failed optimistic concurrency check.
	ErrConflict = errors.New("concurrent modification")
	// ErrWebhookAuthenticity marks a webhook whose signature could not be verified.
	ErrWebhookAuthenticity = errors.New("webhook signature rejected")
	// ErrExternalProvider marks a failed call to the signing provider.
	ErrExternalProvider = errors.New("signing provider error")
	// ErrStorageUnavailable marks a storage failure; callers must fail closed.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrNotFound marks a missing document.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSignature is returned when a signer already has a signature on the document.
	ErrDuplicateSignature = fmt.Errorf("%w: signature already recorded for signer", ErrPreconditionFailed)
	// ErrEmptyPayload is returned when a signature carries no data.
	ErrEmptyPayload = fmt.Errorf("%w: signature payload is empty", ErrValidation)
)

// Reject wraps a taxonomy sentinel with a caller facing message.
func Reject(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// ErrorCode returns the stable code used in API error bodies.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateSignature):
		return "DUPLICATE_SIGNATURE"
	case errors.Is(err, ErrEmptyPayload):
		return "EMPTY_PAYLOAD"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAuthorization):
		return "AUTHORIZATION_ERROR"
	case errors.Is(err, ErrPreconditionFailed):
		return "PRECONDITION_FAILED"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrWebhookAuthenticity):
		return "WEBHOOK_AUTHENTICITY_ERROR"
	case errors.Is(err, ErrExternalProvider):
		return "EXTERNAL_PROVIDER_ERROR"
	case errors.Is(err, ErrStorageUnavailable):
		return "STORAGE_UNAVAILABLE"
	}
	return "INTERNAL_ERROR"
}
