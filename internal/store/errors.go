package store

import "errors"

// Sentinel errors returned by the repository. Callers match with
// errors.Is; the API layer maps them onto HTTP status codes.
var (
	// ErrValidation indicates malformed or empty input. Not retryable;
	// the caller must correct the request.
	ErrValidation = errors.New("validation failed")

	// ErrPermission indicates a role or ownership check failed. Never
	// retried.
	ErrPermission = errors.New("permission denied")

	// ErrNotFound indicates the room, member or message does not exist
	// or is not visible to the requester.
	ErrNotFound = errors.New("not found")
)
