package listing

import "errors"

// Error taxonomy shared by the store, merge, dedup and unify layers.
// The HTTP layer maps these onto status codes; everything else wraps
// them with fmt.Errorf("...: %w", err) and checks with errors.Is.
var (
	// ErrLockTimeout means the listing is under concurrent modification.
	// Retryable by the caller after backoff.
	ErrLockTimeout = errors.New("listing locked by another operation")

	// ErrNotFound means the referenced listing id has no backing folder.
	ErrNotFound = errors.New("listing not found")

	// ErrInvalidInput covers malformed URLs, out-of-range coordinates and
	// wrong-shape payloads, rejected before any mutation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCapabilityUnavailable means the requested fingerprint backend
	// failed to initialize; analyze/dedupe calls using it fail fast.
	ErrCapabilityUnavailable = errors.New("fingerprint backend unavailable")

	// ErrPersistenceFailure means writing a merged record failed. The
	// pre-merge backup has been restored where one was taken.
	ErrPersistenceFailure = errors.New("failed to persist listing")
)
