// Package errs holds the coordinator's error kinds: a small set of
// sentinel values wrapped with fmt.Errorf("...: %w", ...) at the point of
// failure, the same convention used throughout pkg/manager.
package errs

import "errors"

var (
	// ErrNotLeader is returned by a mutating operation attempted on a
	// non-leader node. The client should retry against the leader.
	ErrNotLeader = errors.New("not leader")

	// ErrInvalidSchema means an extractor's declared input schema failed
	// to compile.
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrInvalidBindingParams means a binding's input params failed
	// validation against its extractor's schema.
	ErrInvalidBindingParams = errors.New("invalid binding params")

	// ErrMissingMapping means the task factory could not resolve an
	// output table mapping — an admission-time bug in the referenced
	// binding.
	ErrMissingMapping = errors.New("missing output mapping")

	// ErrUnknownExtractor means a binding names an unregistered extractor.
	ErrUnknownExtractor = errors.New("unknown extractor")

	// ErrStorageError wraps a failed state-store commit.
	ErrStorageError = errors.New("storage error")

	// ErrSelfReferentialBinding means a binding's content_source names
	// itself, which would require its own output as its own input.
	ErrSelfReferentialBinding = errors.New("self-referential binding")

	// ErrNotFound means a lookup by id or name found nothing.
	ErrNotFound = errors.New("not found")
)
