package memory

import "errors"

// Sentinel errors for the memory facade. Lower-level failures are wrapped
// into exactly one of these, so callers discriminate with errors.Is and
// never see storage-engine or HTTP error shapes.
var (
	// ErrValidation indicates bad input (empty content, importance out of
	// [1,5], unknown emotion). Rejected before any I/O; never retried.
	ErrValidation = errors.New("validation error")

	// ErrNotConnected indicates an operation was issued before Connect.
	ErrNotConnected = errors.New("memory store not connected")

	// ErrEmbeddingUnavailable indicates the embedding call failed or timed
	// out. There is no fallback to a null embedding.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrStorage indicates a persistence or connectivity failure. The core
	// does not retry; backoff policy belongs to the caller.
	ErrStorage = errors.New("storage error")
)
