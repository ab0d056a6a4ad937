package types

import "errors"

// Sentinel errors for common error conditions.
var (
	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStoreClosed is returned by write operations on a closed store.
	// Read operations degrade to zero values instead.
	ErrStoreClosed = errors.New("store is closed")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrDimensionMismatch is returned when a query vector and a stored
	// vector have different lengths. This indicates the index was built
	// with a different embedding model than the one used to query.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
