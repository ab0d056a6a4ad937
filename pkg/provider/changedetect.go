package provider

import (
	"context"

	"github.com/spetr/docvec/pkg/types"
)

// ChangeDetector decides whether files need reindexing without recomputing
// content hashes when avoidable.
type ChangeDetector interface {
	// ComputeHash returns the content hash of the file's bytes.
	// I/O errors propagate to the caller.
	ComputeHash(path string) (string, error)

	// HasChanged reports whether the file differs from the stored record.
	// A zero-valued stored record (never indexed) always reports changed.
	HasChanged(ctx context.Context, path string, stored types.FileMetadata) (bool, error)

	// BatchCheck applies the HasChanged decision across many files in one
	// call. Paths missing from stored report changed.
	BatchCheck(ctx context.Context, paths []string, stored map[string]types.FileMetadata) (map[string]bool, error)
}
