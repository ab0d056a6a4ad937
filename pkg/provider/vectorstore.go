package provider

import (
	"context"

	"github.com/spetr/docvec/pkg/types"
)

// VectorStore turns documents into persisted, searchable semantic chunks
// and retrieves the most relevant chunks for a query.
//
// All operations are safe for concurrent use. Writes to the same source
// file are linearized through the backing store's transaction; there is no
// ordering guarantee across different source files.
type VectorStore interface {
	// IndexDocument chunks, embeds and persists a document, replacing any
	// previously stored chunks for sourceFile atomically. Empty or
	// whitespace-only content is a no-op. When the content hash matches
	// what is already stored, the call returns without touching the
	// embedding provider. An embedding failure aborts the reindex and
	// leaves the previously persisted chunks intact.
	IndexDocument(ctx context.Context, sourceFile, content string, metadata map[string]any) error

	// Search embeds the query text and returns up to query.TopK chunks
	// with similarity >= query.MinSimilarity, sorted by descending
	// similarity. An embedding failure degrades to an empty result.
	Search(ctx context.Context, query types.RagQuery) ([]types.SearchResult, error)

	// ChunkCount returns the total number of stored chunks.
	// Degrades to 0 on a closed store.
	ChunkCount(ctx context.Context) (int, error)

	// IndexedFiles returns the distinct source files with stored chunks.
	// Degrades to an empty slice on a closed store.
	IndexedFiles(ctx context.Context) ([]string, error)

	// DeleteFile removes all chunks for a source file.
	DeleteFile(ctx context.Context, sourceFile string) error

	// ClearIndex removes all chunks unconditionally.
	ClearIndex(ctx context.Context) error

	// BatchCheckChanges reports, per path, whether the file on disk
	// differs from what the store has indexed. Paths never indexed
	// report true.
	BatchCheckChanges(ctx context.Context, paths []string) (map[string]bool, error)

	// Close releases resources and closes connections.
	Close() error
}

// VectorStoreConfig contains configuration for vector stores.
type VectorStoreConfig struct {
	Provider string // "sqlite", "memory"
	Path     string // Path to database file (sqlite only)
}
