// Package types contains shared data types used across the docvec project.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Default query parameters.
const (
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.0
)

// DocumentChunk is a unit of retrievable text with its embedding.
type DocumentChunk struct {
	SourceFile string         // Path or URI of the originating document
	ChunkIndex int            // Zero-based, consecutive within SourceFile
	Content    string         // The chunk's text slice
	Embedding  []float32      // Fixed-length vector for Content
	Metadata   map[string]any // Open string-keyed bag (author, mime type, ...)
	FileHash   string         // Hash of the whole source document at index time
	IndexedAt  time.Time      // Timestamp of the write
}

// FileMetadata records what the store knew about a file when it was last
// indexed or checked. Used to decide whether a file needs reindexing
// without recomputing its hash when avoidable.
type FileMetadata struct {
	FilePath     string
	Hash         string
	Size         int64
	LastModified time.Time
	LastChecked  time.Time
}

// RagQuery describes a similarity search.
type RagQuery struct {
	Query         string   // Query text to embed
	TopK          int      // Max results; 0 means DefaultTopK
	MinSimilarity float64  // Inclusive lower bound on similarity
	FileFilters   []string // Substring filters on SourceFile; empty = no filter
}

// SearchResult pairs a chunk with its similarity score for one query.
type SearchResult struct {
	Chunk      DocumentChunk
	Similarity float64
}

// IndexProgress reports indexing progress to callers.
type IndexProgress struct {
	Phase          string // scanning, indexing, done
	TotalFiles     int
	ProcessedFiles int
	SkippedFiles   int
	FailedFiles    int
	CurrentFile    string
}

// ContentHash returns the hex SHA256 of a document's text. This is the hash
// stored in DocumentChunk.FileHash and FileMetadata.Hash.
func ContentHash(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}
