package provider

// Chunker splits document text into retrievable chunks.
type Chunker interface {
	// Name returns the strategy name (e.g., "window").
	Name() string

	// Split splits content into ordered chunks. Consecutive chunks
	// overlap so phrases spanning a boundary stay retrievable from at
	// least one chunk. Empty or whitespace-only content yields no chunks.
	Split(content string) []string
}

// ChunkingConfig contains configuration for chunking strategies.
type ChunkingConfig struct {
	Strategy  string // "window"
	ChunkSize int    // Chunk size in runes
	Overlap   int    // Overlap between consecutive chunks in runes
}
