// Package window implements a sliding-window chunking strategy with
// overlap, so phrases spanning a chunk boundary remain retrievable from at
// least one chunk.
package window

import (
	"fmt"
	"strings"

	"github.com/spetr/docvec/pkg/provider"
	"github.com/spetr/docvec/pkg/types"
)

// Default values
const (
	DefaultChunkSize = 1000 // runes per chunk
	DefaultOverlap   = 200  // runes shared by consecutive chunks
)

// Config contains configuration for window chunking.
type Config struct {
	ChunkSize int // Chunk size in runes
	Overlap   int // Overlap between consecutive chunks in runes
}

// Chunker splits text into overlapping fixed-size windows.
type Chunker struct {
	chunkSize int
	overlap   int
}

// New creates a new window chunker. Overlap must be smaller than the chunk
// size or the window could not advance.
func New(cfg Config) (*Chunker, error) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Overlap == 0 && cfg.ChunkSize > DefaultOverlap {
		cfg.Overlap = DefaultOverlap
	}

	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", types.ErrInvalidConfig, cfg.ChunkSize)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, chunk size), got %d for size %d", types.ErrInvalidConfig, cfg.Overlap, cfg.ChunkSize)
	}

	return &Chunker{chunkSize: cfg.ChunkSize, overlap: cfg.Overlap}, nil
}

// Name returns the strategy name.
func (c *Chunker) Name() string {
	return "window"
}

// Split splits content into overlapping chunks. Content shorter than the
// chunk size yields exactly one chunk; empty or whitespace-only content
// yields none. Windows are measured in runes so multibyte text never
// splits mid-character.
func (c *Chunker) Split(content string) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	runes := []rune(content)
	if len(runes) <= c.chunkSize {
		return []string{content}
	}

	step := c.chunkSize - c.overlap
	chunks := make([]string, 0, len(runes)/step+1)

	for pos := 0; ; pos += step {
		end := pos + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[pos:end]))
		if end >= len(runes) {
			break
		}
	}

	return chunks
}

// Ensure Chunker implements the Chunker interface
var _ provider.Chunker = (*Chunker)(nil)
