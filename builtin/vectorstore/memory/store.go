// Package memory implements VectorStore entirely in process memory.
// Nothing survives a restart; it is used for ephemeral runs and tests.
package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spetr/docvec/internal/similarity"
	"github.com/spetr/docvec/pkg/provider"
	"github.com/spetr/docvec/pkg/types"
)

// Store implements the VectorStore interface with in-process maps.
type Store struct {
	embedding provider.EmbeddingProvider
	chunker   provider.Chunker
	detector  provider.ChangeDetector

	mu     sync.RWMutex
	chunks map[string][]types.DocumentChunk
	files  map[string]types.FileMetadata
	closed bool
}

// Config contains memory store configuration.
type Config struct {
	Embedding provider.EmbeddingProvider
	Chunker   provider.Chunker
	Detector  provider.ChangeDetector
}

// New creates a new in-memory store.
func New(cfg Config) *Store {
	return &Store{
		embedding: cfg.Embedding,
		chunker:   cfg.Chunker,
		detector:  cfg.Detector,
		chunks:    make(map[string][]types.DocumentChunk),
		files:     make(map[string]types.FileMetadata),
	}
}

// Name returns the store name.
func (s *Store) Name() string {
	return "memory"
}

// IndexDocument chunks, embeds and stores a document, replacing any prior
// chunks for sourceFile. Unchanged content short-circuits before any
// embedding call.
func (s *Store) IndexDocument(ctx context.Context, sourceFile, content string, metadata map[string]any) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return types.ErrStoreClosed
	}
	prior, known := s.files[sourceFile]
	s.mu.RUnlock()

	hash := types.ContentHash(content)
	if known && prior.Hash == hash {
		return nil
	}

	pieces := s.chunker.Split(content)
	if len(pieces) == 0 {
		return nil
	}

	embeddings, err := s.embedding.Embed(ctx, pieces)
	if err != nil {
		return fmt.Errorf("%w for %s: %v", types.ErrEmbeddingFailed, sourceFile, err)
	}
	if len(embeddings) != len(pieces) {
		return fmt.Errorf("%w for %s: got %d embeddings for %d chunks", types.ErrEmbeddingFailed, sourceFile, len(embeddings), len(pieces))
	}

	now := time.Now()
	rows := make([]types.DocumentChunk, len(pieces))
	for i, piece := range pieces {
		rows[i] = types.DocumentChunk{
			SourceFile: sourceFile,
			ChunkIndex: i,
			Content:    piece,
			Embedding:  embeddings[i],
			Metadata:   mergeMetadata(sourceFile, metadata),
			FileHash:   hash,
			IndexedAt:  now,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrStoreClosed
	}
	s.chunks[sourceFile] = rows
	s.files[sourceFile] = types.FileMetadata{
		FilePath:     sourceFile,
		Hash:         hash,
		Size:         int64(len(content)),
		LastModified: now,
		LastChecked:  now,
	}

	return nil
}

// Search embeds the query and ranks stored chunks by cosine similarity.
// An embedding failure degrades to an empty result set.
func (s *Store) Search(ctx context.Context, query types.RagQuery) ([]types.SearchResult, error) {
	queryVec, err := s.embedding.Embed(ctx, []string{query.Query})
	if err != nil || len(queryVec) == 0 {
		return []types.SearchResult{}, nil
	}

	s.mu.RLock()
	candidates := s.loadCandidates(query.FileFilters)
	s.mu.RUnlock()

	return similarity.Rank(queryVec[0], candidates, query.MinSimilarity, query.TopK)
}

// loadCandidates returns chunks matching any of the filters, in a
// deterministic file-then-index order. Callers hold s.mu.
func (s *Store) loadCandidates(fileFilters []string) []types.DocumentChunk {
	sources := make([]string, 0, len(s.chunks))
	for source := range s.chunks {
		if matchesAny(source, fileFilters) {
			sources = append(sources, source)
		}
	}
	sort.Strings(sources)

	var candidates []types.DocumentChunk
	for _, source := range sources {
		candidates = append(candidates, s.chunks[source]...)
	}
	return candidates
}

// ChunkCount returns the total number of stored chunks.
func (s *Store) ChunkCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, nil
	}

	total := 0
	for _, rows := range s.chunks {
		total += len(rows)
	}
	return total, nil
}

// IndexedFiles returns the distinct source files with stored chunks.
func (s *Store) IndexedFiles(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return []string{}, nil
	}

	files := make([]string, 0, len(s.chunks))
	for source := range s.chunks {
		files = append(files, source)
	}
	sort.Strings(files)
	return files, nil
}

// DeleteFile removes all chunks for a source file.
func (s *Store) DeleteFile(ctx context.Context, sourceFile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.ErrStoreClosed
	}
	delete(s.chunks, sourceFile)
	delete(s.files, sourceFile)
	return nil
}

// ClearIndex removes all chunks unconditionally.
func (s *Store) ClearIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.ErrStoreClosed
	}
	s.chunks = make(map[string][]types.DocumentChunk)
	s.files = make(map[string]types.FileMetadata)
	return nil
}

// BatchCheckChanges reports, per path, whether the file on disk differs
// from what the store has indexed.
func (s *Store) BatchCheckChanges(ctx context.Context, paths []string) (map[string]bool, error) {
	s.mu.RLock()
	stored := make(map[string]types.FileMetadata, len(s.files))
	for path, meta := range s.files {
		stored[path] = meta
	}
	s.mu.RUnlock()

	return s.detector.BatchCheck(ctx, paths, stored)
}

// Close releases resources. Subsequent reads degrade to zero values.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.chunks = make(map[string][]types.DocumentChunk)
	s.files = make(map[string]types.FileMetadata)
	return nil
}

// mergeMetadata merges caller-supplied metadata with store-injected keys.
func mergeMetadata(sourceFile string, metadata map[string]any) map[string]any {
	merged := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		merged[k] = v
	}
	merged["file_name"] = filepath.Base(sourceFile)
	merged["file_extension"] = filepath.Ext(sourceFile)
	return merged
}

// matchesAny reports whether source contains any filter substring.
// An empty filter list matches everything.
func matchesAny(source string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if strings.Contains(source, f) {
			return true
		}
	}
	return false
}

// Ensure Store implements VectorStore interface
var _ provider.VectorStore = (*Store)(nil)
