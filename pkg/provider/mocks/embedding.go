// Package mocks provides hand-rolled test doubles for provider interfaces.
package mocks

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/spetr/docvec/pkg/provider"
)

// ErrEmbeddingUnavailable is returned by the mock when failure is armed.
var ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

// EmbeddingProvider is a deterministic in-process embedding provider.
// Texts embed into a bag-of-words vector bucketed by each word's first
// byte, so texts sharing words score higher than unrelated ones and
// results are fully reproducible.
type EmbeddingProvider struct {
	mu         sync.Mutex
	dimensions int
	failNext   bool
	calls      int
}

// NewEmbeddingProvider creates a new mock embedding provider.
func NewEmbeddingProvider() *EmbeddingProvider {
	return &EmbeddingProvider{dimensions: 32}
}

// Name returns the provider name.
func (m *EmbeddingProvider) Name() string {
	return "mock"
}

// Embed generates deterministic embeddings, one per input text.
func (m *EmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext {
		m.failNext = false
		return nil, ErrEmbeddingUnavailable
	}
	m.calls++

	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = m.generateEmbedding(text)
	}
	return result, nil
}

// generateEmbedding buckets each word of the text by its first byte.
func (m *EmbeddingProvider) generateEmbedding(text string) []float32 {
	embedding := make([]float32, m.dimensions)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		embedding[int(word[0])%m.dimensions]++
	}
	return embedding
}

// Dimensions returns the embedding dimension size.
func (m *EmbeddingProvider) Dimensions() int {
	return m.dimensions
}

// MaxBatchSize returns the maximum batch size.
func (m *EmbeddingProvider) MaxBatchSize() int {
	return 64
}

// Close releases resources.
func (m *EmbeddingProvider) Close() error {
	return nil
}

// FailNext arms the mock to fail its next Embed call.
func (m *EmbeddingProvider) FailNext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = true
}

// EmbedCalls returns the number of successful Embed calls.
func (m *EmbeddingProvider) EmbedCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Ensure EmbeddingProvider implements the interface
var _ provider.EmbeddingProvider = (*EmbeddingProvider)(nil)
