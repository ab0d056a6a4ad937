package provider

import (
	"fmt"
	"sync"
)

// EmbeddingFactory creates an EmbeddingProvider from configuration.
type EmbeddingFactory func(config EmbeddingConfig) (EmbeddingProvider, error)

// ChunkerFactory creates a Chunker from configuration.
type ChunkerFactory func(config ChunkingConfig) (Chunker, error)

// VectorStoreFactory creates a VectorStore. The embedding provider and
// chunker are injected so stores can orchestrate indexing themselves.
type VectorStoreFactory func(config VectorStoreConfig, embedding EmbeddingProvider, chunker Chunker) (VectorStore, error)

// Registry holds factories for all provider types.
type Registry struct {
	mu sync.RWMutex

	embeddingFactories   map[string]EmbeddingFactory
	chunkerFactories     map[string]ChunkerFactory
	vectorStoreFactories map[string]VectorStoreFactory
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		embeddingFactories:   make(map[string]EmbeddingFactory),
		chunkerFactories:     make(map[string]ChunkerFactory),
		vectorStoreFactories: make(map[string]VectorStoreFactory),
	}
}

// RegisterEmbedding registers an embedding provider factory.
func (r *Registry) RegisterEmbedding(name string, factory EmbeddingFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddingFactories[name] = factory
}

// RegisterChunker registers a chunker factory.
func (r *Registry) RegisterChunker(name string, factory ChunkerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunkerFactories[name] = factory
}

// RegisterVectorStore registers a vector store factory.
func (r *Registry) RegisterVectorStore(name string, factory VectorStoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vectorStoreFactories[name] = factory
}

// CreateEmbedding creates an embedding provider by name.
func (r *Registry) CreateEmbedding(name string, config EmbeddingConfig) (EmbeddingProvider, error) {
	r.mu.RLock()
	factory, ok := r.embeddingFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s (available: %v)", name, r.ListEmbeddings())
	}
	return factory(config)
}

// CreateChunker creates a chunker by name.
func (r *Registry) CreateChunker(name string, config ChunkingConfig) (Chunker, error) {
	r.mu.RLock()
	factory, ok := r.chunkerFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown chunking strategy: %s (available: %v)", name, r.ListChunkers())
	}
	return factory(config)
}

// CreateVectorStore creates a vector store by name.
func (r *Registry) CreateVectorStore(name string, config VectorStoreConfig, embedding EmbeddingProvider, chunker Chunker) (VectorStore, error) {
	r.mu.RLock()
	factory, ok := r.vectorStoreFactories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown vector store: %s (available: %v)", name, r.ListVectorStores())
	}
	return factory(config, embedding, chunker)
}

// ListEmbeddings returns all registered embedding provider names.
func (r *Registry) ListEmbeddings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.embeddingFactories))
	for name := range r.embeddingFactories {
		names = append(names, name)
	}
	return names
}

// ListChunkers returns all registered chunker names.
func (r *Registry) ListChunkers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.chunkerFactories))
	for name := range r.chunkerFactories {
		names = append(names, name)
	}
	return names
}

// ListVectorStores returns all registered vector store names.
func (r *Registry) ListVectorStores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.vectorStoreFactories))
	for name := range r.vectorStoreFactories {
		names = append(names, name)
	}
	return names
}

// HasVectorStore checks if a vector store is registered.
func (r *Registry) HasVectorStore(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.vectorStoreFactories[name]
	return ok
}

// DefaultRegistry is the global default registry.
var DefaultRegistry = NewRegistry()

// RegisterEmbedding registers an embedding provider in the default registry.
func RegisterEmbedding(name string, factory EmbeddingFactory) {
	DefaultRegistry.RegisterEmbedding(name, factory)
}

// RegisterChunker registers a chunker in the default registry.
func RegisterChunker(name string, factory ChunkerFactory) {
	DefaultRegistry.RegisterChunker(name, factory)
}

// RegisterVectorStore registers a vector store in the default registry.
func RegisterVectorStore(name string, factory VectorStoreFactory) {
	DefaultRegistry.RegisterVectorStore(name, factory)
}
