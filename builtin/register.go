// Package builtin registers all built-in providers with the default registry.
package builtin

import (
	ollamaEmbed "github.com/spetr/docvec/builtin/embedding/ollama"
	openaiEmbed "github.com/spetr/docvec/builtin/embedding/openai"
	windowChunker "github.com/spetr/docvec/builtin/chunking/window"
	"github.com/spetr/docvec/builtin/vectorstore/memory"
	"github.com/spetr/docvec/builtin/vectorstore/sqlite"
	"github.com/spetr/docvec/internal/detect"
	"github.com/spetr/docvec/pkg/provider"
)

func init() {
	// Register embedding providers
	provider.RegisterEmbedding("ollama", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return ollamaEmbed.New(ollamaEmbed.Config{
			Endpoint:  cfg.Endpoint,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		}), nil
	})

	provider.RegisterEmbedding("openai", func(cfg provider.EmbeddingConfig) (provider.EmbeddingProvider, error) {
		return openaiEmbed.New(openaiEmbed.Config{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.Endpoint,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		}), nil
	})

	// Register chunkers
	provider.RegisterChunker("window", func(cfg provider.ChunkingConfig) (provider.Chunker, error) {
		return windowChunker.New(windowChunker.Config{
			ChunkSize: cfg.ChunkSize,
			Overlap:   cfg.Overlap,
		})
	})

	// Register vector stores
	provider.RegisterVectorStore("sqlite", func(cfg provider.VectorStoreConfig, embedding provider.EmbeddingProvider, chunker provider.Chunker) (provider.VectorStore, error) {
		return sqlite.New(sqlite.Config{
			Path:      cfg.Path,
			Embedding: embedding,
			Chunker:   chunker,
			Detector:  detect.New(),
		})
	})

	provider.RegisterVectorStore("memory", func(cfg provider.VectorStoreConfig, embedding provider.EmbeddingProvider, chunker provider.Chunker) (provider.VectorStore, error) {
		return memory.New(memory.Config{
			Embedding: embedding,
			Chunker:   chunker,
			Detector:  detect.New(),
		}), nil
	})
}
