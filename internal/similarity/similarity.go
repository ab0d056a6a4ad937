// Package similarity scores stored chunks against a query vector and
// produces ranked results.
package similarity

import (
	"fmt"
	"math"
	"sort"

	"github.com/spetr/docvec/pkg/types"
)

// Cosine computes the cosine similarity between two vectors: dot product
// divided by the product of their magnitudes. Vectors of different lengths
// are a configuration error (index built with a different embedding model
// than the query) and fail loudly. Zero-magnitude vectors score 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", types.ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Rank scores candidates against the query vector, drops entries below
// minSimilarity (inclusive bound: similarity >= minSimilarity passes),
// sorts the rest by descending similarity and truncates to topK. The sort
// is stable so exact ties keep their load order.
func Rank(query []float32, candidates []types.DocumentChunk, minSimilarity float64, topK int) ([]types.SearchResult, error) {
	if topK <= 0 {
		topK = types.DefaultTopK
	}

	results := make([]types.SearchResult, 0, len(candidates))
	for _, chunk := range candidates {
		score, err := Cosine(query, chunk.Embedding)
		if err != nil {
			return nil, fmt.Errorf("scoring chunk %s[%d]: %w", chunk.SourceFile, chunk.ChunkIndex, err)
		}
		if score >= minSimilarity {
			results = append(results, types.SearchResult{Chunk: chunk, Similarity: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}
