package main

import (
	"testing"

	"github.com/spetr/docvec/internal/config"
)

func TestSearchOptionsResolve(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Search.TopK = 5
	cfg.Search.MinSimilarity = 0.3

	tests := []struct {
		name    string
		opts    searchOptions
		wantK   int
		wantSim float64
	}{
		{
			name:    "unset flags fall back to config",
			opts:    searchOptions{},
			wantK:   5,
			wantSim: 0.3,
		},
		{
			name:    "explicit values win",
			opts:    searchOptions{topK: 10, topKSet: true, minSimilarity: 0.7, minSimilaritySet: true},
			wantK:   10,
			wantSim: 0.7,
		},
		{
			name:    "explicit zero is kept, not replaced by defaults",
			opts:    searchOptions{topK: 0, topKSet: true, minSimilarity: 0, minSimilaritySet: true},
			wantK:   0,
			wantSim: 0,
		},
		{
			name:    "mixed: only min-similarity set",
			opts:    searchOptions{minSimilarity: 0.9, minSimilaritySet: true},
			wantK:   5,
			wantSim: 0.9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topK, minSim := tt.opts.resolve(cfg)
			if topK != tt.wantK {
				t.Errorf("topK = %d, want %d", topK, tt.wantK)
			}
			if minSim != tt.wantSim {
				t.Errorf("minSimilarity = %v, want %v", minSim, tt.wantSim)
			}
		})
	}
}
