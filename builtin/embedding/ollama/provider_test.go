package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

// newStubServer returns an Ollama-shaped endpoint that records every
// prompt it receives and answers with a fixed-size embedding.
func newStubServer(t *testing.T, dims int, prompts *[]string, mu *sync.Mutex) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if prompts != nil {
			mu.Lock()
			*prompts = append(*prompts, req.Prompt)
			mu.Unlock()
		}

		embedding := make([]float64, dims)
		for i := range embedding {
			embedding[i] = 0.1
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": embedding})
	}))
}

func TestEmbedAutoDetectsDimensions(t *testing.T) {
	server := newStubServer(t, 512, nil, nil)
	defer server.Close()

	p := New(Config{Endpoint: server.URL})

	if got := p.Dimensions(); got != DefaultDimensions {
		t.Fatalf("Dimensions() before embed = %d, want default %d", got, DefaultDimensions)
	}

	if _, err := p.Embed(context.Background(), []string{"hello"}); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if got := p.Dimensions(); got != 512 {
		t.Errorf("Dimensions() after embed = %d, want 512", got)
	}
}

func TestEmbedConcurrentDimensionDetect(t *testing.T) {
	server := newStubServer(t, 384, nil, nil)
	defer server.Close()

	p := New(Config{Endpoint: server.URL})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Embed(context.Background(), []string{"alpha", "beta"}); err != nil {
				t.Errorf("Embed() error = %v", err)
			}
			if got := p.Dimensions(); got != 384 && got != DefaultDimensions {
				t.Errorf("Dimensions() = %d, want 384 or default", got)
			}
		}()
	}
	wg.Wait()

	if got := p.Dimensions(); got != 384 {
		t.Errorf("Dimensions() = %d, want 384", got)
	}
}

func TestEmbedTruncatesOnRuneBoundary(t *testing.T) {
	var (
		mu      sync.Mutex
		prompts []string
	)
	server := newStubServer(t, 8, &prompts, &mu)
	defer server.Close()

	p := New(Config{Endpoint: server.URL})

	// One ASCII byte followed by 2-byte runes puts the byte limit
	// in the middle of a rune.
	long := "a" + strings.Repeat("é", maxPromptChars)

	if _, err := p.Embed(context.Background(), []string{long}); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(prompts) != 1 {
		t.Fatalf("got %d prompts, want 1", len(prompts))
	}
	got := prompts[0]
	if len(got) > maxPromptChars {
		t.Errorf("prompt length = %d, want <= %d", len(got), maxPromptChars)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated prompt is not valid UTF-8")
	}
}

func TestEmbedCancelledContext(t *testing.T) {
	server := newStubServer(t, 8, nil, nil)
	defer server.Close()

	p := New(Config{Endpoint: server.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Embed(ctx, []string{"hello"}); err == nil {
		t.Error("Embed() with cancelled context should fail")
	}
}
