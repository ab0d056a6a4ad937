package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spetr/docvec/builtin/chunking/window"
	"github.com/spetr/docvec/internal/detect"
	"github.com/spetr/docvec/pkg/provider/mocks"
	"github.com/spetr/docvec/pkg/types"
)

func newTestStore(t *testing.T) (*Store, *mocks.EmbeddingProvider) {
	t.Helper()

	chunker, err := window.New(window.Config{ChunkSize: 1000, Overlap: 200})
	if err != nil {
		t.Fatal(err)
	}

	embedding := mocks.NewEmbeddingProvider()
	store, err := New(Config{
		Path:      filepath.Join(t.TempDir(), "index.db"),
		Embedding: embedding,
		Chunker:   chunker,
		Detector:  detect.New(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store, embedding
}

func TestIndexDocumentAndReadBack(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.IndexDocument(ctx, "docs/a.txt", "hello world", map[string]any{"author": "tester"})
	if err != nil {
		t.Fatalf("IndexDocument failed: %v", err)
	}

	files, err := store.IndexedFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != "docs/a.txt" {
		t.Errorf("IndexedFiles = %v, want [docs/a.txt]", files)
	}

	count, err := store.ChunkCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("ChunkCount = %d, want 1", count)
	}

	chunks, err := store.loadCandidates(ctx, store.conn(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if chunks[0].Metadata["author"] != "tester" {
		t.Errorf("caller metadata not preserved: %v", chunks[0].Metadata)
	}
	if chunks[0].Metadata["file_name"] != "a.txt" {
		t.Errorf("file_name not injected: %v", chunks[0].Metadata)
	}
	if chunks[0].Metadata["file_extension"] != ".txt" {
		t.Errorf("file_extension not injected: %v", chunks[0].Metadata)
	}
	if chunks[0].FileHash != types.ContentHash("hello world") {
		t.Errorf("FileHash = %q, want content hash", chunks[0].FileHash)
	}
}

func TestChunkIndicesContiguous(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	// Long repeated-word document splits into several chunks.
	content := strings.Repeat("word ", 2000)
	if err := store.IndexDocument(ctx, "long.txt", content, nil); err != nil {
		t.Fatal(err)
	}

	count, err := store.ChunkCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count <= 1 {
		t.Fatalf("ChunkCount = %d, want > 1 for a long document", count)
	}

	chunks, err := store.loadCandidates(ctx, store.conn(), nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, chunk := range chunks {
		if chunk.ChunkIndex != i {
			t.Errorf("chunk %d has index %d, want contiguous 0..n-1", i, chunk.ChunkIndex)
		}
		if chunk.FileHash != chunks[0].FileHash {
			t.Errorf("chunk %d has different FileHash", i)
		}
	}
}

func TestIndexDocumentEmptyContentIsNoop(t *testing.T) {
	store, embedding := newTestStore(t)
	ctx := context.Background()

	if err := store.IndexDocument(ctx, "empty.txt", "", nil); err != nil {
		t.Fatalf("empty content should be a no-op, got %v", err)
	}
	if err := store.IndexDocument(ctx, "blank.txt", "   \n\t ", nil); err != nil {
		t.Fatalf("whitespace content should be a no-op, got %v", err)
	}

	count, _ := store.ChunkCount(ctx)
	if count != 0 {
		t.Errorf("ChunkCount = %d, want 0", count)
	}
	if embedding.EmbedCalls() != 0 {
		t.Errorf("embedding provider called %d times for empty content", embedding.EmbedCalls())
	}
}

func TestIndexDocumentIdempotent(t *testing.T) {
	store, embedding := newTestStore(t)
	ctx := context.Background()

	if err := store.IndexDocument(ctx, "a.txt", "hello world", nil); err != nil {
		t.Fatal(err)
	}
	callsAfterFirst := embedding.EmbedCalls()
	countAfterFirst, _ := store.ChunkCount(ctx)

	// Same content again: change detection short-circuits before the
	// embedding provider is touched.
	if err := store.IndexDocument(ctx, "a.txt", "hello world", nil); err != nil {
		t.Fatal(err)
	}

	if embedding.EmbedCalls() != callsAfterFirst {
		t.Errorf("embedding provider called on unchanged reindex")
	}
	count, _ := store.ChunkCount(ctx)
	if count != countAfterFirst {
		t.Errorf("ChunkCount changed on unchanged reindex: %d -> %d", countAfterFirst, count)
	}
}

func TestReindexReplacesChunks(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.IndexDocument(ctx, "a.txt", "first version content", nil); err != nil {
		t.Fatal(err)
	}
	if err := store.IndexDocument(ctx, "a.txt", "second version content", nil); err != nil {
		t.Fatal(err)
	}

	chunks, err := store.loadCandidates(ctx, store.conn(), nil)
	if err != nil {
		t.Fatal(err)
	}

	wantHash := types.ContentHash("second version content")
	for _, chunk := range chunks {
		if strings.Contains(chunk.Content, "first") {
			t.Errorf("stale chunk survived reindex: %q", chunk.Content)
		}
		if chunk.FileHash != wantHash {
			t.Errorf("FileHash = %q, want hash of new content", chunk.FileHash)
		}
	}
}

func TestEmbeddingFailureLeavesPriorChunks(t *testing.T) {
	store, embedding := newTestStore(t)
	ctx := context.Background()

	if err := store.IndexDocument(ctx, "a.txt", "original content", nil); err != nil {
		t.Fatal(err)
	}
	before, _ := store.ChunkCount(ctx)

	embedding.FailNext()
	err := store.IndexDocument(ctx, "a.txt", "changed content", nil)
	if err == nil {
		t.Fatal("expected embedding failure to propagate")
	}

	after, _ := store.ChunkCount(ctx)
	if after != before {
		t.Errorf("ChunkCount changed across failed reindex: %d -> %d", before, after)
	}

	// Prior content still searchable.
	results, err := store.Search(ctx, types.RagQuery{Query: "original", TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Error("prior chunks lost after failed reindex")
	}
}

func TestSearchRanking(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.IndexDocument(ctx, "a.txt", "hello world", nil); err != nil {
		t.Fatal(err)
	}
	if err := store.IndexDocument(ctx, "b.txt", "goodbye world", nil); err != nil {
		t.Fatal(err)
	}

	results, err := store.Search(ctx, types.RagQuery{Query: "hello", TopK: 1})
	if err != nil {
		t.Fatal(err)
	}

	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want exactly 1", len(results))
	}
	if results[0].Chunk.SourceFile != "a.txt" {
		t.Errorf("top result from %s, want a.txt", results[0].Chunk.SourceFile)
	}
}

func TestSearchOrderingAndThreshold(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	docs := map[string]string{
		"a.txt": "alpha beta gamma",
		"b.txt": "alpha beta delta",
		"c.txt": "unrelated words entirely",
	}
	for file, content := range docs {
		if err := store.IndexDocument(ctx, file, content, nil); err != nil {
			t.Fatal(err)
		}
	}

	results, err := store.Search(ctx, types.RagQuery{Query: "alpha beta", TopK: 10, MinSimilarity: 0.1})
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not sorted descending at %d", i)
		}
	}
	for _, r := range results {
		if r.Similarity < 0.1 {
			t.Errorf("result %s below MinSimilarity: %f", r.Chunk.SourceFile, r.Similarity)
		}
	}
}

func TestSearchTopKBound(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, file := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		if err := store.IndexDocument(ctx, file, "shared words in "+file, nil); err != nil {
			t.Fatal(err)
		}
	}

	results, err := store.Search(ctx, types.RagQuery{Query: "shared words", TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) > 2 {
		t.Errorf("len(results) = %d, want <= TopK 2", len(results))
	}
}

func TestSearchFileFilters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.IndexDocument(ctx, "file1.txt", "same content here", nil); err != nil {
		t.Fatal(err)
	}
	if err := store.IndexDocument(ctx, "file2.txt", "same content here", nil); err != nil {
		t.Fatal(err)
	}

	results, err := store.Search(ctx, types.RagQuery{
		Query:       "same content",
		TopK:        10,
		FileFilters: []string{"file1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(results) == 0 {
		t.Fatal("expected filtered results")
	}
	for _, r := range results {
		if !strings.Contains(r.Chunk.SourceFile, "file1") {
			t.Errorf("filter leaked result from %s", r.Chunk.SourceFile)
		}
	}
}

func TestSearchEmptyStore(t *testing.T) {
	store, _ := newTestStore(t)

	results, err := store.Search(context.Background(), types.RagQuery{Query: "anything"})
	if err != nil {
		t.Fatalf("search on empty store errored: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
}

func TestSearchEmbeddingFailureDegrades(t *testing.T) {
	store, embedding := newTestStore(t)
	ctx := context.Background()

	if err := store.IndexDocument(ctx, "a.txt", "hello world", nil); err != nil {
		t.Fatal(err)
	}

	embedding.FailNext()
	results, err := store.Search(ctx, types.RagQuery{Query: "hello"})
	if err != nil {
		t.Fatalf("search should degrade, not fail: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("degraded search returned %d results", len(results))
	}
}

func TestClearIndex(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.IndexDocument(ctx, "a.txt", "content one", nil); err != nil {
		t.Fatal(err)
	}
	if err := store.IndexDocument(ctx, "b.txt", "content two", nil); err != nil {
		t.Fatal(err)
	}

	if err := store.ClearIndex(ctx); err != nil {
		t.Fatal(err)
	}

	count, _ := store.ChunkCount(ctx)
	if count != 0 {
		t.Errorf("ChunkCount = %d after ClearIndex, want 0", count)
	}
	files, _ := store.IndexedFiles(ctx)
	if len(files) != 0 {
		t.Errorf("IndexedFiles = %v after ClearIndex, want empty", files)
	}
}

func TestDeleteFile(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.IndexDocument(ctx, "keep.txt", "keep this", nil); err != nil {
		t.Fatal(err)
	}
	if err := store.IndexDocument(ctx, "drop.txt", "drop this", nil); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteFile(ctx, "drop.txt"); err != nil {
		t.Fatal(err)
	}

	files, _ := store.IndexedFiles(ctx)
	if len(files) != 1 || files[0] != "keep.txt" {
		t.Errorf("IndexedFiles = %v, want [keep.txt]", files)
	}

	// Deleted file must index again from scratch.
	changed, err := store.BatchCheckChanges(ctx, []string{"drop.txt"})
	if err == nil && !changed["drop.txt"] {
		t.Error("deleted file should report changed")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	chunker, err := window.New(window.Config{})
	if err != nil {
		t.Fatal(err)
	}
	embedding := mocks.NewEmbeddingProvider()

	store, err := New(Config{Path: path, Embedding: embedding, Chunker: chunker, Detector: detect.New()})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.IndexDocument(context.Background(), "a.txt", "persisted content", nil); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store2, err := New(Config{Path: path, Embedding: embedding, Chunker: chunker, Detector: detect.New()})
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()

	count, err := store2.ChunkCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("ChunkCount = %d after reopen, want 1", count)
	}

	results, err := store2.Search(context.Background(), types.RagQuery{Query: "persisted"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Error("persisted chunks not searchable after reopen")
	}
}

func TestClosedStoreDegrades(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.IndexDocument(ctx, "a.txt", "some content", nil); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	count, err := store.ChunkCount(ctx)
	if err != nil || count != 0 {
		t.Errorf("ChunkCount on closed store = (%d, %v), want (0, nil)", count, err)
	}

	files, err := store.IndexedFiles(ctx)
	if err != nil || len(files) != 0 {
		t.Errorf("IndexedFiles on closed store = (%v, %v), want ([], nil)", files, err)
	}

	if err := store.IndexDocument(ctx, "b.txt", "more", nil); err == nil {
		t.Error("write on closed store should fail")
	}
}

func TestSharedBackingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	chunker, err := window.New(window.Config{})
	if err != nil {
		t.Fatal(err)
	}
	embedding := mocks.NewEmbeddingProvider()

	// Two store instances against one backing file; the engine's
	// locking serializes their writes.
	store1, err := New(Config{Path: path, Embedding: embedding, Chunker: chunker, Detector: detect.New()})
	if err != nil {
		t.Fatal(err)
	}
	defer store1.Close()

	store2, err := New(Config{Path: path, Embedding: embedding, Chunker: chunker, Detector: detect.New()})
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()

	ctx := context.Background()
	if err := store1.IndexDocument(ctx, "from1.txt", "written by one", nil); err != nil {
		t.Fatal(err)
	}
	if err := store2.IndexDocument(ctx, "from2.txt", "written by two", nil); err != nil {
		t.Fatal(err)
	}

	files, err := store1.IndexedFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("IndexedFiles = %v, want both writers visible", files)
	}
}

func TestEncodingRoundTrip(t *testing.T) {
	vec := []float32{0.1, -2.5, 3.75, 0}
	got := bytesToFloats(floatsToBytes(vec))

	if len(got) != len(vec) {
		t.Fatalf("len = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("index %d: %f != %f", i, got[i], vec[i])
		}
	}
}

// cancelAfterEmbed cancels a context once the wrapped provider has
// produced embeddings, so the failure lands between embedding and the
// storage transaction.
type cancelAfterEmbed struct {
	*mocks.EmbeddingProvider
	cancel context.CancelFunc
}

func (c *cancelAfterEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := c.EmbeddingProvider.Embed(ctx, texts)
	if err == nil && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return out, err
}

func TestCancellationLeavesPriorChunks(t *testing.T) {
	chunker, err := window.New(window.Config{ChunkSize: 1000, Overlap: 200})
	if err != nil {
		t.Fatal(err)
	}
	embedding := &cancelAfterEmbed{EmbeddingProvider: mocks.NewEmbeddingProvider()}

	store, err := New(Config{
		Path:      filepath.Join(t.TempDir(), "index.db"),
		Embedding: embedding,
		Chunker:   chunker,
		Detector:  detect.New(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	if err := store.IndexDocument(ctx, "a.txt", "original content", nil); err != nil {
		t.Fatal(err)
	}
	before, _ := store.ChunkCount(ctx)

	// The context dies mid-operation, after embedding succeeded but
	// before anything is written.
	cancelCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	embedding.cancel = cancel

	if err := store.IndexDocument(cancelCtx, "a.txt", "changed content", nil); err == nil {
		t.Fatal("expected cancellation to propagate")
	}

	after, _ := store.ChunkCount(ctx)
	if after != before {
		t.Errorf("ChunkCount changed across cancelled reindex: %d -> %d", before, after)
	}

	chunks, err := store.loadCandidates(ctx, store.conn(), nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range chunks {
		if c.Content != "original content" {
			t.Errorf("chunk content = %q, want prior content intact", c.Content)
		}
	}
}

func TestConcurrentReadsDuringClose(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.IndexDocument(ctx, "a.txt", "some content", nil); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := store.ChunkCount(ctx); err != nil {
					t.Errorf("ChunkCount during close: %v", err)
				}
				if _, err := store.IndexedFiles(ctx); err != nil {
					t.Errorf("IndexedFiles during close: %v", err)
				}
			}
		}()
	}

	if err := store.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	wg.Wait()
}

func TestSchemaVersionStamped(t *testing.T) {
	store, _ := newTestStore(t)

	var version int
	if err := store.conn().QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != SchemaVersion {
		t.Errorf("user_version = %d, want %d", version, SchemaVersion)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	chunker, err := window.New(window.Config{})
	if err != nil {
		t.Fatal(err)
	}
	embedding := mocks.NewEmbeddingProvider()

	store, err := New(Config{Path: path, Embedding: embedding, Chunker: chunker, Detector: detect.New()})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion+1)); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = New(Config{Path: path, Embedding: embedding, Chunker: chunker, Detector: detect.New()})
	if err == nil {
		t.Fatal("expected open of newer schema to fail")
	}
	if !strings.Contains(err.Error(), "schema version") {
		t.Errorf("error = %v, want schema version mismatch", err)
	}
}
