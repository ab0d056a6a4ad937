// Package sqlite implements VectorStore on an embedded SQLite database.
// One database file holds every chunk with its embedding, metadata and
// provenance hash; replace-on-reindex runs in a single transaction so no
// reader ever observes a half-replaced file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spetr/docvec/internal/similarity"
	"github.com/spetr/docvec/pkg/provider"
	"github.com/spetr/docvec/pkg/types"
)

// SchemaVersion is incremented when schema changes require reindexing.
// Stored in the database's user_version pragma; opening a database written
// by a newer schema fails instead of misreading it.
const SchemaVersion = 1

// Store implements the VectorStore interface using SQLite.
type Store struct {
	mu        sync.RWMutex // guards db against concurrent Close
	db        *sql.DB
	path      string
	embedding provider.EmbeddingProvider
	chunker   provider.Chunker
	detector  provider.ChangeDetector
}

// Config contains SQLite store configuration.
type Config struct {
	Path      string // Database file path; created lazily on first use
	Embedding provider.EmbeddingProvider
	Chunker   provider.Chunker
	Detector  provider.ChangeDetector
}

// New creates a store and opens the database at cfg.Path.
func New(cfg Config) (*Store, error) {
	s := &Store{
		path:      cfg.Path,
		embedding: cfg.Embedding,
		chunker:   cfg.Chunker,
		detector:  cfg.Detector,
	}

	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return "sqlite"
}

func (s *Store) init() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode for concurrent reads, busy_timeout to wait for the write
	// lock instead of failing immediately. Multiple store instances may
	// share one backing file; the engine's locking serializes writers.
	db, err := sql.Open("sqlite3", s.path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db

	if err := s.createSchema(); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// createSchema creates all necessary tables and stamps the schema version.
func (s *Store) createSchema() error {
	var userVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&userVersion); err != nil {
		return err
	}
	if userVersion > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", userVersion, SchemaVersion)
	}

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			source_file TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			file_hash TEXT NOT NULL,
			indexed_at TIMESTAMP NOT NULL,
			UNIQUE(source_file, chunk_index)
		)
	`)
	if err != nil {
		return err
	}

	// Index on source_file for per-file replace and delete
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_chunks_source_file ON chunks(source_file)`)
	if err != nil {
		return err
	}

	// Change-detection side records, one per indexed file
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS file_meta (
			file_path TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			size INTEGER NOT NULL,
			last_modified TIMESTAMP NOT NULL,
			last_checked TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	if userVersion < SchemaVersion {
		_, err = s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion))
	}
	return err
}

// conn returns the database handle, or nil after Close.
func (s *Store) conn() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// IndexDocument chunks, embeds and persists a document, replacing any
// previously stored chunks for sourceFile in one transaction. When the
// content hash matches the stored one the call returns before any
// embedding call. An embedding failure leaves prior chunks intact and
// propagates to the caller.
func (s *Store) IndexDocument(ctx context.Context, sourceFile, content string, metadata map[string]any) error {
	db := s.conn()
	if db == nil {
		return types.ErrStoreClosed
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}

	hash := types.ContentHash(content)

	var storedHash string
	err := db.QueryRowContext(ctx,
		"SELECT hash FROM file_meta WHERE file_path = ?", sourceFile,
	).Scan(&storedHash)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read file metadata for %s: %w", sourceFile, err)
	}
	if storedHash == hash {
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

	metaJSON, err := json.Marshal(mergeMetadata(sourceFile, metadata))
	if err != nil {
		return fmt.Errorf("failed to serialize metadata for %s: %w", sourceFile, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE source_file = ?", sourceFile); err != nil {
		return fmt.Errorf("failed to delete old chunks for %s: %w", sourceFile, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (source_file, chunk_index, content, embedding, metadata, file_hash, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i, piece := range pieces {
		_, err := stmt.ExecContext(ctx,
			sourceFile, i, piece, floatsToBytes(embeddings[i]),
			string(metaJSON), hash, now,
		)
		if err != nil {
			return fmt.Errorf("failed to store chunk %d of %s: %w", i, sourceFile, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO file_meta (file_path, hash, size, last_modified, last_checked)
		VALUES (?, ?, ?, ?, ?)
	`, sourceFile, hash, int64(len(content)), now, now)
	if err != nil {
		return fmt.Errorf("failed to record file metadata for %s: %w", sourceFile, err)
	}

	return tx.Commit()
}

// Search embeds the query text and ranks candidate chunks by cosine
// similarity. An embedding failure degrades to an empty result set so
// search stays available when the provider is down.
func (s *Store) Search(ctx context.Context, query types.RagQuery) ([]types.SearchResult, error) {
	db := s.conn()
	if db == nil {
		return []types.SearchResult{}, nil
	}

	queryVec, err := s.embedding.Embed(ctx, []string{query.Query})
	if err != nil || len(queryVec) == 0 {
		return []types.SearchResult{}, nil
	}

	candidates, err := s.loadCandidates(ctx, db, query.FileFilters)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate chunks: %w", err)
	}

	return similarity.Rank(queryVec[0], candidates, query.MinSimilarity, query.TopK)
}

// loadCandidates returns candidate rows, optionally pre-filtered by
// substring match on source_file so irrelevant rows never leave storage.
func (s *Store) loadCandidates(ctx context.Context, db *sql.DB, fileFilters []string) ([]types.DocumentChunk, error) {
	q := `
		SELECT source_file, chunk_index, content, embedding, metadata, file_hash, indexed_at
		FROM chunks
	`
	var args []any

	if len(fileFilters) > 0 {
		clauses := make([]string, len(fileFilters))
		for i, f := range fileFilters {
			clauses[i] = `source_file LIKE ? ESCAPE '\'`
			args = append(args, "%"+escapeLike(f)+"%")
		}
		q += " WHERE " + strings.Join(clauses, " OR ")
	}

	q += " ORDER BY source_file, chunk_index"

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []types.DocumentChunk
	for rows.Next() {
		var (
			chunk    types.DocumentChunk
			embBytes []byte
			metaJSON string
		)
		err := rows.Scan(
			&chunk.SourceFile, &chunk.ChunkIndex, &chunk.Content,
			&embBytes, &metaJSON, &chunk.FileHash, &chunk.IndexedAt,
		)
		if err != nil {
			return nil, err
		}

		chunk.Embedding = bytesToFloats(embBytes)
		if err := json.Unmarshal([]byte(metaJSON), &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata for %s[%d]: %w", chunk.SourceFile, chunk.ChunkIndex, err)
		}

		chunks = append(chunks, chunk)
	}

	return chunks, rows.Err()
}

// ChunkCount returns the total number of stored chunks.
// Storage read failures and a closed store degrade to 0.
func (s *Store) ChunkCount(ctx context.Context) (int, error) {
	db := s.conn()
	if db == nil {
		return 0, nil
	}

	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&count)
	if err != nil {
		return 0, nil
	}
	return count, nil
}

// IndexedFiles returns the distinct source files with stored chunks.
// Storage read failures and a closed store degrade to an empty slice.
func (s *Store) IndexedFiles(ctx context.Context) ([]string, error) {
	db := s.conn()
	if db == nil {
		return []string{}, nil
	}

	rows, err := db.QueryContext(ctx, "SELECT DISTINCT source_file FROM chunks ORDER BY source_file")
	if err != nil {
		return []string{}, nil
	}
	defer rows.Close()

	files := []string{}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return []string{}, nil
		}
		files = append(files, f)
	}
	return files, nil
}

// DeleteFile removes all chunks and the metadata record for a source file.
func (s *Store) DeleteFile(ctx context.Context, sourceFile string) error {
	db := s.conn()
	if db == nil {
		return types.ErrStoreClosed
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE source_file = ?", sourceFile); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM file_meta WHERE file_path = ?", sourceFile); err != nil {
		return err
	}

	return tx.Commit()
}

// ClearIndex removes all chunks unconditionally.
func (s *Store) ClearIndex(ctx context.Context) error {
	db := s.conn()
	if db == nil {
		return types.ErrStoreClosed
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM file_meta"); err != nil {
		return err
	}

	return tx.Commit()
}

// BatchCheckChanges reports, per path, whether the file on disk differs
// from the stored metadata record. Paths never indexed report changed.
func (s *Store) BatchCheckChanges(ctx context.Context, paths []string) (map[string]bool, error) {
	db := s.conn()
	if db == nil {
		return nil, types.ErrStoreClosed
	}

	rows, err := db.QueryContext(ctx, "SELECT file_path, hash, size, last_modified, last_checked FROM file_meta")
	if err != nil {
		return nil, fmt.Errorf("failed to load file metadata: %w", err)
	}
	defer rows.Close()

	stored := make(map[string]types.FileMetadata)
	for rows.Next() {
		var meta types.FileMetadata
		if err := rows.Scan(&meta.FilePath, &meta.Hash, &meta.Size, &meta.LastModified, &meta.LastChecked); err != nil {
			return nil, err
		}
		stored[meta.FilePath] = meta
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return s.detector.BatchCheck(ctx, paths, stored)
}

// Close releases resources and closes the database connection.
// Subsequent reads degrade to zero values; writes return ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
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

// escapeLike escapes LIKE wildcards so filters match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// Ensure Store implements VectorStore interface
var _ provider.VectorStore = (*Store)(nil)
