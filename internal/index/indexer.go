// Package index implements parallel file indexing with progress reporting.
package index

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spetr/docvec/internal/config"
	"github.com/spetr/docvec/pkg/provider"
	"github.com/spetr/docvec/pkg/types"
)

// Indexer handles parallel file indexing.
type Indexer struct {
	config     *config.Config
	store      provider.VectorStore
	projectDir string

	// Progress tracking
	progressMu sync.Mutex
	progress   types.IndexProgress
	onProgress func(types.IndexProgress)
}

// Config contains indexer configuration.
type Config struct {
	ProjectDir string
	Config     *config.Config
	Store      provider.VectorStore
	OnProgress func(types.IndexProgress)
}

// New creates a new indexer. The config is copied so that concurrent
// mutation by the caller cannot affect a running index pass.
func New(cfg Config) *Indexer {
	return &Indexer{
		config:     cfg.Config.Copy(),
		store:      cfg.Store,
		projectDir: cfg.ProjectDir,
		onProgress: cfg.OnProgress,
	}
}

// Index indexes the project directory. When force is false, files whose
// content has not changed since the last run are skipped.
func (idx *Indexer) Index(ctx context.Context, force bool) error {
	startTime := time.Now()

	if idx.config.Limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, idx.config.Limits.Timeout)
		defer cancel()
	}

	// Phase 1: Scan files
	idx.updateProgress("scanning", 0, 0, 0, 0, "")

	paths, err := idx.scanFiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan files: %w", err)
	}

	slog.Info("scanned files", "total", len(paths))

	// A change to chunking or embedding settings invalidates every stored
	// chunk. Drop them so the content-hash short-circuit in the store
	// cannot keep stale chunks alive.
	if idx.configChanged() {
		slog.Info("indexing configuration changed, rebuilding index")
		if err := idx.store.ClearIndex(ctx); err != nil {
			return fmt.Errorf("failed to clear stale index: %w", err)
		}
		force = true
	}

	// Filter for changed files if not forcing
	toProcess := paths
	var skipped int
	if !force {
		toProcess, err = idx.filterChangedFiles(ctx, paths)
		if err != nil {
			return fmt.Errorf("failed to filter files: %w", err)
		}
		skipped = len(paths) - len(toProcess)
	}

	slog.Info("files to process", "count", len(toProcess), "skipped", skipped)
	idx.updateProgress("indexing", len(toProcess), 0, skipped, 0, "")

	if len(toProcess) == 0 {
		slog.Info("no files need indexing")
		idx.updateProgress("done", 0, 0, 0, 0, "")
		idx.writeConfigHash()
		return nil
	}

	// Phase 2: Parallel indexing. Each file is chunked, embedded and stored
	// atomically by the vector store.
	failed, err := idx.indexFilesParallel(ctx, toProcess)
	if err != nil {
		return err
	}

	idx.updateProgress("done", 0, 0, 0, 0, "")
	idx.writeConfigHash()

	slog.Info("indexing complete",
		"files", len(toProcess)-failed,
		"skipped", skipped,
		"failed", failed,
		"duration", time.Since(startTime).Round(time.Millisecond),
	)

	return nil
}

// configHashPath returns the marker file recording the config hash of the
// last successful index run.
func (idx *Indexer) configHashPath() string {
	return filepath.Join(config.ConfigDir(idx.projectDir), "config.hash")
}

// configChanged reports whether the indexing-relevant configuration differs
// from the one recorded by the last run. A missing marker counts as
// unchanged so that first runs stay incremental.
func (idx *Indexer) configChanged() bool {
	data, err := os.ReadFile(idx.configHashPath())
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) != idx.config.Hash()
}

// writeConfigHash records the current config hash after a successful run.
func (idx *Indexer) writeConfigHash() {
	path := idx.configHashPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		slog.Warn("failed to create config directory", "error", err)
		return
	}
	if err := os.WriteFile(path, []byte(idx.config.Hash()+"\n"), 0644); err != nil {
		slog.Warn("failed to record config hash", "error", err)
	}
}

// scanFiles walks the project directory collecting files that match the
// include patterns and escape the exclude patterns.
func (idx *Indexer) scanFiles(ctx context.Context) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(idx.projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		relPath, _ := filepath.Rel(idx.projectDir, path)

		// Skip directories in exclude list
		if d.IsDir() {
			for _, pattern := range idx.config.Index.Exclude {
				if matchGlob(pattern, relPath+"/") {
					slog.Debug("excluding directory", "path", relPath, "pattern", pattern)
					return filepath.SkipDir
				}
			}
			return nil
		}

		// Check include patterns
		included := false
		for _, pattern := range idx.config.Index.Include {
			if matchGlob(pattern, relPath) {
				included = true
				break
			}
		}
		if !included {
			return nil
		}

		// Check exclude patterns
		for _, pattern := range idx.config.Index.Exclude {
			if matchGlob(pattern, relPath) {
				return nil
			}
		}

		// Check file size
		if idx.config.Limits.MaxFileSize > 0 {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.Size() > idx.config.Limits.MaxFileSize {
				slog.Debug("file too large, skipping", "path", relPath, "size", info.Size())
				return nil
			}
		}

		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

// filterChangedFiles keeps only files the store considers changed.
func (idx *Indexer) filterChangedFiles(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	changes, err := idx.store.BatchCheckChanges(ctx, paths)
	if err != nil {
		return nil, err
	}

	var changed []string
	for _, path := range paths {
		if changes[path] {
			changed = append(changed, path)
		}
	}
	return changed, nil
}

// indexFilesParallel indexes files with a worker pool. Per-file failures are
// logged and counted but do not abort the run; context cancellation does.
func (idx *Indexer) indexFilesParallel(ctx context.Context, paths []string) (int, error) {
	workers := idx.config.Limits.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	type result struct {
		path string
		err  error
	}

	fileCh := make(chan string, len(paths))
	resultCh := make(chan result, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range fileCh {
				if ctx.Err() != nil {
					resultCh <- result{path: path, err: ctx.Err()}
					return
				}

				idx.updateProgress("indexing", 0, 0, 0, 0, path)
				resultCh <- result{path: path, err: idx.indexFile(ctx, path)}
			}
		}()
	}

	for _, path := range paths {
		fileCh <- path
	}
	close(fileCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var failed, processed int
	for res := range resultCh {
		if res.err != nil {
			if ctx.Err() != nil {
				return failed, ctx.Err()
			}
			slog.Warn("failed to index file", "path", res.path, "error", res.err)
			failed++
			continue
		}
		processed++
		idx.updateProgress("indexing", 0, processed, 0, failed, "")
	}

	return failed, nil
}

// indexFile reads one file and hands it to the store.
func (idx *Indexer) indexFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	return idx.store.IndexDocument(ctx, path, string(content), nil)
}

// updateProgress updates the progress state.
func (idx *Indexer) updateProgress(phase string, totalFiles, processedFiles, skippedFiles, failedFiles int, currentFile string) {
	idx.progressMu.Lock()
	defer idx.progressMu.Unlock()

	if phase != "" {
		idx.progress.Phase = phase
	}
	if totalFiles > 0 {
		idx.progress.TotalFiles = totalFiles
	}
	if processedFiles > 0 {
		idx.progress.ProcessedFiles = processedFiles
	}
	if skippedFiles > 0 {
		idx.progress.SkippedFiles = skippedFiles
	}
	if failedFiles > 0 {
		idx.progress.FailedFiles = failedFiles
	}
	if currentFile != "" {
		idx.progress.CurrentFile = currentFile
	}

	if idx.onProgress != nil {
		idx.onProgress(idx.progress)
	}
}

// matchGlob matches a path against a glob pattern.
func matchGlob(pattern, path string) bool {
	// Handle ** for recursive matching
	if strings.Contains(pattern, "**") {
		parts := strings.Split(pattern, "**")
		if len(parts) == 2 {
			prefix := strings.TrimSuffix(parts[0], "/")
			suffix := strings.TrimPrefix(parts[1], "/")

			if prefix != "" && !strings.HasPrefix(path, prefix) {
				return false
			}

			if suffix == "" {
				return true
			}

			// If suffix contains *, use filepath.Match on the basename or remaining path
			if strings.Contains(suffix, "*") {
				base := filepath.Base(path)
				matched, _ := filepath.Match(suffix, base)
				if matched {
					return true
				}
				remaining := path
				if prefix != "" {
					remaining = strings.TrimPrefix(path, prefix)
					remaining = strings.TrimPrefix(remaining, "/")
				}
				matched, _ = filepath.Match(suffix, remaining)
				return matched
			}

			return strings.HasSuffix(path, suffix) || strings.Contains(path, suffix)
		}
	}

	// Standard glob match
	matched, _ := filepath.Match(pattern, path)
	if matched {
		return true
	}

	// Try matching against basename
	base := filepath.Base(path)
	matched, _ = filepath.Match(pattern, base)
	return matched
}
