package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spetr/docvec/internal/config"
	"github.com/spetr/docvec/pkg/provider"
)

// Watcher watches for file changes and triggers re-indexing.
type Watcher struct {
	config     *config.Config
	store      provider.VectorStore
	projectDir string

	watcher *fsnotify.Watcher

	// Debouncing
	pendingMu    sync.Mutex
	pendingFiles map[string]time.Time
	debounceTime time.Duration
}

// WatcherConfig contains watcher configuration.
type WatcherConfig struct {
	ProjectDir   string
	Config       *config.Config
	Store        provider.VectorStore
	DebounceTime time.Duration // Default: 500ms
}

// NewWatcher creates a new file watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounceTime := cfg.DebounceTime
	if debounceTime == 0 {
		debounceTime = 500 * time.Millisecond
	}

	return &Watcher{
		config:       cfg.Config,
		store:        cfg.Store,
		projectDir:   cfg.ProjectDir,
		watcher:      watcher,
		pendingFiles: make(map[string]time.Time),
		debounceTime: debounceTime,
	}, nil
}

// Watch starts watching for file changes.
// It blocks until the context is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	// Add directories to watch
	if err := w.addWatchDirs(); err != nil {
		return err
	}

	slog.Info("watching for file changes", "dir", w.projectDir)

	// Start debounce processor
	go w.processDebounced(ctx)

	// Event loop
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping watcher")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

// addWatchDirs recursively adds directories to watch.
func (w *Watcher) addWatchDirs() error {
	return filepath.WalkDir(w.projectDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if d.IsDir() {
			// Skip excluded directories
			relPath, _ := filepath.Rel(w.projectDir, path)
			for _, pattern := range w.config.Index.Exclude {
				if matchGlob(pattern, relPath+"/") {
					return filepath.SkipDir
				}
			}

			// Skip hidden directories (except .docvec)
			if strings.HasPrefix(d.Name(), ".") && d.Name() != ".docvec" && relPath != "." {
				return filepath.SkipDir
			}

			if err := w.watcher.Add(path); err != nil {
				slog.Warn("failed to watch directory", "path", path, "error", err)
			}
		}
		return nil
	})
}

// handleEvent processes a file system event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Skip if not a relevant operation
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
		return
	}

	path := event.Name

	relPath, err := filepath.Rel(w.projectDir, path)
	if err != nil {
		return
	}

	// Check if file should be indexed
	included := false
	for _, pattern := range w.config.Index.Include {
		if matchGlob(pattern, relPath) {
			included = true
			break
		}
	}
	if !included {
		return
	}

	// Check exclude patterns
	for _, pattern := range w.config.Index.Exclude {
		if matchGlob(pattern, relPath) {
			return
		}
	}

	// Add to pending with debounce
	w.pendingMu.Lock()
	w.pendingFiles[path] = time.Now()
	w.pendingMu.Unlock()

	slog.Debug("file changed", "path", relPath, "op", event.Op.String())
}

// processDebounced processes pending files after debounce period.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processPendingFiles(ctx)
		}
	}
}

// processPendingFiles processes files that have been stable for debounce period.
func (w *Watcher) processPendingFiles(ctx context.Context) {
	w.pendingMu.Lock()

	now := time.Now()
	var toProcess []string

	for path, changedAt := range w.pendingFiles {
		if now.Sub(changedAt) >= w.debounceTime {
			toProcess = append(toProcess, path)
			delete(w.pendingFiles, path)
		}
	}
	w.pendingMu.Unlock()

	if len(toProcess) == 0 {
		return
	}

	w.reindexFiles(ctx, toProcess)
}

// reindexFiles re-indexes the specified files.
func (w *Watcher) reindexFiles(ctx context.Context, paths []string) {
	slog.Info("re-indexing changed files", "count", len(paths))

	for _, path := range paths {
		if ctx.Err() != nil {
			return
		}

		// Check if file was deleted
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			// File was deleted, remove from index
			if err := w.store.DeleteFile(ctx, path); err != nil {
				slog.Warn("failed to delete file from index", "file", path, "error", err)
			}
			slog.Info("removed deleted file from index", "file", path)
			continue
		}

		if err != nil {
			slog.Warn("failed to stat file", "file", path, "error", err)
			continue
		}

		// Skip directories
		if info.IsDir() {
			continue
		}

		if err := w.indexFile(ctx, path); err != nil {
			slog.Warn("failed to index file", "file", path, "error", err)
		}
	}
}

// indexFile indexes a single file.
func (w *Watcher) indexFile(ctx context.Context, path string) error {
	// Check file size
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if w.config.Limits.MaxFileSize > 0 && info.Size() > w.config.Limits.MaxFileSize {
		return nil // Skip large files
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	// The store skips the write when content is unchanged.
	if err := w.store.IndexDocument(ctx, path, string(content), nil); err != nil {
		return err
	}

	relPath, _ := filepath.Rel(w.projectDir, path)
	slog.Info("indexed file", "file", relPath)

	return nil
}

// Close closes the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
