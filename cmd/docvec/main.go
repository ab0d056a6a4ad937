// docvec is an MCP server for semantic document search.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	_ "github.com/spetr/docvec/builtin"
	"github.com/spetr/docvec/internal/config"
	"github.com/spetr/docvec/internal/index"
	"github.com/spetr/docvec/internal/mcp"
	"github.com/spetr/docvec/pkg/provider"
	"github.com/spetr/docvec/pkg/types"
)

var (
	version   = "0.1.0"
	logLevel  string
	logFormat string
)

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "docvec",
	Short: "MCP server for semantic document search",
	Long: `docvec indexes project documents into a local vector store and
answers semantic similarity queries over them.

It supports:
- Multiple embedding providers (Ollama, OpenAI)
- Sliding-window chunking with overlap
- Change-aware incremental indexing
- SQLite or in-memory vector storage`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("docvec %s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index project documents",
	Long:  `Index documents for semantic search. If no path is provided, indexes the current directory.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		runIndex(path, force)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed documents",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		topK, _ := cmd.Flags().GetInt("top-k")
		minSimilarity, _ := cmd.Flags().GetFloat64("min-similarity")
		filters, _ := cmd.Flags().GetStringSlice("filter")
		opts := searchOptions{
			topK:             topK,
			topKSet:          cmd.Flags().Changed("top-k"),
			minSimilarity:    minSimilarity,
			minSimilaritySet: cmd.Flags().Changed("min-similarity"),
			filters:          filters,
		}
		runSearch(args[0], opts)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status",
	Run: func(cmd *cobra.Command, args []string) {
		runStatus()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server",
	Run: func(cmd *cobra.Command, args []string) {
		stdio, _ := cmd.Flags().GetBool("stdio")
		runServe(stdio)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch for file changes and re-index automatically",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		debounce, _ := cmd.Flags().GetInt("debounce")
		runWatch(path, debounce)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the index",
	Long:  `Remove all indexed data. This will require re-indexing.`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		runClear(force)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration",
	Run: func(cmd *cobra.Command, args []string) {
		runConfigInit()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Run: func(cmd *cobra.Command, args []string) {
		runConfigValidate()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	indexCmd.Flags().Bool("force", false, "force reindex all files")

	searchCmd.Flags().IntP("top-k", "k", 0, "maximum results (default from config)")
	searchCmd.Flags().Float64P("min-similarity", "m", 0, "minimum cosine similarity, inclusive")
	searchCmd.Flags().StringSliceP("filter", "f", nil, "substring filters on source file paths")

	serveCmd.Flags().Bool("stdio", false, "use stdio transport (for MCP)")

	watchCmd.Flags().Int("debounce", 500, "debounce time in milliseconds")

	clearCmd.Flags().BoolP("force", "f", false, "force clear without confirmation")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// createProviders creates the embedding provider and vector store from config.
func createProviders(cfg *config.Config, projectRoot string) (provider.VectorStore, provider.EmbeddingProvider, error) {
	// Fail before constructing the embedding provider when the store name
	// cannot resolve anyway.
	if !provider.DefaultRegistry.HasVectorStore(cfg.Store.Provider) {
		return nil, nil, fmt.Errorf("unknown vector store provider: %s", cfg.Store.Provider)
	}

	apiKey := cfg.Embedding.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	embedding, err := provider.DefaultRegistry.CreateEmbedding(cfg.Embedding.Provider, provider.EmbeddingConfig{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Endpoint:  cfg.Embedding.Endpoint,
		APIKey:    apiKey,
		BatchSize: cfg.Embedding.BatchSize,
	})
	if err != nil {
		return nil, nil, err
	}

	chunker, err := provider.DefaultRegistry.CreateChunker(cfg.Chunking.Strategy, provider.ChunkingConfig{
		Strategy:  cfg.Chunking.Strategy,
		ChunkSize: cfg.Chunking.ChunkSize,
		Overlap:   cfg.Chunking.Overlap,
	})
	if err != nil {
		embedding.Close()
		return nil, nil, err
	}

	storePath := cfg.Store.Path
	if storePath == "" {
		storePath = config.IndexDBPath(projectRoot)
	}

	store, err := provider.DefaultRegistry.CreateVectorStore(cfg.Store.Provider, provider.VectorStoreConfig{
		Provider: cfg.Store.Provider,
		Path:     storePath,
	}, embedding, chunker)
	if err != nil {
		embedding.Close()
		return nil, nil, err
	}

	return store, embedding, nil
}

func loadConfig(projectRoot string) *config.Config {
	cfg, warnings, err := config.Load(projectRoot)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		slog.Warn(w)
	}
	return cfg
}

func runIndex(path string, force bool) {
	absPath, _ := filepath.Abs(path)
	slog.Info("indexing", "path", absPath, "force", force)

	cfg := loadConfig(absPath)

	store, embedding, err := createProviders(cfg, absPath)
	if err != nil {
		slog.Error("failed to create providers", "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown with context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	interrupted := false
	go func() {
		sig := <-sigChan
		slog.Info("received interrupt signal, stopping indexing...", "signal", sig)
		interrupted = true
		cancel()
	}()

	defer func() {
		signal.Stop(sigChan)
		store.Close()
		embedding.Close()
		if interrupted {
			fmt.Println("\nIndexing interrupted. Indexed files are kept - run again to resume.")
		}
	}()

	indexer := index.New(index.Config{
		ProjectDir: absPath,
		Config:     cfg,
		Store:      store,
		OnProgress: func(p types.IndexProgress) {
			if p.Phase != "" {
				fmt.Printf("\r[%s] Files: %d/%d (skipped %d, failed %d)",
					p.Phase, p.ProcessedFiles, p.TotalFiles,
					p.SkippedFiles, p.FailedFiles)
			}
		},
	})

	if err := indexer.Index(ctx, force); err != nil {
		if ctx.Err() != nil {
			slog.Info("indexing stopped by user")
		} else {
			slog.Error("indexing failed", "error", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println("\nIndexing complete!")

	files, _ := store.IndexedFiles(ctx)
	chunks, _ := store.ChunkCount(ctx)
	fmt.Printf("Files: %d, Chunks: %d\n", len(files), chunks)
}

// searchOptions carries search flags together with whether the user set
// them, so an explicit -k 0 or -m 0 is not mistaken for "use the default".
type searchOptions struct {
	topK             int
	topKSet          bool
	minSimilarity    float64
	minSimilaritySet bool
	filters          []string
}

// resolve fills unset flags from the configured defaults.
func (o searchOptions) resolve(cfg *config.Config) (topK int, minSimilarity float64) {
	topK = o.topK
	if !o.topKSet {
		topK = cfg.Search.TopK
	}
	minSimilarity = o.minSimilarity
	if !o.minSimilaritySet {
		minSimilarity = cfg.Search.MinSimilarity
	}
	return topK, minSimilarity
}

func runSearch(query string, opts searchOptions) {
	cwd, _ := os.Getwd()

	cfg := loadConfig(cwd)
	topK, minSimilarity := opts.resolve(cfg)
	filters := opts.filters
	slog.Debug("searching", "query", query, "top_k", topK, "min_similarity", minSimilarity)

	store, embedding, err := createProviders(cfg, cwd)
	if err != nil {
		slog.Error("failed to create providers", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	defer embedding.Close()

	ctx := context.Background()
	results, err := store.Search(ctx, types.RagQuery{
		Query:         query,
		TopK:          topK,
		MinSimilarity: minSimilarity,
		FileFilters:   filters,
	})
	if err != nil {
		slog.Error("search failed", "error", err)
		os.Exit(1)
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return
	}

	for i, r := range results {
		fmt.Printf("\n=== Result %d (similarity: %.3f) ===\n", i+1, r.Similarity)
		fmt.Printf("File: %s (chunk %d)\n", r.Chunk.SourceFile, r.Chunk.ChunkIndex)
		fmt.Printf("\n%s\n", r.Chunk.Content)
	}
}

func runStatus() {
	cwd, _ := os.Getwd()

	cfg := loadConfig(cwd)

	store, embedding, err := createProviders(cfg, cwd)
	if err != nil {
		slog.Error("failed to create providers", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	defer embedding.Close()

	ctx := context.Background()
	files, _ := store.IndexedFiles(ctx)
	chunks, _ := store.ChunkCount(ctx)

	fmt.Println("=== Index Status ===")
	fmt.Printf("Indexed files: %d\n", len(files))
	fmt.Printf("Total chunks:  %d\n", chunks)
	fmt.Printf("Embedding:     %s/%s\n", cfg.Embedding.Provider, cfg.Embedding.Model)
	fmt.Printf("Chunking:      %s (size %d, overlap %d)\n",
		cfg.Chunking.Strategy, cfg.Chunking.ChunkSize, cfg.Chunking.Overlap)
	fmt.Printf("Store:         %s\n", cfg.Store.Provider)
}

func runServe(stdio bool) {
	cwd, _ := os.Getwd()
	slog.Info("starting MCP server", "stdio", stdio)

	cfg := loadConfig(cwd)

	store, embedding, err := createProviders(cfg, cwd)
	if err != nil {
		slog.Error("failed to create providers", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		slog.Info("closing providers...")
		if err := store.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
		if err := embedding.Close(); err != nil {
			slog.Warn("failed to close embedding", "error", err)
		}
		slog.Info("shutdown complete")
		os.Exit(0)
	}()

	defer func() {
		signal.Stop(sigChan)
		store.Close()
		embedding.Close()
	}()

	server, err := mcp.New(mcp.Config{
		ProjectDir: cwd,
		Config:     cfg,
		Store:      store,
		Embedding:  embedding,
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if stdio {
		slog.Info("MCP server running (press Ctrl+C to stop)")
		if err := server.ServeStdio(); err != nil {
			if ctx.Err() != nil {
				slog.Info("server stopped")
			} else {
				slog.Error("server error", "error", err)
				os.Exit(1)
			}
		}
	} else {
		fmt.Println("HTTP server not implemented yet. Use --stdio for MCP.")
		os.Exit(1)
	}
}

func runWatch(path string, debounceMs int) {
	absPath, _ := filepath.Abs(path)
	slog.Info("watching for changes", "path", absPath, "debounce_ms", debounceMs)

	cfg := loadConfig(absPath)

	store, embedding, err := createProviders(cfg, absPath)
	if err != nil {
		slog.Error("failed to create providers", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	defer embedding.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initial index so the watcher starts from a complete state
	indexer := index.New(index.Config{
		ProjectDir: absPath,
		Config:     cfg,
		Store:      store,
	})
	if err := indexer.Index(ctx, false); err != nil {
		if ctx.Err() == nil {
			slog.Error("initial indexing failed", "error", err)
			os.Exit(1)
		}
		return
	}

	watcher, err := index.NewWatcher(index.WatcherConfig{
		ProjectDir:   absPath,
		Config:       cfg,
		Store:        store,
		DebounceTime: time.Duration(debounceMs) * time.Millisecond,
	})
	if err != nil {
		slog.Error("failed to create watcher", "error", err)
		os.Exit(1)
	}

	if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
		slog.Error("watcher failed", "error", err)
		os.Exit(1)
	}
}

func runClear(force bool) {
	cwd, _ := os.Getwd()

	if !force {
		fmt.Print("This will remove all indexed data. Continue? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted")
			return
		}
	}

	cfg := loadConfig(cwd)

	store, embedding, err := createProviders(cfg, cwd)
	if err != nil {
		slog.Error("failed to create providers", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	defer embedding.Close()

	if err := store.ClearIndex(context.Background()); err != nil {
		slog.Error("failed to clear index", "error", err)
		os.Exit(1)
	}

	fmt.Println("Index cleared")
}

func runConfigInit() {
	cwd, _ := os.Getwd()
	cfg := config.DefaultConfig()

	if err := config.Save(cwd, cfg); err != nil {
		slog.Error("failed to save config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Created config at %s\n", config.ConfigPath(cwd))
}

func runConfigValidate() {
	cwd, _ := os.Getwd()

	cfg, warnings, err := config.Load(cwd)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	errs := config.Validate(cfg)
	if len(errs) == 0 {
		fmt.Println("Configuration is valid")
		return
	}

	for _, e := range errs {
		fmt.Printf("Error: %v\n", e)
	}
	os.Exit(1)
}
