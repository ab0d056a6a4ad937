// Package mcp implements the MCP server for document search.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/spetr/docvec/internal/config"
	"github.com/spetr/docvec/internal/index"
	"github.com/spetr/docvec/pkg/provider"
	"github.com/spetr/docvec/pkg/types"
)

// Server implements the MCP server.
type Server struct {
	mcpServer  *server.MCPServer
	projectDir string
	config     *config.Config
	store      provider.VectorStore
	embedding  provider.EmbeddingProvider
}

// Config contains server configuration.
type Config struct {
	ProjectDir string
	Config     *config.Config
	Store      provider.VectorStore
	Embedding  provider.EmbeddingProvider
}

// New creates a new MCP server.
func New(cfg Config) (*Server, error) {
	s := &Server{
		projectDir: cfg.ProjectDir,
		config:     cfg.Config,
		store:      cfg.Store,
		embedding:  cfg.Embedding,
	}

	mcpServer := server.NewMCPServer(
		"docvec",
		"0.1.0",
		server.WithLogging(),
	)

	s.registerTools(mcpServer)

	s.mcpServer = mcpServer
	return s, nil
}

// registerTools registers all MCP tools.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	// index_documents - Index the current project
	mcpServer.AddTool(mcp.NewTool("index_documents",
		mcp.WithDescription("Index project documents for semantic search"),
		mcp.WithBoolean("force", mcp.Description("Force reindex all files")),
	), s.handleIndexDocuments)

	// search_documents - Semantic document search
	mcpServer.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Search indexed documents using semantic similarity"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query")),
		mcp.WithNumber("top_k", mcp.Description("Maximum results (default 5)")),
		mcp.WithNumber("min_similarity", mcp.Description("Minimum cosine similarity, inclusive (default 0)")),
		mcp.WithArray("file_filters", mcp.Description("Substring filters on source file paths")),
	), s.handleSearchDocuments)

	// get_status - Get index status
	mcpServer.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Get index status and statistics"),
	), s.handleGetStatus)

	// delete_document - Remove one document from the index
	mcpServer.AddTool(mcp.NewTool("delete_document",
		mcp.WithDescription("Remove a document and its chunks from the index"),
		mcp.WithString("file", mcp.Required(), mcp.Description("Source file path")),
	), s.handleDeleteDocument)

	// clear_index - Clear the index
	mcpServer.AddTool(mcp.NewTool("clear_index",
		mcp.WithDescription("Clear the search index"),
	), s.handleClearIndex)
}

// Tool handlers

func (s *Server) handleIndexDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	force := req.GetBool("force", false)

	slog.Info("starting indexing", "force", force)

	indexer := index.New(index.Config{
		ProjectDir: s.projectDir,
		Config:     s.config,
		Store:      s.store,
		OnProgress: func(p types.IndexProgress) {
			slog.Debug("progress", "phase", p.Phase, "files", p.ProcessedFiles)
		},
	})

	if err := indexer.Index(ctx, force); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("indexing failed: %v", err)), nil
	}

	files, err := s.store.IndexedFiles(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list files: %v", err)), nil
	}
	chunks, err := s.store.ChunkCount(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to count chunks: %v", err)), nil
	}

	result := map[string]any{
		"success": true,
		"files":   len(files),
		"chunks":  chunks,
	}

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleSearchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	topK := req.GetInt("top_k", s.config.Search.TopK)
	minSimilarity := req.GetFloat("min_similarity", s.config.Search.MinSimilarity)
	fileFilters := req.GetStringSlice("file_filters", nil)

	results, err := s.store.Search(ctx, types.RagQuery{
		Query:         query,
		TopK:          topK,
		MinSimilarity: minSimilarity,
		FileFilters:   fileFilters,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	formatted := make([]map[string]any, 0, len(results))
	for _, r := range results {
		formatted = append(formatted, map[string]any{
			"file":        r.Chunk.SourceFile,
			"chunk_index": r.Chunk.ChunkIndex,
			"similarity":  r.Similarity,
			"content":     r.Chunk.Content,
			"metadata":    r.Chunk.Metadata,
		})
	}

	jsonResult, _ := json.MarshalIndent(formatted, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleGetStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files, err := s.store.IndexedFiles(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list files: %v", err)), nil
	}
	chunks, err := s.store.ChunkCount(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to count chunks: %v", err)), nil
	}

	result := map[string]any{
		"indexed_files":      len(files),
		"total_chunks":       chunks,
		"embedding_provider": s.embedding.Name(),
		"embedding_model":    s.config.Embedding.Model,
		"store_provider":     s.config.Store.Provider,
	}

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleDeleteDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	file := req.GetString("file", "")
	if file == "" {
		return mcp.NewToolResultError("file is required"), nil
	}

	if !filepath.IsAbs(file) {
		file = filepath.Join(s.projectDir, file)
	}

	if err := s.store.DeleteFile(ctx, file); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete document: %v", err)), nil
	}

	return mcp.NewToolResultText(`{"success": true, "message": "Document removed"}`), nil
}

func (s *Server) handleClearIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.store.ClearIndex(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to clear index: %v", err)), nil
	}

	return mcp.NewToolResultText(`{"success": true, "message": "Index cleared"}`), nil
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
